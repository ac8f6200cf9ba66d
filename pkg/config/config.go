// Package config loads pmux's YAML configuration file and persists its
// daemon state, the way the teacher's pkg/config package did for routes
// -- only here there is one listener to configure, not a list of
// per-service routes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the contents of pmux.yaml.
type Config struct {
	// Listen is the address the demultiplexer binds, e.g. "127.0.0.1:1080".
	Listen string `yaml:"listen"`
	// DialTimeout bounds how long the connector waits to reach a target.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// LogFile is read from pmux.yaml but not used: the detached daemon
	// always writes its logs to pmux.log in the config directory.
	LogFile string `yaml:"log_file"`
}

// Default returns the configuration used when no pmux.yaml is found.
func Default() Config {
	return Config{
		Listen:      "127.0.0.1:1080",
		DialTimeout: 10 * time.Second,
	}
}

// Load reads pmux.yaml from dir, returning Default() if the file
// doesn't exist.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, "pmux.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
