// Package platform resolves the per-OS config directory pmux uses for
// its config file and daemon state.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

type Platform string

const (
	PlatformDarwin Platform = "darwin"
	PlatformLinux  Platform = "linux"
)

// Paths locates the files pmux reads and writes on this host.
type Paths struct {
	ConfigDir  string
	ConfigFile string
	StateFile  string
}

func Detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformDarwin
	case "linux":
		return PlatformLinux
	default:
		panic("unsupported platform: " + runtime.GOOS)
	}
}

func GetPaths(p Platform) Paths {
	configDir := filepath.Join(os.Getenv("HOME"), ".config", "pmux")

	return Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "pmux.yaml"),
		StateFile:  filepath.Join(configDir, "state.json"),
	}
}
