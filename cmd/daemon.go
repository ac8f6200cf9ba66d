// Package cmd implements pmux's daemon lifecycle commands: start, stop,
// restart, status, logs -- the same shape as the teacher's
// cmd/proxy.go, retargeted at the demux listener instead of the
// HTTP/HTTPS/DNS triad.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/logscore/pmux/internal/connector"
	"github.com/logscore/pmux/internal/demux"
	"github.com/logscore/pmux/internal/platform"
	"github.com/logscore/pmux/pkg/config"
)

const (
	startRetries       = 20
	startRetryInterval = 100 * time.Millisecond
)

// Options configures the daemon's listen address and detach behavior.
type Options struct {
	Listen string
	Detach bool
}

func paths() (platform.Platform, platform.Paths) {
	p := platform.Detect()
	return p, platform.GetPaths(p)
}

// Start launches pmux as a background daemon by re-execing itself with
// --no-detach, the way the teacher's proxyStartDaemon does.
func Start(opts Options) error {
	_, paths := paths()
	store := config.NewStore(paths.StateFile)

	if store.IsRunning() {
		fmt.Println("pmux is already running")
		return nil
	}

	return startDaemon(opts, paths)
}

func startDaemon(opts Options, paths platform.Paths) error {
	if err := os.MkdirAll(paths.ConfigDir, 0755); err != nil {
		return err
	}

	logPath := filepath.Join(paths.ConfigDir, "pmux.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"start", "--no-detach"}
	if opts.Listen != "" {
		args = append(args, "--listen", opts.Listen)
	}

	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pmux: %w", err)
	}
	return nil
}

// Run runs the demux server in the foreground: used by the detached
// child process, or directly when --no-detach is passed.
func Run(opts Options) error {
	_, paths := paths()
	if err := os.MkdirAll(paths.ConfigDir, 0755); err != nil {
		return err
	}

	cfg, err := config.Load(paths.ConfigDir)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	resolver := connector.NewResolver()
	direct := connector.NewDirectConnector(cfg.DialTimeout, resolver)

	srv := &demux.Server{
		Addr:      cfg.Listen,
		Connector: direct,
	}
	if err := srv.Bind(); err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Listen, err)
	}

	store := config.NewStore(paths.StateFile)
	if err := store.WriteState(config.State{
		PID:     os.Getpid(),
		Listen:  srv.ListenAddr().String(),
		Started: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to write daemon state: %w", err)
	}
	defer store.RemoveState()

	fmt.Printf("pmux listening on %s\n", srv.ListenAddr())

	return srv.Run(context.Background())
}

// Stop signals the running daemon to exit.
func Stop() error {
	_, paths := paths()
	store := config.NewStore(paths.StateFile)

	state := store.ReadState()
	if state == nil {
		fmt.Println("pmux is not running")
		return nil
	}

	proc, err := os.FindProcess(state.PID)
	if err != nil {
		store.RemoveState()
		return fmt.Errorf("process not found: %w", err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		store.RemoveState()
		return fmt.Errorf("failed to stop pmux: %w", err)
	}

	store.RemoveState()
	fmt.Println("pmux stopped")
	return nil
}

// Restart stops the running daemon, if any, then starts a new one.
func Restart(opts Options) error {
	_, paths := paths()
	store := config.NewStore(paths.StateFile)

	if store.IsRunning() {
		if err := Stop(); err != nil {
			return fmt.Errorf("failed to stop pmux: %w", err)
		}
		for range startRetries {
			time.Sleep(startRetryInterval)
			if !store.IsRunning() {
				break
			}
		}
	}

	if !opts.Detach {
		return Run(opts)
	}

	if err := startDaemon(opts, paths); err != nil {
		return err
	}
	for range startRetries {
		time.Sleep(startRetryInterval)
		if store.IsRunning() {
			break
		}
	}
	if !store.IsRunning() {
		return fmt.Errorf("pmux failed to start after restart")
	}
	fmt.Println("pmux restarted")
	return nil
}

// Status prints whether the daemon is running and where it's listening.
func Status() error {
	_, paths := paths()
	store := config.NewStore(paths.StateFile)

	state := store.ReadState()
	running := store.IsRunning()

	fmt.Println()
	if running && state != nil {
		fmt.Printf("  pmux      running (pid %d)\n", state.PID)
		fmt.Printf("  listen    %s\n", state.Listen)
		fmt.Printf("  uptime    %s\n", time.Since(state.Started).Round(time.Second))
	} else {
		fmt.Printf("  pmux      not running\n")
	}

	logPath := filepath.Join(paths.ConfigDir, "pmux.log")
	if _, err := os.Stat(logPath); err == nil {
		fmt.Printf("  logs      %s\n", logPath)
	}
	fmt.Println()
	return nil
}

// Logs prints the last 20 lines of the daemon log, all lines with
// printAll, or tails the log live with watch.
func Logs(printAll bool, watch bool) error {
	_, paths := paths()
	logPath := filepath.Join(paths.ConfigDir, "pmux.log")

	data, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Errorf("no log file found (is pmux running?)")
	}

	content := string(data)
	if printAll {
		fmt.Print(content)
		if !watch {
			return nil
		}
	} else {
		lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
		if len(lines) > 20 {
			lines = lines[len(lines)-20:]
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		if !watch {
			return nil
		}
	}

	f, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	for {
		n, err := io.Copy(os.Stdout, f)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
}
