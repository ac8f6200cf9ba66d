package main

import (
	"fmt"
	"os"

	"github.com/logscore/pmux/cmd"
)

const usage = `pmux - SOCKS5 / HTTP CONNECT multiplexing proxy

Usage:
  pmux start [flags]      Start the proxy daemon
  pmux stop               Stop the proxy daemon
  pmux restart [flags]    Restart the proxy daemon
  pmux status             Show daemon status
  pmux logs [-a] [-w]     View daemon logs

Start/restart flags:
  -d, --detach         Run in the background (default)
  --no-detach          Run in the foreground
  --listen <addr>      Listen address (default: 127.0.0.1:1080)

Logs flags:
  -a, --all            Print the full log file
  -w, --watch          Keep tailing after printing`

func main() {
	args := os.Args[1:]

	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(0)
	}

	var err error

	switch args[0] {
	case "start":
		err = startCommand(args[1:])
	case "stop":
		err = cmd.Stop()
	case "restart":
		err = restartCommand(args[1:])
	case "status":
		err = cmd.Status()
	case "logs":
		printAll, watch := false, false
		for _, a := range args[1:] {
			switch a {
			case "-a", "--all":
				printAll = true
			case "-w", "--watch":
				watch = true
			}
		}
		err = cmd.Logs(printAll, watch)
	case "help", "--help", "-h":
		fmt.Println(usage)
		os.Exit(0)
	default:
		die("unknown command: " + args[0] + "\n\n" + usage)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startCommand(args []string) error {
	opts := parseDaemonFlags(args, true)
	if !opts.Detach {
		return cmd.Run(opts)
	}
	return cmd.Start(opts)
}

func restartCommand(args []string) error {
	opts := parseDaemonFlags(args, true)
	return cmd.Restart(opts)
}

func parseDaemonFlags(args []string, detachDefault bool) cmd.Options {
	opts := cmd.Options{Detach: detachDefault}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-d", "--detach":
			opts.Detach = true
		case "--no-detach":
			opts.Detach = false
		case "--listen":
			if i+1 >= len(args) {
				die("--listen requires a value")
			}
			i++
			opts.Listen = args[i]
		default:
			die("unexpected argument: " + args[i])
		}
	}

	return opts
}

func die(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
