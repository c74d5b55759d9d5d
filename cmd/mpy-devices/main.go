// cmd/mpy-devices/main.go
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version":
			fmt.Println("mpy-devices 0.1.0")
			return
		}
	}

	if len(os.Args) < 2 {
		if err := runTUI(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "list":
		if err := runList(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "list: %v\n", err)
			os.Exit(1)
		}
	case "query":
		os.Exit(runQuery(os.Args[2:]))
	case "history":
		if err := runHistory(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	default:
		if strings.HasPrefix(os.Args[1], "-") {
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n\nRun 'mpy-devices --help' for usage.\n", os.Args[1])
			os.Exit(1)
		}
		// Bare device path or shortcut, query it directly.
		os.Exit(runQuery(os.Args[1:]))
	}
}

func showUsage() {
	fmt.Print(`mpy-devices - MicroPython device checker

Usage:
  mpy-devices                 Launch TUI dashboard
  mpy-devices <device>        Query a device (path, shortcut, or serial number)
  mpy-devices list            List attached serial devices
  mpy-devices query [device]  Query one device, or all when none given
  mpy-devices history         Show recorded query results
  mpy-devices serve           Serve discovery and query over HTTP

Shortcuts:
  a0-a9   -> /dev/ttyACM0-9 (Linux)
  u0-u9   -> /dev/ttyUSB0-9 (Linux)
  c0-c99  -> COM0-99 (Windows)

Common flags (per command):
  -json        JSON output (list, query, history)
  -t <dur>     Query timeout, e.g. 5s (query)
  -tty         Include generic /dev/ttyS* ports (list)
  -v           Verbose error output (query)
  -limit <n>   Max history entries (history)
`)
}
