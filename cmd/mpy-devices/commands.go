// cmd/mpy-devices/commands.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andrewleech/mpy-devices/internal/discovery"
	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/tui"
)

// runTUI launches the interactive dashboard.
func runTUI() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return tui.Run(a.service, a.config.Query.Timeout)
}

// runList prints attached serial devices, one per line, or as JSON.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	includeTty := fs.Bool("tty", false, "include generic /dev/ttyS* ports")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	endpoints, err := a.service.DiscoverDevices(*includeTty)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(endpoints)
	}

	if len(endpoints) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	for _, endpoint := range endpoints {
		parts := []string{endpoint.Path}
		if endpoint.SerialNumber != "" {
			parts = append(parts, endpoint.SerialNumber)
		}
		if endpoint.VIDPID() != "" {
			parts = append(parts, endpoint.VIDPID())
		}
		if endpoint.Manufacturer != "" {
			parts = append(parts, endpoint.Manufacturer)
		}
		if endpoint.Product != "" {
			parts = append(parts, endpoint.Product)
		}
		if board := a.lastKnownBoard(endpoint); board != "" {
			parts = append(parts, fmt.Sprintf("[%s]", board))
		}
		fmt.Println(strings.Join(parts, " "))
	}
	return nil
}

// runQuery queries one device (matcher given) or all discovered
// devices, and returns the process exit code.
func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	timeout := fs.Duration("t", 0, "query timeout (default from config)")
	verbose := fs.Bool("v", false, "show detailed error messages")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "query: %v\n", err)
		return 1
	}

	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "query: %v\n", err)
		return 1
	}
	defer a.close()

	queryTimeout := a.config.Query.Timeout
	if *timeout > 0 {
		queryTimeout = *timeout
	}

	ctx := context.Background()

	if matcher := fs.Arg(0); matcher != "" {
		return queryOne(ctx, a, matcher, queryTimeout, *jsonOut, *verbose)
	}
	return queryEverything(ctx, a, queryTimeout, *jsonOut, *verbose)
}

func queryOne(ctx context.Context, a *app, matcher string, timeout time.Duration, jsonOut, verbose bool) int {
	endpoint, err := a.service.FindDevice(matcher)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "query: %v\n", err)
			return 1
		}
		// Not enumerated, but the path may still be accessible.
		endpoint = model.DeviceEndpoint{Path: discovery.ResolveShortcut(matcher)}
		endpoint.ByIDPath = discovery.ResolveByIDPath(endpoint.Path)
	}

	result := a.service.QueryDevice(ctx, endpoint, timeout)

	if jsonOut {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "query: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("Querying: %s\n", endpoint.Path)
		printResult(result, verbose)
	}

	if !result.OK() {
		return 1
	}
	return 0
}

// queryEverything queries every discovered device, then retries the
// failures once. The core stays single-attempt per call; the retry is
// a fresh open-query-close cycle.
func queryEverything(ctx context.Context, a *app, timeout time.Duration, jsonOut, verbose bool) int {
	endpoints, err := a.service.DiscoverDevices(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query: %v\n", err)
		return 1
	}

	if len(endpoints) == 0 {
		if jsonOut {
			if err := printJSON([]model.QueryResult{}); err != nil {
				fmt.Fprintf(os.Stderr, "query: %v\n", err)
				return 1
			}
		} else {
			fmt.Println("No MicroPython devices found")
		}
		return 0
	}

	if !jsonOut {
		fmt.Printf("Found %d device(s)\n\n", len(endpoints))
	}

	results := a.service.QueryAll(ctx, endpoints, timeout)

	var failed []model.DeviceEndpoint
	for _, result := range results {
		if !result.OK() {
			failed = append(failed, result.Endpoint)
		}
	}

	if len(failed) > 0 {
		if !jsonOut {
			for _, result := range results {
				printResultWithHeader(result, verbose)
			}
			fmt.Printf("=== Retrying %d failed device(s) ===\n\n", len(failed))
		}
		retried := a.service.QueryAll(ctx, failed, timeout)

		byPath := make(map[string]model.QueryResult, len(retried))
		for _, result := range retried {
			byPath[result.Endpoint.Path] = result
		}
		stillFailed := 0
		for i, result := range results {
			if retry, ok := byPath[result.Endpoint.Path]; ok && !result.OK() {
				results[i] = retry
				if !retry.OK() {
					stillFailed++
				}
				if !jsonOut {
					printResultWithHeader(retry, verbose)
				}
			}
		}

		if jsonOut {
			if err := printJSON(results); err != nil {
				fmt.Fprintf(os.Stderr, "query: %v\n", err)
				return 1
			}
		} else if stillFailed > 0 {
			fmt.Printf("%d device(s) still failed after retry\n", stillFailed)
		} else {
			fmt.Println("All devices succeeded on retry")
		}

		if stillFailed > 0 {
			return 1
		}
		return 0
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "query: %v\n", err)
			return 1
		}
	} else {
		for _, result := range results {
			printResultWithHeader(result, verbose)
		}
	}
	return 0
}

// runHistory prints recorded query results.
func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "JSON output")
	limit := fs.Int("limit", 50, "max entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.history == nil {
		return fmt.Errorf("history store is disabled (history.enabled=false)")
	}

	entries, err := a.history.Recent(context.Background(), *limit)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No recorded queries")
		return nil
	}

	for _, entry := range entries {
		status := "ok"
		if entry.ErrorKind != "" {
			status = entry.ErrorKind
		}
		board := ""
		if entry.Identity != nil && entry.Identity.Machine != nil {
			board = *entry.Identity.Machine
		}
		fmt.Printf("%s  %-20s %-10s %s\n",
			entry.QueriedAt.Local().Format("2006-01-02 15:04:05"),
			entry.Path, status, board)
	}
	return nil
}

func printResultWithHeader(result model.QueryResult, verbose bool) {
	printEndpoint(result.Endpoint)
	printResult(result, verbose)
}

func printResult(result model.QueryResult, verbose bool) {
	if result.OK() {
		printIdentity(result.Identity)
		return
	}
	fmt.Println("  Failed to query MicroPython version")
	if verbose {
		fmt.Printf("  Error: %v\n", result.Failure)
	} else {
		fmt.Printf("  Error: %s\n", result.Failure.Kind)
	}
	fmt.Println()
}

func printEndpoint(endpoint model.DeviceEndpoint) {
	fmt.Printf("  TTY Path:    %s\n", endpoint.Path)
	if endpoint.ByIDPath != "" {
		fmt.Printf("  By-ID Path:  %s\n", endpoint.ByIDPath)
	}
	if endpoint.VIDPID() != "" {
		fmt.Printf("  VID:PID:     %s\n", endpoint.VIDPID())
	}
	if endpoint.SerialNumber != "" {
		fmt.Printf("  Device ID:   %s\n", endpoint.SerialNumber)
	}
}

func printIdentity(identity *model.DeviceIdentity) {
	show := func(label string, value *string) {
		if value != nil {
			fmt.Printf("  %-12s %s\n", label+":", *value)
		}
	}
	show("Machine", identity.Machine)
	show("System", identity.System)
	show("Release", identity.Release)
	show("Version", identity.Version)
	fmt.Println()
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
