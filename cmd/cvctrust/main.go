// Command cvctrust is a thin operator CLI over the trustcenter package:
// initialize a trust center from a directory tree, admit a single CVC
// file, resolve its import chain, and print its human-readable report.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/openhealthpki/cvctrust/cvc"
	"github.com/openhealthpki/cvctrust/trustcenter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var exitCode int
	switch cmd {
	case "init":
		exitCode = runInit(args)
	case "add":
		exitCode = runAdd(args)
	case "chain":
		exitCode = runChain(args)
	case "report":
		exitCode = runReport(args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		printUsage()
		exitCode = 2
	}

	os.Exit(exitCode)
}

// resolveDataDir implements --data-dir flag > CVCTRUST_DATA_DIR env >
// "./trust-center".
func resolveDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envVal := os.Getenv("CVCTRUST_DATA_DIR"); envVal != "" {
		return envVal
	}
	return "./trust-center"
}

// runInit handles "cvctrust init": build the trust center's caches from a
// directory tree and print a summary.
func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir := fs.String("data-dir", "", "trust center root directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	dir := resolveDataDir(*dataDir)
	var tc trustcenter.TrustCenter
	if err := tc.InitializeCache(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	stats := tc.Stats()
	fmt.Println("Trust center initialized successfully.")
	fmt.Printf("  Root:      %s\n", dir)
	fmt.Printf("  Trusted:   %d\n", stats.Trusted)
	fmt.Printf("  Untrusted: %d\n", stats.Untrusted)

	return 0
}

// runAdd handles "cvctrust add": admit a single CVC file against an
// already-initialized trust center.
func runAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir := fs.String("data-dir", "", "trust center root directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(os.Stderr, "Error: CVC file path is required")
		return 2
	}

	c, err := readCvc(remaining[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dir := resolveDataDir(*dataDir)
	var tc trustcenter.TrustCenter
	tc.Logger = quietLogger()
	if err := tc.InitializeCache(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if !tc.Add(c) {
		fmt.Println("CVC rejected: admission policy did not admit it.")
		return 1
	}

	fmt.Println("CVC admitted successfully.")
	fmt.Printf("  CHR: %s\n", c.CHR().String())
	fmt.Printf("  CAR: %s\n", c.CAR().String())
	return 0
}

// runChain handles "cvctrust chain": resolve and print the import chain
// of a CVC file against the already-initialized trust center.
func runChain(args []string) int {
	fs := flag.NewFlagSet("chain", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dataDir := fs.String("data-dir", "", "trust center root directory")
	rootCar := fs.String("root-car", "", "CAR of the target self-signed root (optional)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(os.Stderr, "Error: CVC file path is required")
		return 2
	}

	c, err := readCvc(remaining[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dir := resolveDataDir(*dataDir)
	var tc trustcenter.TrustCenter
	tc.Logger = quietLogger()
	if err := tc.InitializeCache(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	chain, err := tc.Chain(c, *rootCar)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Println("Import chain (leaf to root, exclusive):")
	for _, link := range chain {
		fmt.Printf("  %s\n", link.CHR().String())
	}
	return 0
}

// runReport handles "cvctrust report": print a CVC file's human-readable
// report without consulting any trust center state.
func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(os.Stderr, "Error: CVC file path is required")
		return 2
	}

	c, err := readCvc(remaining[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Print(c.Report().String())
	return 0
}

func readCvc(path string) (*cvc.Cvc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c, err := cvc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c, nil
}

// quietLogger suppresses the structured diagnostics InitializeCache would
// otherwise emit to the global logger, so CLI output stays limited to the
// command's own report.
func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: cvctrust <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  init     Initialize the trust center from a directory tree")
	fmt.Fprintln(os.Stderr, "  add      Admit a single CVC file into an initialized trust center")
	fmt.Fprintln(os.Stderr, "  chain    Resolve a CVC's import chain")
	fmt.Fprintln(os.Stderr, "  report   Print a CVC file's human-readable report")
}
