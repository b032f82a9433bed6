package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/dcdl/internal/device"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dcdl",
	Short: "Dive computer download tool",
	Long: `Dive computer download tool that provides:

- Discover dive computers over BLE, serial, USB, USB HID, IrDA and Bluetooth
- Download dive logs incrementally, starting after a known fingerprint
- Bridge BLE dive computers to libdivecomputer through Go I/O
- List the dive computer models the native engine supports

Native transports and dive decoding need a build with -tags libdivecomputer.`,
	Version: formatVersion(version),
}

// isQuietExit reports errors that end the program without an error message.
func isQuietExit(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, device.ErrCancelled)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if isQuietExit(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(productsCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("dcdl {{.Version}} (commit %s, built %s)\n", commit, date))
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
