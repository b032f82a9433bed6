package main

import (
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/dcdl/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover dive computers",
	Long: `Discover dive computers on one transport.

BLE discovery reports peripherals advertising a known dive computer service
and stops early once results settle. Serial discovery lists the OS ports.
USB, USB HID, IrDA and Bluetooth discovery use the native engine.`,
	Example: `  dcdl scan
  dcdl scan --transport serial --format json
  dcdl scan --timeout 15s --block EB:41:89:AF:7E:5D`,
	RunE: runScan,
}

var (
	scanTransport string
	scanTimeout   time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanVerbose   bool
)

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scanTransport, "transport", "t", "ble", "Transport to scan (ble, serial, usb, usbhid, irda, bluetooth)")
	cmd.Flags().DurationVarP(&scanTimeout, "timeout", "d", 0, "BLE scan budget (default from config, 5s)")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	cmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only report BLE devices with these addresses")
	cmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide BLE devices with these addresses")
	cmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	transport, err := device.ParseTransport(scanTransport)
	if err != nil {
		return err
	}
	if scanTimeout > 0 {
		cfg.Scan.Budget = scanTimeout
		cfg.Scan.Interval = min(cfg.Scan.Interval, scanTimeout)
	}
	if len(scanAllowList) > 0 {
		cfg.Scan.AllowList = scanAllowList
	}
	if len(scanBlockList) > 0 {
		cfg.Scan.BlockList = scanBlockList
	}

	// Arguments are valid; failures from here on are not usage errors
	cmd.SilenceUsage = true

	dc, _, release, err := newDiveComputer(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx := cmd.Context()
	stopSignals := cancelOnInterrupt(ctx, cmd.ErrOrStderr(), "scan", dc.Cancel)
	defer stopSignals()

	it, err := dc.Scan(ctx, transport)
	if err != nil {
		return err
	}
	defer it.Close()

	printer := statusPrinter(cmd.ErrOrStderr(), dc.State)
	printer.Start()

	var found []device.DeviceInfo
	for {
		info, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			printer.Stop()
			// Report what was found before the scan ended
			if len(found) > 0 {
				_ = writeDevices(cmd.OutOrStdout(), format, found)
			}
			return err
		}
		logger.WithField("device", info.String()).Debug("Dive computer discovered")
		found = append(found, info)
	}
	printer.Stop()

	return writeDevices(cmd.OutOrStdout(), format, found)
}
