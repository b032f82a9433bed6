package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/dcdl/internal/bleio"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/pkg/config"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download dives from a dive computer",
	Long: `Connect to a dive computer and download its dive log.

Dives are printed once the download completes. Pass the fingerprint of the
newest dive already stored to download only the dives after it.

The address depends on the transport:
  ble, bluetooth   MAC address (BLE accepts an LE: prefix or a platform id)
  serial           device path, e.g. /dev/ttyUSB0
  usb, usbhid      VID:PID in hex, e.g. 1493:0030
  irda             numeric device address`,
	Example: `  dcdl download --vendor Shearwater --product Perdix --address EB:41:89:AF:7E:5D
  dcdl download -t usbhid --vendor Suunto --product "EON Steel" --address 1493:0030
  dcdl download -t serial --vendor Heinrichs --product "Weikert OSTC 3" --address /dev/ttyUSB0 --fingerprint 5A3B01C2`,
	RunE: runDownload,
}

var (
	downloadTransport   string
	downloadAddress     string
	downloadName        string
	downloadVendor      string
	downloadProduct     string
	downloadFingerprint string
	downloadFormat      string
	downloadVerbose     bool
)

func init() {
	downloadCmd.Flags().StringVarP(&downloadTransport, "transport", "t", "ble", "Transport (ble, serial, usb, usbhid, irda, bluetooth)")
	downloadCmd.Flags().StringVarP(&downloadAddress, "address", "a", "", "Device address, path or VID:PID")
	downloadCmd.Flags().StringVar(&downloadName, "name", "", "Display name of the device")
	downloadCmd.Flags().StringVar(&downloadVendor, "vendor", "", "Dive computer vendor, e.g. Shearwater")
	downloadCmd.Flags().StringVarP(&downloadProduct, "product", "p", "", "Dive computer model, e.g. Perdix")
	downloadCmd.Flags().StringVar(&downloadFingerprint, "fingerprint", "", "Hex fingerprint of the newest dive already downloaded")
	downloadCmd.Flags().StringVarP(&downloadFormat, "format", "f", "", "Output format (table, json)")
	downloadCmd.Flags().BoolVar(&downloadVerbose, "verbose", false, "Enable debug logging")

	_ = downloadCmd.MarkFlagRequired("product")
	_ = downloadCmd.MarkFlagRequired("address")
}

// parseConnection builds the endpoint for transport from the --address value.
func parseConnection(transport device.Transport, address, name string, product libdc.Product) (device.ConnectionInfo, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: --address is required", device.ErrInvalidArguments)
	}

	switch transport {
	case device.TransportBLE:
		// Platform ids (CoreBluetooth UUIDs) carry no numeric address
		addr, _ := device.ParsePeripheralAddress(bleio.StripAddressPrefix(address))
		return device.BLEInfo{
			Address:       addr,
			LocalName:     name,
			ServiceName:   product.String(),
			AddressString: address,
		}, nil

	case device.TransportBluetooth:
		addr, err := device.ParseMAC(address)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = product.String()
		}
		return device.BluetoothInfo{Address: addr, Name: name, AddressString: device.FormatBluetoothAddress(addr)}, nil

	case device.TransportSerial:
		if name == "" {
			name = device.ExtractDeviceName(address)
		}
		return device.SerialInfo{Name: name, Path: address}, nil

	case device.TransportUSB, device.TransportUSBHID:
		vid, pid, err := parseUSBID(address)
		if err != nil {
			return nil, err
		}
		if transport == device.TransportUSB {
			return device.USBInfo{VendorID: vid, ProductID: pid}, nil
		}
		return device.USBHIDInfo{VendorID: vid, ProductID: pid}, nil

	case device.TransportIrDA:
		addr, err := strconv.ParseUint(address, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid IrDA address %q", device.ErrInvalidArguments, address)
		}
		return device.IrDAInfo{Address: uint32(addr), Name: name}, nil
	}
	return nil, fmt.Errorf("%w: cannot download over %s", device.ErrUnsupported, transport)
}

// parseUSBID parses "VID:PID" in hex.
func parseUSBID(s string) (uint16, uint16, error) {
	vidStr, pidStr, ok := strings.Cut(s, ":")
	if ok {
		vid, verr := strconv.ParseUint(vidStr, 16, 16)
		pid, perr := strconv.ParseUint(pidStr, 16, 16)
		if verr == nil && perr == nil {
			return uint16(vid), uint16(pid), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: invalid USB id %q (want VID:PID in hex)", device.ErrInvalidArguments, s)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if downloadFormat != "" {
		format = downloadFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	transport, err := device.ParseTransport(downloadTransport)
	if err != nil {
		return err
	}
	product := libdc.Product{Vendor: downloadVendor, Name: downloadProduct}
	conn, err := parseConnection(transport, downloadAddress, downloadName, product)
	if err != nil {
		return err
	}
	if _, err := device.ParseFingerprint(downloadFingerprint); err != nil {
		return err
	}

	// Arguments are valid; failures from here on are not usage errors
	cmd.SilenceUsage = true

	dc, engine, release, err := newDiveComputer(cfg, logger)
	if err != nil {
		return err
	}
	defer release()
	if err := requireEngine(engine, transport); err != nil {
		return err
	}

	ctx := cmd.Context()
	stopSignals := cancelOnInterrupt(ctx, cmd.ErrOrStderr(), "download", dc.Cancel)
	defer stopSignals()

	it, err := dc.Download(ctx, product, device.NewDeviceInfo(conn), downloadFingerprint)
	if err != nil {
		return err
	}
	defer it.Close()

	printer := statusPrinter(cmd.ErrOrStderr(), dc.State)
	printer.Start()
	dives, err := it.Collect(ctx)
	printer.Stop()

	if info, ok := dc.DevInfo(); ok {
		logger.WithFields(logrus.Fields{
			"model":    info.Model,
			"firmware": info.Firmware,
			"serial":   info.Serial,
		}).Info("Dive computer identified")
	}

	if len(dives) > 0 || err == nil {
		if werr := writeDives(cmd.OutOrStdout(), format, dives); werr != nil && err == nil {
			err = werr
		}
	}
	if err == nil && len(dives) > 0 && format == config.FormatTable {
		// Dives arrive newest first
		fmt.Fprintf(cmd.ErrOrStderr(), "\nNewest fingerprint: %s (pass --fingerprint to skip these next time)\n",
			device.FormatFingerprint(dives[0].Fingerprint))
	}
	return err
}
