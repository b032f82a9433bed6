package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/pkg/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// validateFormat rejects anything but table and json.
func validateFormat(format string) error {
	switch format {
	case config.FormatTable, config.FormatJSON:
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [%s %s]", format, config.FormatTable, config.FormatJSON)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	encoder := jsonAPI.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// endpoint renders where a device can be reached.
func endpoint(info device.DeviceInfo) string {
	switch c := info.Connection.(type) {
	case device.USBInfo:
		return fmt.Sprintf("%04X:%04X", c.VendorID, c.ProductID)
	case device.USBHIDInfo:
		return fmt.Sprintf("%04X:%04X", c.VendorID, c.ProductID)
	case nil:
		return ""
	default:
		return c.ConnectionString()
	}
}

func details(info device.DeviceInfo) string {
	switch c := info.Connection.(type) {
	case device.BLEInfo:
		return c.ServiceName
	case device.SerialInfo:
		return c.Name
	case device.BluetoothInfo:
		return c.Name
	case device.IrDAInfo:
		return c.Name
	}
	return ""
}

func writeDevices(w io.Writer, format string, devices []device.DeviceInfo) error {
	if format == config.FormatJSON {
		if devices == nil {
			devices = []device.DeviceInfo{}
		}
		return writeJSON(w, devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "No dive computers found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTRANSPORT\tADDRESS\tDETAILS")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Transport, endpoint(d), details(d))
	}
	return tw.Flush()
}

// diveView is the printed form of a dive: hex fingerprint, seconds.
type diveView struct {
	Number      int       `json:"number"`
	Fingerprint string    `json:"fingerprint"`
	Start       time.Time `json:"start"`
	DurationSec int64     `json:"duration_s"`
	MaxDepth    float64   `json:"max_depth_m"`
	AvgDepth    float64   `json:"avg_depth_m,omitempty"`
}

func newDiveView(d libdc.Dive) diveView {
	return diveView{
		Number:      d.Number,
		Fingerprint: device.FormatFingerprint(d.Fingerprint),
		Start:       d.Start,
		DurationSec: int64(d.Duration / time.Second),
		MaxDepth:    d.MaxDepth,
		AvgDepth:    d.AvgDepth,
	}
}

func writeDives(w io.Writer, format string, dives []libdc.Dive) error {
	views := make([]diveView, 0, len(dives))
	for _, d := range dives {
		views = append(views, newDiveView(d))
	}
	if format == config.FormatJSON {
		return writeJSON(w, views)
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No new dives.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tDURATION\tMAX DEPTH\tAVG DEPTH\tFINGERPRINT")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, v := range views {
		avg := "-"
		if v.AvgDepth > 0 {
			avg = fmt.Sprintf("%.1f m", v.AvgDepth)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f m\t%s\t%s\n",
			v.Number,
			v.Start.Format("2006-01-02 15:04"),
			time.Duration(v.DurationSec)*time.Second,
			v.MaxDepth,
			avg,
			v.Fingerprint,
		)
	}
	return tw.Flush()
}

func writeProducts(w io.Writer, format string, products []libdc.Product) error {
	if format == config.FormatJSON {
		if products == nil {
			products = []libdc.Product{}
		}
		return writeJSON(w, products)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tPRODUCT\tFAMILY\tMODEL\tTRANSPORTS")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t0x%08X\t0x%X\t%s\n", p.Vendor, p.Name, p.Family, p.Model, p.Transports)
	}
	return tw.Flush()
}
