package device

import (
	"fmt"
	"strings"
)

// Transport is a bit flag naming one physical link. Values match the native
// engine's transport mask so sets of transports can be passed through as-is.
type Transport uint32

const (
	TransportNone      Transport = 0
	TransportSerial    Transport = 1 << 0
	TransportUSB       Transport = 1 << 1
	TransportUSBHID    Transport = 1 << 2
	TransportIrDA      Transport = 1 << 3
	TransportBluetooth Transport = 1 << 4
	TransportBLE       Transport = 1 << 5
)

var allTransports = []Transport{
	TransportSerial,
	TransportUSB,
	TransportUSBHID,
	TransportIrDA,
	TransportBluetooth,
	TransportBLE,
}

func (t Transport) String() string {
	switch t {
	case TransportNone:
		return "None"
	case TransportSerial:
		return "Serial"
	case TransportUSB:
		return "USB"
	case TransportUSBHID:
		return "USB HID"
	case TransportIrDA:
		return "IrDA"
	case TransportBluetooth:
		return "Bluetooth"
	case TransportBLE:
		return "BLE"
	}

	names := make([]string, 0, len(allTransports))
	for _, tr := range t.List() {
		names = append(names, tr.String())
	}
	if len(names) == 0 {
		return fmt.Sprintf("Transport(%d)", uint32(t))
	}
	return strings.Join(names, "|")
}

// Has reports whether every flag in other is set in t.
func (t Transport) Has(other Transport) bool {
	return other != TransportNone && t&other == other
}

// List splits a transport mask into its individual flags, lowest bit first.
func (t Transport) List() []Transport {
	var out []Transport
	for _, tr := range allTransports {
		if t&tr != 0 {
			out = append(out, tr)
		}
	}
	return out
}

// ParseTransport accepts the names produced by String (case-insensitive) and a
// few common aliases.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serial":
		return TransportSerial, nil
	case "usb":
		return TransportUSB, nil
	case "usbhid", "usb-hid", "usb hid", "hid":
		return TransportUSBHID, nil
	case "irda":
		return TransportIrDA, nil
	case "bluetooth", "bt", "rfcomm":
		return TransportBluetooth, nil
	case "ble", "le", "bluetooth-le":
		return TransportBLE, nil
	}
	return TransportNone, fmt.Errorf("%w: unknown transport %q", ErrInvalidArguments, s)
}

// MarshalText renders the transport name so JSON and YAML carry "BLE" instead of 32.
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Transport) UnmarshalText(text []byte) error {
	parsed, err := ParseTransport(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
