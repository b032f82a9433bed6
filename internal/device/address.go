package device

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

type usbID struct {
	vid, pid uint16
}

var usbNames = map[usbID]string{
	{0x1493, 0x0030}: "Suunto EON Steel",
	{0x1493, 0x0031}: "Suunto EON Core",
	{0x2E6A, 0x0005}: "Uwatec Smart",
	{0x2E6A, 0x0003}: "Shearwater Petrel/Perdix",
	{0x0403, 0x6001}: "FTDI-based Dive Computer",
	{0x0403, 0x6015}: "Atomic Aquatics Cobalt",
}

// USBDeviceName returns a friendly name for well-known dive computer USB ids.
func USBDeviceName(vid, pid uint16) (string, bool) {
	name, ok := usbNames[usbID{vid, pid}]
	return name, ok
}

// FormatBluetoothAddress renders the low 48 bits as XX:XX:XX:XX:XX:XX.
func FormatBluetoothAddress(address uint64) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		(address>>40)&0xFF,
		(address>>32)&0xFF,
		(address>>24)&0xFF,
		(address>>16)&0xFF,
		(address>>8)&0xFF,
		address&0xFF,
	)
}

// ParseMAC converts "AA:BB:CC:DD:EE:FF" (or '-' separated) to its 48-bit value.
func ParseMAC(mac string) (uint64, error) {
	parts := strings.FieldsFunc(mac, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return 0, fmt.Errorf("%w: invalid MAC address %q", ErrInvalidArguments, mac)
	}

	var address uint64
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid MAC address %q", ErrInvalidArguments, mac)
		}
		address |= b << (40 - uint(i)*8)
	}
	return address, nil
}

// ParsePeripheralAddress understands the identifiers radio stacks hand out:
// a plain MAC, or the BlueZ object form "hci0/dev_XX_XX_XX_XX_XX_XX".
// Platforms that expose opaque identifiers (CoreBluetooth UUIDs) yield 0 and ok=false.
func ParsePeripheralAddress(id string) (uint64, bool) {
	if idx := strings.Index(id, "/dev_"); idx >= 0 {
		id = strings.ReplaceAll(id[idx+len("/dev_"):], "_", ":")
	}
	addr, err := ParseMAC(id)
	if err != nil {
		return 0, false
	}
	return addr, true
}

// ExtractDeviceName returns the last path segment, e.g. "ttyUSB0" for "/dev/ttyUSB0".
func ExtractDeviceName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParseFingerprint decodes a hex fingerprint. An empty string yields nil.
func ParseFingerprint(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fp, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint %q: %v", ErrInvalidArguments, s, err)
	}
	return fp, nil
}

// FormatFingerprint renders a fingerprint as upper-case hex.
func FormatFingerprint(fp []byte) string {
	return strings.ToUpper(hex.EncodeToString(fp))
}
