package device

import (
	"context"
	"strings"
)

// Property is the GATT characteristic property bit set, reduced to the bits
// the bridge cares about.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Has reports whether any of the flags in f are set.
func (p Property) Has(f Property) bool {
	return p&f != 0
}

func (p Property) String() string {
	var names []string
	if p.Has(PropRead) {
		names = append(names, "read")
	}
	if p.Has(PropWriteWithoutResponse) {
		names = append(names, "write-without-response")
	}
	if p.Has(PropWrite) {
		names = append(names, "write")
	}
	if p.Has(PropNotify) {
		names = append(names, "notify")
	}
	if p.Has(PropIndicate) {
		names = append(names, "indicate")
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated list as produced by Property.String.
// Unknown names are ignored.
func ParseProperties(s string) Property {
	var p Property
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "read":
			p |= PropRead
		case "write-without-response", "writenr", "write_nr":
			p |= PropWriteWithoutResponse
		case "write":
			p |= PropWrite
		case "notify":
			p |= PropNotify
		case "indicate":
			p |= PropIndicate
		}
	}
	return p
}

// Advertisement is one advertising report seen while scanning.
type Advertisement interface {
	LocalName() string
	Services() []string
	RSSI() int
	Addr() string
	Connectable() bool
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Properties() Property
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Central is the radio side used to discover and dial peripherals.
type Central interface {
	// Scan blocks, delivering advertisements to handler until ctx is done.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	// Dial connects to address and discovers its full GATT profile.
	Dial(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is one live connection. Implementations need not be safe for
// concurrent use; the bridge serializes every call.
type Peripheral interface {
	Address() string
	Name() string
	Services() []Service

	// Subscribe enables notifications (or indications when the characteristic
	// only supports those) and delivers each payload to handler.
	Subscribe(c Characteristic, handler func([]byte)) error
	Unsubscribe(c Characteristic) error
	WriteWithoutResponse(c Characteristic, data []byte) error
	ReadCharacteristic(c Characteristic) ([]byte, error)

	Disconnect() error
	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
}

// CentralFactory creates the platform central. Overridden in tests.
type CentralFactory func() (Central, error)
