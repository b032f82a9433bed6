package libdc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srg/dcdl/internal/device"
)

// ErrIteratorDone is returned by DeviceIterator.Next once enumeration is exhausted.
var ErrIteratorDone = errors.New("iterator done")

// EventType is the native event mask.
type EventType uint32

const (
	EventWaiting EventType = 1 << iota
	EventProgress
	EventDevInfo
	EventClock
	EventVendor

	EventAll = EventWaiting | EventProgress | EventDevInfo | EventClock | EventVendor
)

func (e EventType) String() string {
	switch e {
	case EventWaiting:
		return "waiting"
	case EventProgress:
		return "progress"
	case EventDevInfo:
		return "devinfo"
	case EventClock:
		return "clock"
	case EventVendor:
		return "vendor"
	}
	return fmt.Sprintf("event(%d)", uint32(e))
}

type ProgressEvent struct {
	Current uint32
	Maximum uint32
}

type DevInfoEvent struct {
	Model    uint32
	Firmware uint32
	Serial   uint32
}

type ClockEvent struct {
	DevTime uint32
	SysTime int64
}

// Event is one callback from the engine. Exactly one payload matching Type is set.
type Event struct {
	Type     EventType
	Progress *ProgressEvent
	DevInfo  *DevInfoEvent
	Clock    *ClockEvent
	Vendor   []byte
}

type (
	// EventFunc receives engine events on the engine's worker.
	EventFunc func(Event)
	// CancelFunc is polled by the engine; returning true aborts the operation.
	CancelFunc func() bool
	// DiveFunc receives one raw dive; returning false stops enumeration.
	DiveFunc func(data, fingerprint []byte) bool
)

// Product identifies a dive computer model in the engine's descriptor table.
type Product struct {
	Vendor     string           `json:"vendor" yaml:"vendor"`
	Name       string           `json:"name" yaml:"name"`
	Model      uint32           `json:"model" yaml:"model"`
	Family     uint32           `json:"family" yaml:"family"`
	Transports device.Transport `json:"transports" yaml:"transports"`
}

func (p Product) String() string {
	if p.Vendor == "" {
		return p.Name
	}
	return p.Vendor + " " + p.Name
}

// Dive is the summary the parser extracts from one raw dive.
type Dive struct {
	Number      int           `json:"number"`
	Fingerprint []byte        `json:"fingerprint"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	MaxDepth    float64       `json:"max_depth"`
	AvgDepth    float64       `json:"avg_depth,omitempty"`
	Raw         []byte        `json:"-"`
}

// Device is an open engine device handle.
type Device interface {
	SetEvents(mask EventType, fn EventFunc) error
	SetCancel(fn CancelFunc) error
	SetFingerprint(fp []byte) error
	// Foreach blocks the calling goroutine until every dive was delivered,
	// fn returned false, or the cancel callback fired.
	Foreach(fn DiveFunc) error
	// Parse decodes one raw dive as delivered to Foreach.
	Parse(data, fingerprint []byte) (*Dive, error)
	Close() error
}

// DeviceIterator enumerates endpoints of one transport. Close releases every
// native handle still held and is safe to call at any point.
type DeviceIterator interface {
	Next() (device.ConnectionInfo, error)
	Close() error
}

// Engine is the native decoding engine.
type Engine interface {
	// Open opens product over conn. When io is non-nil the engine drives the
	// transport through it and closes it with the device; otherwise it opens
	// conn with its own drivers. On error the caller still owns io.
	Open(ctx context.Context, product Product, conn device.ConnectionInfo, io CustomIO) (Device, error)
	// Iterate starts enumeration of transport's endpoints.
	Iterate(ctx context.Context, transport device.Transport) (DeviceIterator, error)
	// Transports reports which transports the engine was built with.
	Transports() device.Transport
	Close() error
}
