package device

import (
	"errors"
	"fmt"
	"strings"
)

// Session and transport errors.
var (
	// ErrNoAdapter means no usable radio hardware is present or it is powered off.
	ErrNoAdapter = errors.New("no bluetooth adapter available")
	// ErrNoSuitableService means the connected peripheral exposes none of the
	// catalog services, or the matched service lacks a write or notify channel.
	ErrNoSuitableService = errors.New("no suitable service found")
	// ErrChannelClosed means the bridge control loop is gone.
	ErrChannelClosed = errors.New("bridge channel closed")
	// ErrTimeout is a distinguished status, not a hard failure.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled reports an explicit user or session cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidArguments reports a malformed request payload.
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnsupported      = errors.New("unsupported")
)

// NotFoundError reports a missing resource: a BLE service or characteristic,
// a product or a USB endpoint.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "product", "usb device"
	UUIDs    []string // Identifiers, outermost first (e.g. [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// StatusError carries a raw status code returned by the native engine.
type StatusError struct {
	Code int
	Op   string
}

func (e *StatusError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("native status %d", e.Code)
	}
	return fmt.Sprintf("%s: native status %d", e.Op, e.Code)
}

// Is matches any *StatusError with the same code, so callers can compare
// against a zero-Op template.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// PreferCancelled picks the error to report for one operation when several
// resolve together. A cancellation wins over everything else; otherwise the
// first non-nil error is returned.
func PreferCancelled(errs ...error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, ErrCancelled) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// IsCancelled reports whether err stems from a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known radio error messages to the sentinels above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrNoAdapter, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}
