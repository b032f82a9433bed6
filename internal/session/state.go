package session

import (
	"fmt"

	"github.com/srg/dcdl/internal/device"
)

// Kind tags the variant held by a State.
type Kind int

const (
	KindIdle Kind = iota
	KindWaitingForUser
	KindScanning
	KindConnecting
	KindDownloading
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindWaitingForUser:
		return "waiting_for_user"
	case KindScanning:
		return "scanning"
	case KindConnecting:
		return "connecting"
	case KindDownloading:
		return "downloading"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Progress is the engine's download progress in engine units.
type Progress struct {
	Current uint32 `json:"current"`
	Total   uint32 `json:"total"`
}

// Percent returns the completed share in [0, 100]; 0 while the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return min(100*float64(p.Current)/float64(p.Total), 100)
}

// State is a snapshot of the session. Only the fields of its Kind are set.
type State struct {
	Kind Kind `json:"kind"`

	// Scanning
	Transport device.Transport `json:"transport,omitempty"`
	// Connecting, Downloading
	Device *device.DeviceInfo `json:"device,omitempty"`
	// Downloading
	Progress    Progress `json:"progress"`
	CurrentTask string   `json:"current_task,omitempty"`
	// Error
	Message string `json:"message,omitempty"`
}

func Idle() State           { return State{Kind: KindIdle} }
func WaitingForUser() State { return State{Kind: KindWaitingForUser} }

func Scanning(t device.Transport) State {
	return State{Kind: KindScanning, Transport: t}
}

func Connecting(d device.DeviceInfo) State {
	return State{Kind: KindConnecting, Device: &d}
}

func Downloading(d device.DeviceInfo, p Progress, task string) State {
	return State{Kind: KindDownloading, Device: &d, Progress: p, CurrentTask: task}
}

func Failed(msg string) State {
	return State{Kind: KindError, Message: msg}
}

// IsBusy reports whether an operation is in flight.
func (s State) IsBusy() bool {
	switch s.Kind {
	case KindScanning, KindConnecting, KindDownloading, KindWaitingForUser:
		return true
	}
	return false
}

func (s State) deviceName() string {
	if s.Device == nil {
		return "device"
	}
	return s.Device.Name
}

func (s State) String() string {
	switch s.Kind {
	case KindIdle:
		return "Idle"
	case KindWaitingForUser:
		return "Waiting for user input"
	case KindScanning:
		return fmt.Sprintf("Scanning for %s devices", s.Transport)
	case KindConnecting:
		return fmt.Sprintf("Connecting to %s", s.deviceName())
	case KindDownloading:
		return fmt.Sprintf("Downloading dives from %s: %.1f%%", s.deviceName(), s.Progress.Percent())
	case KindError:
		return fmt.Sprintf("Dive computer failed: %s", s.Message)
	}
	return s.Kind.String()
}
