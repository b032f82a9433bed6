package libdc

import (
	"errors"
	"fmt"

	"github.com/srg/dcdl/internal/device"
)

// Status mirrors the native engine's dc_status_t.
type Status int

const (
	StatusSuccess     Status = 0
	StatusDone        Status = 1
	StatusUnsupported Status = -1
	StatusInvalidArgs Status = -2
	StatusNoMemory    Status = -3
	StatusNoDevice    Status = -4
	StatusNoAccess    Status = -5
	StatusIO          Status = -6
	StatusTimeout     Status = -7
	StatusProtocol    Status = -8
	StatusDataFormat  Status = -9
	StatusCancelled   Status = -10
)

var statusNames = map[Status]string{
	StatusSuccess:     "success",
	StatusDone:        "done",
	StatusUnsupported: "unsupported",
	StatusInvalidArgs: "invalid arguments",
	StatusNoMemory:    "out of memory",
	StatusNoDevice:    "no device",
	StatusNoAccess:    "access denied",
	StatusIO:          "input/output error",
	StatusTimeout:     "timeout",
	StatusProtocol:    "protocol error",
	StatusDataFormat:  "data format error",
	StatusCancelled:   "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// OK reports whether s is Success or Done.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusDone
}

// Err converts a status to the module error taxonomy. Success and Done map to nil.
func (s Status) Err() error {
	switch s {
	case StatusSuccess, StatusDone:
		return nil
	case StatusTimeout:
		return device.ErrTimeout
	case StatusCancelled:
		return device.ErrCancelled
	case StatusInvalidArgs:
		return device.ErrInvalidArguments
	case StatusUnsupported:
		return device.ErrUnsupported
	case StatusNoDevice:
		return fmt.Errorf("%w: %w", device.ErrNoAdapter, &device.StatusError{Code: int(s)})
	default:
		return &device.StatusError{Code: int(s)}
	}
}

// ErrWithOp is Err with the failing operation recorded on native statuses.
func (s Status) ErrWithOp(op string) error {
	err := s.Err()
	if err == nil {
		return nil
	}
	var se *device.StatusError
	if errors.As(err, &se) && se.Op == "" {
		return &device.StatusError{Code: se.Code, Op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// StatusOf maps an error back to the status the native engine expects.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	var se *device.StatusError
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrCancelled):
		return StatusCancelled
	case errors.Is(err, device.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, device.ErrInvalidArguments), errors.As(err, &nf):
		return StatusInvalidArgs
	case errors.Is(err, device.ErrUnsupported):
		return StatusUnsupported
	case errors.As(err, &se):
		return Status(se.Code)
	case errors.Is(err, device.ErrNoAdapter):
		return StatusNoDevice
	default:
		return StatusIO
	}
}
