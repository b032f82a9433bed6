package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/session"
)

// errNoEngine is returned by commands that need libdivecomputer in builds without it.
var errNoEngine = fmt.Errorf("%w: built without libdivecomputer (rebuild with -tags libdivecomputer)", device.ErrUnsupported)

// FormatUserError turns an error chain into a message for the terminal.
// Well-known failures get a hint; everything else prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var nf *device.NotFoundError
	var se *device.StatusError
	switch {
	case errors.Is(err, errNoEngine):
		return errNoEngine.Error()
	case errors.Is(err, device.ErrNoAdapter):
		return "no Bluetooth adapter available; make sure Bluetooth is enabled and this program may use it"
	case errors.Is(err, device.ErrNoSuitableService):
		return "the device does not expose a supported dive computer service; check the vendor and product"
	case errors.Is(err, session.ErrBusy):
		return "another download or scan is already running"
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out talking to the dive computer; wake it up and keep it close (%v)", err)
	case errors.As(err, &nf):
		if nf.Resource == "product" {
			return fmt.Sprintf("unknown dive computer %s; run 'dcdl products' for the supported models", strings.Join(nf.UUIDs, ", "))
		}
		return err.Error()
	case errors.As(err, &se):
		return fmt.Sprintf("dive computer communication failed: %v", err)
	}
	return err.Error()
}
