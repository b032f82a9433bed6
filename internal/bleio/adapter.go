package bleio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
)

const uuidSize = 16

// SyncAdapter implements libdc.CustomIO over a Bridge. Every slot sends one
// command and blocks the calling goroutine until the bridge replies, so it is
// safe to call from the engine's OS-thread-locked worker.
type SyncAdapter struct {
	bridge *Bridge
	logger *logrus.Logger

	closeOnce   sync.Once
	closeStatus libdc.Status
}

var _ libdc.CustomIO = (*SyncAdapter)(nil)

// StripAddressPrefix removes the optional "LE:" transport tag of a BLE address.
func StripAddressPrefix(address string) string {
	address = strings.TrimSpace(address)
	if len(address) >= 3 && strings.EqualFold(address[:3], "LE:") {
		return address[3:]
	}
	return address
}

// OpenSyncAdapter dials address, selects the dive computer service and starts
// a bridge for it.
func OpenSyncAdapter(ctx context.Context, central device.Central, address string, opts Options, logger *logrus.Logger) (*SyncAdapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	addr := StripAddressPrefix(address)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty BLE address", device.ErrInvalidArguments)
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	logger.WithField("address", addr).Info("Connecting to BLE peripheral")
	p, err := central.Dial(dialCtx, addr)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("connect to %s: %w", addr, device.ErrCancelled)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	b, err := NewBridge(ctx, p, opts, logger)
	if err != nil {
		if derr := p.Disconnect(); derr != nil {
			logger.WithError(derr).Warn("Failed to disconnect after setup failure")
		}
		return nil, err
	}
	return &SyncAdapter{bridge: b, logger: logger}, nil
}

// NewSyncAdapter wraps an already running bridge.
func NewSyncAdapter(b *Bridge, logger *logrus.Logger) *SyncAdapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncAdapter{bridge: b, logger: logger}
}

// Bridge returns the underlying bridge.
func (a *SyncAdapter) Bridge() *Bridge {
	return a.bridge
}

// SetTimeout sets the default poll and read timeout. A negative value waits
// indefinitely; zero keeps the configured default.
func (a *SyncAdapter) SetTimeout(timeoutMs int) libdc.Status {
	var d time.Duration
	switch {
	case timeoutMs < 0:
		d = 0
	case timeoutMs == 0:
		return libdc.StatusSuccess
	default:
		d = time.Duration(timeoutMs) * time.Millisecond
	}
	if err := a.bridge.SetTimeout(d); err != nil {
		a.logger.WithError(err).Debug("SetTimeout on closed bridge")
	}
	return libdc.StatusSuccess
}

// Poll returns StatusSuccess when data is available within timeoutMs and
// StatusTimeout otherwise. Zero uses the default timeout; a negative value
// waits indefinitely.
func (a *SyncAdapter) Poll(timeoutMs int) libdc.Status {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs < 0 {
		timeout = -1
	}
	ok, err := a.bridge.Poll(timeout)
	if err != nil {
		return libdc.StatusOf(err)
	}
	if !ok {
		return libdc.StatusTimeout
	}
	return libdc.StatusSuccess
}

// Read fills buf with at most len(buf) bytes. Short reads are reported as is.
func (a *SyncAdapter) Read(buf []byte) (int, libdc.Status) {
	if len(buf) == 0 {
		return 0, libdc.StatusSuccess
	}
	data, err := a.bridge.Read(len(buf))
	n := copy(buf, data)
	if err != nil {
		return n, libdc.StatusOf(err)
	}
	return n, libdc.StatusSuccess
}

// Write sends buf and returns the number of bytes the radio accepted.
func (a *SyncAdapter) Write(buf []byte) (int, libdc.Status) {
	n, err := a.bridge.Write(buf)
	if err != nil {
		a.logger.WithError(err).Debug("BLE write failed")
		return n, libdc.StatusOf(err)
	}
	return n, libdc.StatusSuccess
}

// Ioctl serves the BLE requests the engine's drivers issue.
func (a *SyncAdapter) Ioctl(request uint32, buf []byte) libdc.Status {
	switch request {
	case libdc.IoctlBLEGetName:
		if len(buf) == 0 {
			return libdc.StatusInvalidArgs
		}
		n := copy(buf[:len(buf)-1], a.bridge.Name())
		buf[n] = 0
		return libdc.StatusSuccess

	case libdc.IoctlBLECharacteristicRead:
		if len(buf) < uuidSize {
			return libdc.StatusInvalidArgs
		}
		uuid, err := device.UUIDFromBytes(buf[:uuidSize])
		if err != nil {
			return libdc.StatusInvalidArgs
		}
		data, err := a.bridge.ReadCharacteristic(uuid)
		if err != nil {
			a.logger.WithError(err).WithField("uuid", uuid).Debug("Characteristic read failed")
			return libdc.StatusOf(err)
		}
		copy(buf[uuidSize:], data)
		return libdc.StatusSuccess

	default:
		a.logger.WithField("request", fmt.Sprintf("0x%08x", request)).Debug("Unsupported ioctl")
		return libdc.StatusUnsupported
	}
}

// Close disconnects the peripheral and waits for the bridge to stop.
// Further calls return the first result.
func (a *SyncAdapter) Close() libdc.Status {
	a.closeOnce.Do(func() {
		if st, err := a.bridge.Stats(); err == nil && st.BufferedBytes > 0 {
			a.logger.WithField("bytes", st.BufferedBytes).Debug("Discarding unread data on close")
		}
		if err := a.bridge.Disconnect(); err != nil {
			a.logger.WithError(err).Warn("BLE disconnect failed")
			a.closeStatus = libdc.StatusOf(err)
			return
		}
		a.closeStatus = libdc.StatusSuccess
	})
	return a.closeStatus
}
