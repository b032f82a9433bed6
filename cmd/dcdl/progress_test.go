package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/session"
	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for the printer goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func withoutColor(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestFormatState(t *testing.T) {
	withoutColor(t)
	eon := device.NewDeviceInfo(device.USBHIDInfo{VendorID: 0x1493, ProductID: 0x0030})

	assert.Equal(t, "Idle", formatState(session.Idle()))
	assert.Equal(t, "Dive computer failed: timeout", formatState(session.Failed("timeout")))
	assert.Equal(t,
		"Downloading dives from Suunto EON Steel: 50.0% - Downloaded dive 2",
		formatState(session.Downloading(eon, session.Progress{Current: 2, Total: 4}, "Downloaded dive 2")),
	)
}

func TestFormatState_Colors(t *testing.T) {
	old := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = old })

	assert.Contains(t, formatState(session.Failed("x")), "\x1b[31")
	assert.Contains(t, formatState(session.WaitingForUser()), "\x1b[33")
	assert.Equal(t, "Idle", formatState(session.Idle()), "idle is never styled")
}

func TestStatePrinter(t *testing.T) {
	withoutColor(t)

	var mu sync.Mutex
	state := session.Scanning(device.TransportBLE)
	current := func() session.State {
		mu.Lock()
		defer mu.Unlock()
		return state
	}

	out := &syncBuffer{}
	p := NewStatePrinter(out, current)
	p.Start()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Scanning for BLE devices (0s)")
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	state = session.WaitingForUser()
	mu.Unlock()
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Waiting for user input")
	}, time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.True(t, strings.HasSuffix(out.String(), clearLineSequence))

	assert.Panics(t, p.Start, "printers are single-use")
}

func TestStatePrinter_Nil(t *testing.T) {
	var p *StatePrinter
	assert.NotPanics(t, func() {
		p.Start()
		p.Stop()
	})
	assert.Nil(t, statusPrinter(&bytes.Buffer{}, session.Idle), "buffers are not terminals")
}
