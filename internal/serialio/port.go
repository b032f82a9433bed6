// Package serialio drives a serial dive computer through the engine's custom
// I/O table, so serial sessions share the Go I/O path with BLE ones.
package serialio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"go.bug.st/serial"
)

// Conn is the part of serial.Port the I/O table uses.
type Conn interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a serial port. The default is serial.Open.
type Opener func(path string, mode *serial.Mode) (Conn, error)

func openSerial(path string, mode *serial.Mode) (Conn, error) {
	return serial.Open(path, mode)
}

// Options configures the line.
type Options struct {
	BaudRate int `default:"115200"`
	DataBits int `default:"8"`
	// Timeout is the default wait of Poll(0) and Read. Negative blocks.
	Timeout time.Duration `default:"1200ms"`
	// ChunkSize bounds one read issued by Poll.
	ChunkSize int `default:"256"`
	// Opener replaces serial.Open in tests.
	Opener Opener
}

func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaudRate <= 0 {
		o.BaudRate = d.BaudRate
	}
	if o.DataBits <= 0 {
		o.DataBits = d.DataBits
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Opener == nil {
		o.Opener = openSerial
	}
	return o
}

// Port implements libdc.CustomIO on a serial line. Data read by Poll is kept
// and handed out by the next Read, so polling never loses bytes.
type Port struct {
	path   string
	conn   Conn
	logger *logrus.Logger
	opts   Options

	timeout time.Duration
	pending []byte

	mu          sync.Mutex
	closed      bool
	closeStatus libdc.Status
}

var _ libdc.CustomIO = (*Port)(nil)

// Open opens path with an 8N1 line at the configured baud rate and discards
// whatever the device sent before the session started.
func Open(path string, opts Options, logger *logrus.Logger) (*Port, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty serial port path", device.ErrInvalidArguments)
	}
	opts = opts.withDefaults()

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	conn, err := opts.Opener(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := conn.ResetInputBuffer(); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Failed to purge serial input")
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"baud": opts.BaudRate,
	}).Info("Serial port opened")

	return &Port{
		path:    path,
		conn:    conn,
		logger:  logger,
		opts:    opts,
		timeout: opts.Timeout,
	}, nil
}

// Path returns the device path the port was opened on.
func (p *Port) Path() string {
	return p.path
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// readTimeout converts a wait to the serial library's convention.
func readTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return serial.NoTimeout
	}
	return d
}

func (p *Port) SetTimeout(timeoutMs int) libdc.Status {
	if p.isClosed() {
		return libdc.StatusIO
	}
	switch {
	case timeoutMs < 0:
		p.timeout = -1
	case timeoutMs > 0:
		p.timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return libdc.StatusSuccess
}

// Poll waits for at least one byte. Whatever arrives is buffered for Read.
// Zero uses the current timeout; a negative value waits indefinitely.
func (p *Port) Poll(timeoutMs int) libdc.Status {
	if p.isClosed() {
		return libdc.StatusIO
	}
	if len(p.pending) > 0 {
		return libdc.StatusSuccess
	}

	wait := p.timeout
	switch {
	case timeoutMs < 0:
		wait = -1
	case timeoutMs > 0:
		wait = time.Duration(timeoutMs) * time.Millisecond
	}

	chunk := make([]byte, p.opts.ChunkSize)
	n, status := p.readWithin(chunk, wait)
	if status != libdc.StatusSuccess {
		return status
	}
	if n == 0 {
		return libdc.StatusTimeout
	}
	p.pending = append(p.pending, chunk[:n]...)
	return libdc.StatusSuccess
}

// Read hands out polled bytes first, then reads the line directly.
func (p *Port) Read(buf []byte) (int, libdc.Status) {
	if p.isClosed() {
		return 0, libdc.StatusIO
	}
	if len(buf) == 0 {
		return 0, libdc.StatusSuccess
	}

	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		if len(p.pending) == 0 {
			p.pending = nil
		}
		return n, libdc.StatusSuccess
	}

	n, status := p.readWithin(buf, p.timeout)
	if status != libdc.StatusSuccess {
		return n, status
	}
	if n == 0 {
		return 0, libdc.StatusTimeout
	}
	return n, libdc.StatusSuccess
}

func (p *Port) readWithin(buf []byte, wait time.Duration) (int, libdc.Status) {
	if err := p.conn.SetReadTimeout(readTimeout(wait)); err != nil {
		p.logger.WithError(err).WithField("path", p.path).Debug("SetReadTimeout failed")
		return 0, libdc.StatusIO
	}
	n, err := p.conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		p.logger.WithError(err).WithField("path", p.path).Debug("Serial read failed")
		return n, libdc.StatusIO
	}
	return n, libdc.StatusSuccess
}

func (p *Port) Write(buf []byte) (int, libdc.Status) {
	if p.isClosed() {
		return 0, libdc.StatusIO
	}
	n, err := p.conn.Write(buf)
	if err != nil {
		p.logger.WithError(err).WithField("path", p.path).Debug("Serial write failed")
		return n, libdc.StatusIO
	}
	return n, libdc.StatusSuccess
}

// Ioctl supports no requests; serial lines have no BLE name or characteristics.
func (p *Port) Ioctl(request uint32, _ []byte) libdc.Status {
	if p.isClosed() {
		return libdc.StatusIO
	}
	p.logger.WithField("request", fmt.Sprintf("0x%08X", request)).Debug("Unsupported serial ioctl")
	return libdc.StatusUnsupported
}

// Close releases the line. It is idempotent; the other slots return StatusIO
// afterwards.
func (p *Port) Close() libdc.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closeStatus
	}
	p.closed = true
	p.pending = nil

	p.closeStatus = libdc.StatusSuccess
	if err := p.conn.Close(); err != nil {
		p.logger.WithError(err).WithField("path", p.path).Warn("Failed to close serial port")
		p.closeStatus = libdc.StatusIO
		return p.closeStatus
	}
	p.logger.WithField("path", p.path).Debug("Serial port closed")
	return p.closeStatus
}
