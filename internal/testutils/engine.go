package testutils

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
)

// Raw dives handled by FakeEngine are laid out as
//
//	[0:4] fingerprint  [4] minutes  [5] max depth in meters  [6:] padding
//
// A dive whose minutes byte is 0xFF fails to parse.
const (
	fakeDiveFingerprintSize = 4
	fakeDiveSize            = 8
	badDiveMarker           = 0xFF
)

// FakeDive builds a raw dive blob.
func FakeDive(id uint32, minutes, depth byte) []byte {
	raw := make([]byte, fakeDiveSize)
	binary.BigEndian.PutUint32(raw, id)
	raw[4] = minutes
	raw[5] = depth
	return raw
}

// BadDive builds a raw dive blob that fails to parse.
func BadDive(id uint32) []byte {
	raw := FakeDive(id, 0, 0)
	raw[4] = badDiveMarker
	return raw
}

// FakeDiveFingerprint returns the fingerprint of a FakeDive with id.
func FakeDiveFingerprint(id uint32) []byte {
	return FakeDive(id, 0, 0)[:fakeDiveFingerprintSize]
}

// The framed protocol FakeDevice speaks over a CustomIO and ServeDives
// answers: the host writes {'D', index}; the peripheral answers with a
// big-endian uint16 length followed by the dive. Length 0 ends the log.
const requestDive = 'D'

// ServeDives returns a write hook answering dive requests with dives,
// notified in chunks of chunkSize bytes.
func ServeDives(dives [][]byte, chunkSize int) WriteHook {
	var mu sync.Mutex
	return func(p *FakePeripheral, data []byte) {
		if len(data) != 2 || data[0] != requestDive {
			return
		}
		idx := int(data[1])

		var payload []byte
		if idx < len(dives) {
			payload = dives[idx]
		}
		frame := make([]byte, 2, 2+len(payload))
		binary.BigEndian.PutUint16(frame, uint16(len(payload)))
		frame = append(frame, payload...)

		go func() {
			mu.Lock()
			defer mu.Unlock()
			for len(frame) > 0 {
				n := min(chunkSize, len(frame))
				_ = p.Notify(frame[:n])
				frame = frame[n:]
			}
		}()
	}
}

// OpenCall records one FakeEngine.Open invocation.
type OpenCall struct {
	Product libdc.Product
	Conn    device.ConnectionInfo
	HasIO   bool
}

// FakeEngine implements libdc.Engine without native code.
type FakeEngine struct {
	// Dives are delivered by Foreach when the device was opened without a CustomIO.
	Dives [][]byte
	// Endpoints are returned by Iterate per transport.
	Endpoints map[device.Transport][]device.ConnectionInfo
	// IterateErr fails Iterate.
	IterateErr error
	// OpenErr fails Open.
	OpenErr error
	// DevInfo is emitted before the first dive when set.
	DevInfo *libdc.DevInfoEvent
	// Waiting emits a Waiting event before the download.
	Waiting bool
	// BlockAfter makes Foreach stop after that many dives and wait for the
	// cancel callback. Zero disables it.
	BlockAfter int
	// StepDelay is slept between iterator steps and dives.
	StepDelay time.Duration
	// Supported is what Transports reports; zero means every transport.
	Supported device.Transport

	mu        sync.Mutex
	opens     []OpenCall
	devices   []*FakeDevice
	iterators []*FakeIterator
	closed    atomic.Bool
}

var _ libdc.Engine = (*FakeEngine)(nil)

func (e *FakeEngine) Open(ctx context.Context, product libdc.Product, conn device.ConnectionInfo, io libdc.CustomIO) (libdc.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens = append(e.opens, OpenCall{Product: product, Conn: conn, HasIO: io != nil})
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	d := &FakeDevice{engine: e, io: io}
	e.devices = append(e.devices, d)
	return d, nil
}

func (e *FakeEngine) Iterate(ctx context.Context, transport device.Transport) (libdc.DeviceIterator, error) {
	if e.IterateErr != nil {
		return nil, e.IterateErr
	}
	it := &FakeIterator{items: e.Endpoints[transport], delay: e.StepDelay}
	e.mu.Lock()
	e.iterators = append(e.iterators, it)
	e.mu.Unlock()
	return it, nil
}

func (e *FakeEngine) Transports() device.Transport {
	if e.Supported == device.TransportNone {
		return device.TransportSerial | device.TransportUSB | device.TransportUSBHID |
			device.TransportIrDA | device.TransportBluetooth | device.TransportBLE
	}
	return e.Supported
}

func (e *FakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// Opens returns every Open call so far.
func (e *FakeEngine) Opens() []OpenCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]OpenCall(nil), e.opens...)
}

// Devices returns every device opened so far.
func (e *FakeEngine) Devices() []*FakeDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeDevice(nil), e.devices...)
}

// Iterators returns every iterator created so far.
func (e *FakeEngine) Iterators() []*FakeIterator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeIterator(nil), e.iterators...)
}

// FakeIterator implements libdc.DeviceIterator over a fixed list.
type FakeIterator struct {
	items  []device.ConnectionInfo
	delay  time.Duration
	pos    int
	closed atomic.Int32
}

func (it *FakeIterator) Next() (device.ConnectionInfo, error) {
	if it.delay > 0 {
		time.Sleep(it.delay)
	}
	if it.pos >= len(it.items) {
		return nil, libdc.ErrIteratorDone
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

func (it *FakeIterator) Close() error {
	it.closed.Add(1)
	return nil
}

// Closed returns how many times Close was called.
func (it *FakeIterator) Closed() int {
	return int(it.closed.Load())
}

// FakeDevice implements libdc.Device.
type FakeDevice struct {
	engine *FakeEngine
	io     libdc.CustomIO

	mu          sync.Mutex
	mask        libdc.EventType
	events      libdc.EventFunc
	cancel      libdc.CancelFunc
	fingerprint []byte
	closed      atomic.Bool
}

func (d *FakeDevice) SetEvents(mask libdc.EventType, fn libdc.EventFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mask, d.events = mask, fn
	return nil
}

func (d *FakeDevice) SetCancel(fn libdc.CancelFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel = fn
	return nil
}

func (d *FakeDevice) SetFingerprint(fp []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fingerprint = append([]byte(nil), fp...)
	return nil
}

// Fingerprint returns the fingerprint applied before Foreach.
func (d *FakeDevice) Fingerprint() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fingerprint
}

func (d *FakeDevice) emit(ev libdc.Event) {
	d.mu.Lock()
	fn, mask := d.events, d.mask
	d.mu.Unlock()
	if fn != nil && mask&ev.Type != 0 {
		fn(ev)
	}
}

func (d *FakeDevice) cancelled() bool {
	d.mu.Lock()
	fn := d.cancel
	d.mu.Unlock()
	return fn != nil && fn()
}

func (d *FakeDevice) Foreach(fn libdc.DiveFunc) error {
	e := d.engine
	if e.Waiting {
		d.emit(libdc.Event{Type: libdc.EventWaiting})
	}
	if e.DevInfo != nil {
		d.emit(libdc.Event{Type: libdc.EventDevInfo, DevInfo: e.DevInfo})
	}
	d.emit(libdc.Event{Type: libdc.EventClock, Clock: &libdc.ClockEvent{DevTime: 1000, SysTime: time.Now().Unix()}})

	for i := 0; ; i++ {
		if d.cancelled() {
			return libdc.StatusCancelled.ErrWithOp("dc_device_foreach")
		}
		if e.BlockAfter > 0 && i == e.BlockAfter {
			for !d.cancelled() {
				time.Sleep(2 * time.Millisecond)
			}
			return libdc.StatusCancelled.ErrWithOp("dc_device_foreach")
		}

		raw, total, err := d.fetch(i)
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		d.emit(libdc.Event{Type: libdc.EventProgress, Progress: &libdc.ProgressEvent{Current: uint32(i + 1), Maximum: uint32(total)}})

		fp := raw[:fakeDiveFingerprintSize]
		if fpSet := d.Fingerprint(); len(fpSet) > 0 && bytes.Equal(fp, fpSet) {
			return nil
		}
		if !fn(raw, fp) {
			return nil
		}
		if e.StepDelay > 0 {
			time.Sleep(e.StepDelay)
		}
	}
}

// fetch returns dive i, or nil when the log is exhausted.
func (d *FakeDevice) fetch(i int) ([]byte, int, error) {
	if d.io == nil {
		if i >= len(d.engine.Dives) {
			return nil, len(d.engine.Dives), nil
		}
		return d.engine.Dives[i], len(d.engine.Dives), nil
	}

	if _, st := d.io.Write([]byte{requestDive, byte(i)}); !st.OK() {
		return nil, 0, st.ErrWithOp("write")
	}
	header, err := d.readFull(2)
	if err != nil {
		return nil, 0, err
	}
	size := int(binary.BigEndian.Uint16(header))
	if size == 0 {
		return nil, i, nil
	}
	raw, err := d.readFull(size)
	if err != nil {
		return nil, 0, err
	}
	return raw, i + 1, nil
}

func (d *FakeDevice) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		if st := d.io.Poll(0); !st.OK() {
			return nil, st.ErrWithOp("poll")
		}
		k, st := d.io.Read(buf[got:])
		if !st.OK() {
			return nil, st.ErrWithOp("read")
		}
		got += k
	}
	return buf, nil
}

func (d *FakeDevice) Parse(data, fingerprint []byte) (*libdc.Dive, error) {
	if len(data) < fakeDiveSize || data[4] == badDiveMarker {
		return nil, fmt.Errorf("parse dive: %w", libdc.StatusDataFormat.Err())
	}
	id := binary.BigEndian.Uint32(data)
	return &libdc.Dive{
		Number:      int(id),
		Fingerprint: append([]byte(nil), fingerprint...),
		Start:       time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(id) * 24 * time.Hour),
		Duration:    time.Duration(data[4]) * time.Minute,
		MaxDepth:    float64(data[5]),
		Raw:         data,
	}, nil
}

func (d *FakeDevice) Close() error {
	d.closed.Store(true)
	if d.io != nil {
		if st := d.io.Close(); !st.OK() {
			return st.ErrWithOp("close")
		}
	}
	return nil
}

// IsClosed reports whether Close was called.
func (d *FakeDevice) IsClosed() bool {
	return d.closed.Load()
}
