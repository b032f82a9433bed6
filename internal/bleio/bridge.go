package bleio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/groutine"
)

// Channels is the result of connection setup: the selected catalog service and
// its write and notify characteristics.
type Channels struct {
	Entry   device.CatalogEntry
	Service device.Service
	Write   device.Characteristic
	Read    device.Characteristic
}

// SelectChannels picks the first catalog entry (in catalog order) present on
// the peripheral, then its first writable and first notifying characteristic.
func SelectChannels(p device.Peripheral, catalog *device.Catalog) (Channels, error) {
	byUUID := make(map[string]device.Service)
	uuids := make([]string, 0, len(p.Services()))
	for _, svc := range p.Services() {
		u := device.NormalizeUUID(svc.UUID())
		byUUID[u] = svc
		uuids = append(uuids, u)
	}

	entry, ok := catalog.Match(uuids)
	if !ok {
		return Channels{}, fmt.Errorf("%w: none of %d services is a known dive computer service", device.ErrNoSuitableService, len(uuids))
	}

	ch := Channels{Entry: entry, Service: byUUID[entry.UUID]}
	for _, c := range ch.Service.Characteristics() {
		props := c.Properties()
		if ch.Write == nil && props.Has(device.PropWrite|device.PropWriteWithoutResponse) {
			ch.Write = c
		}
		if ch.Read == nil && props.Has(device.PropNotify|device.PropIndicate) {
			ch.Read = c
		}
	}
	if ch.Write == nil || ch.Read == nil {
		return Channels{}, fmt.Errorf("%w: service %s lacks a write or notify characteristic", device.ErrNoSuitableService, entry.Label)
	}
	return ch, nil
}

// Bridge is the actor owning one live peripheral connection.
type Bridge struct {
	peripheral device.Peripheral
	channels   Channels
	logger     *logrus.Logger
	tick       time.Duration

	commands      chan command
	notifications chan []byte
	done          chan struct{}
	terminated    atomic.Bool

	// owned by the loop
	buffer *PacketBuffer
	polls  *PollManager
}

// NewBridge selects the peripheral's channels, subscribes to the read channel
// and starts the control loop on the process executor.
func NewBridge(ctx context.Context, p device.Peripheral, opts Options, logger *logrus.Logger) (*Bridge, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	channels, err := SelectChannels(p, opts.Catalog)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		peripheral:    p,
		channels:      channels,
		logger:        logger,
		tick:          opts.Tick,
		commands:      make(chan command),
		notifications: make(chan []byte, opts.NotifyBacklog),
		done:          make(chan struct{}),
		buffer:        NewPacketBuffer(opts.Tick),
		polls:         NewPollManager(opts.PollTimeout),
	}

	if err := p.Subscribe(channels.Read, b.onNotify); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channels.Read.UUID(), err)
	}

	logger.WithFields(logrus.Fields{
		"address": p.Address(),
		"service": channels.Entry.Label,
		"write":   channels.Write.UUID(),
		"read":    channels.Read.UUID(),
	}).Info("BLE bridge connected")

	groutine.Go(context.WithoutCancel(ctx), "ble-bridge", b.run)
	return b, nil
}

// onNotify runs on the radio library's goroutine.
func (b *Bridge) onNotify(data []byte) {
	chunk := append([]byte(nil), data...)
	select {
	case b.notifications <- chunk:
	case <-b.done:
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	log := b.logger.WithFields(logrus.Fields{"goroutine": groutine.GetName(ctx), "address": b.peripheral.Address()})
	log.Debug("Bridge loop started")
	defer log.Debug("Bridge loop stopped")

	for {
		select {
		case chunk := <-b.notifications:
			b.handleNotification(chunk)

		case cmd := <-b.commands:
			if b.handleCommand(cmd) {
				return
			}

		case now := <-ticker.C:
			b.polls.CheckTimeouts(now)
			b.buffer.ExpireReads(now)

		case <-b.peripheral.Disconnected():
			log.Warn("Peripheral disconnected")
			b.shutdown()
			return
		}
	}
}

func (b *Bridge) handleNotification(chunk []byte) {
	b.logger.WithField("bytes", len(chunk)).Debug("BLE notification")
	if b.buffer.Pending() > 0 {
		b.buffer.Deliver(chunk, time.Now())
	} else {
		b.buffer.Push(chunk)
	}
	b.polls.NotifyAll()
}

// handleCommand reports whether the loop must terminate.
func (b *Bridge) handleCommand(cmd command) bool {
	switch c := cmd.(type) {
	case writeCmd:
		err := b.peripheral.WriteWithoutResponse(b.channels.Write, c.data)
		if err != nil {
			c.reply <- writeResult{err: fmt.Errorf("write of %d bytes failed: %w", len(c.data), normalizeErr(err))}
			return false
		}
		b.logger.WithField("bytes", len(c.data)).Debug("BLE write")
		c.reply <- writeResult{n: len(c.data)}

	case readCmd:
		if !b.buffer.Empty() {
			c.reply <- readResult{data: b.buffer.Take(c.size)}
			return false
		}
		var deadline time.Time
		if d := b.polls.Default(); d > 0 {
			deadline = time.Now().Add(d)
		}
		b.buffer.AddPending(c.size, deadline, c.reply)

	case pollCmd:
		if !b.buffer.Empty() {
			c.reply <- true
			return false
		}
		b.polls.Add(time.Now(), c.timeout, c.reply)

	case readCharacteristicCmd:
		data, err := b.readCharacteristic(c.uuid)
		c.reply <- readResult{data: data, err: err}

	case setTimeoutCmd:
		b.polls.SetDefault(c.timeout)

	case statsCmd:
		c.reply <- Stats{
			BufferedChunks: b.buffer.Chunks(),
			BufferedBytes:  b.buffer.Buffered(),
			PendingReads:   b.buffer.Pending(),
			PendingPolls:   b.polls.Len(),
		}

	case disconnectCmd:
		b.shutdown()
		err := b.peripheral.Disconnect()
		if err != nil {
			err = normalizeErr(err)
		}
		c.reply <- err
		return true

	default:
		b.logger.WithField("command", cmd.name()).Error("Unknown bridge command")
	}
	return false
}

func (b *Bridge) readCharacteristic(uuid string) ([]byte, error) {
	want := device.NormalizeUUID(uuid)
	for _, c := range b.channels.Service.Characteristics() {
		if device.NormalizeUUID(c.UUID()) == want {
			data, err := b.peripheral.ReadCharacteristic(c)
			if err != nil {
				return nil, fmt.Errorf("read of characteristic %s failed: %w", want, normalizeErr(err))
			}
			return data, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{b.channels.Entry.UUID, want}}
}

// shutdown resolves every pending reply so no caller stays blocked.
func (b *Bridge) shutdown() {
	b.terminated.Store(true)
	reads := b.buffer.FailPending(device.ErrChannelClosed)
	polls := b.polls.ResolveAll(false)
	if reads > 0 || polls > 0 {
		b.logger.WithFields(logrus.Fields{"reads": reads, "polls": polls}).Debug("Resolved pending requests on shutdown")
	}
}

// send hands cmd to the loop. The loop replies to every command it receives.
func (b *Bridge) send(cmd command) error {
	if b.terminated.Load() {
		return device.ErrChannelClosed
	}
	select {
	case b.commands <- cmd:
		return nil
	case <-b.done:
		return device.ErrChannelClosed
	}
}

// Write sends data with write-without-response on the write channel.
func (b *Bridge) Write(data []byte) (int, error) {
	reply := make(chan writeResult, 1)
	if err := b.send(writeCmd{data: data, reply: reply}); err != nil {
		return 0, err
	}
	res := <-reply
	return res.n, res.err
}

// Read returns up to size bytes, waiting for a notification when nothing is
// buffered. A buffered chunk smaller than size is returned as a short read.
func (b *Bridge) Read(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	reply := make(chan readResult, 1)
	if err := b.send(readCmd{size: size, reply: reply}); err != nil {
		return nil, err
	}
	res := <-reply
	return res.data, res.err
}

// Poll reports whether data is available within timeout. Zero uses the
// default timeout; a negative timeout waits until data arrives or the bridge
// shuts down.
func (b *Bridge) Poll(timeout time.Duration) (bool, error) {
	reply := make(chan bool, 1)
	if err := b.send(pollCmd{timeout: timeout, reply: reply}); err != nil {
		return false, err
	}
	return <-reply, nil
}

// ReadCharacteristic reads a characteristic of the selected service directly.
func (b *Bridge) ReadCharacteristic(uuid string) ([]byte, error) {
	reply := make(chan readResult, 1)
	if err := b.send(readCharacteristicCmd{uuid: uuid, reply: reply}); err != nil {
		return nil, err
	}
	res := <-reply
	return res.data, res.err
}

// SetTimeout changes the default poll timeout. Pending polls keep theirs.
func (b *Bridge) SetTimeout(timeout time.Duration) error {
	return b.send(setTimeoutCmd{timeout: timeout})
}

// Stats returns a snapshot of buffered data and pending requests.
func (b *Bridge) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	if err := b.send(statsCmd{reply: reply}); err != nil {
		return Stats{}, err
	}
	return <-reply, nil
}

// Disconnect tears the connection down and waits for the loop to exit.
// Calling it on a terminated bridge is a no-op.
func (b *Bridge) Disconnect() error {
	reply := make(chan error, 1)
	err := b.send(disconnectCmd{reply: reply})
	if errors.Is(err, device.ErrChannelClosed) {
		<-b.done
		return nil
	}
	err = <-reply
	<-b.done
	return err
}

// Done is closed once the control loop has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Channels returns the selected service and characteristics.
func (b *Bridge) Channels() Channels {
	return b.channels
}

// Name returns the peripheral's name.
func (b *Bridge) Name() string {
	return b.peripheral.Name()
}

// Address returns the peripheral's address.
func (b *Bridge) Address() string {
	return b.peripheral.Address()
}

func normalizeErr(err error) error {
	return device.NormalizeError(err)
}
