package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/groutine"
	"github.com/srg/dcdl/internal/libdc"
	"go.bug.st/serial"
)

// Emitter receives one candidate. Returning false means the consumer is gone
// and the scan should stop without error.
type Emitter func(device.DeviceInfo) bool

// CancelFunc is checked between scan rounds and iterator steps.
type CancelFunc func() bool

// BLEOptions configures BLE discovery.
type BLEOptions struct {
	// Budget bounds the whole scan.
	Budget time.Duration `default:"5s"`
	// Interval is the period of the discovery poll rounds.
	Interval time.Duration `default:"100ms"`
	// AllowDuplicates asks the radio to report every advertisement, so a
	// scan response carrying the name is not filtered out.
	AllowDuplicates bool `default:"true"`
	AllowList       []string
	BlockList       []string
	// Catalog restricts results; nil means device.KnownServices.
	Catalog *device.Catalog
}

// DefaultBLEOptions returns BLEOptions with every default applied.
func DefaultBLEOptions() BLEOptions {
	var o BLEOptions
	defaults.SetDefaults(&o)
	return o
}

// PortLister enumerates serial ports.
type PortLister func() ([]string, error)

// Scanner handles dive computer discovery on every transport.
type Scanner struct {
	newCentral device.CentralFactory
	engine     libdc.Engine
	logger     *logrus.Logger
	bleOptions BLEOptions
	listPorts  PortLister
}

// NewScanner creates a scanner. engine may be nil, in which case only BLE and
// the serial port list are available.
func NewScanner(newCentral device.CentralFactory, engine libdc.Engine, opts BLEOptions, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	d := DefaultBLEOptions()
	if opts.Budget <= 0 {
		opts.Budget = d.Budget
	}
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.Catalog == nil {
		opts.Catalog = device.KnownServices()
	}
	return &Scanner{
		newCentral: newCentral,
		engine:     engine,
		logger:     logger,
		bleOptions: opts,
		listPorts:  serial.GetPortsList,
	}
}

// WithPortLister replaces the OS serial port enumeration.
func (s *Scanner) WithPortLister(l PortLister) *Scanner {
	s.listPorts = l
	return s
}

// Scan discovers candidates on transport and hands them to emit. It blocks
// until discovery ends. Cancellation, through cancelled or ctx, yields
// device.ErrCancelled.
func (s *Scanner) Scan(ctx context.Context, transport device.Transport, cancelled CancelFunc, emit Emitter) error {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	s.logger.WithField("transport", transport).Info("Starting scan...")
	var err error
	switch transport {
	case device.TransportBLE:
		err = s.scanBLE(ctx, cancelled, emit)
	case device.TransportSerial, device.TransportUSB, device.TransportUSBHID,
		device.TransportIrDA, device.TransportBluetooth:
		err = s.scanEngine(ctx, transport, cancelled, emit)
	default:
		err = fmt.Errorf("%w: transport %s", device.ErrInvalidArguments, transport)
	}

	if err != nil && !device.IsCancelled(err) {
		s.logger.WithError(err).WithField("transport", transport).Error("Scan failed")
	}
	return err
}

// candidate is one catalog peripheral seen by the radio. Values stored in the
// seen-map are never mutated; a better advertisement replaces the pointer.
type candidate struct {
	seq   uint64
	info  device.BLEInfo
	entry device.CatalogEntry
}

func (s *Scanner) scanBLE(ctx context.Context, cancelled CancelFunc, emit Emitter) error {
	if s.newCentral == nil {
		return device.ErrNoAdapter
	}
	central, err := s.newCentral()
	if err != nil {
		return fmt.Errorf("failed to create BLE central: %w", err)
	}

	opts := s.bleOptions
	seen := hashmap.New[string, *candidate]()
	var seq atomic.Uint64

	handle := func(adv device.Advertisement) {
		if !s.shouldInclude(adv) {
			return
		}
		entry, ok := opts.Catalog.Match(adv.Services())
		if !ok {
			return
		}

		addr := adv.Addr()
		c := &candidate{seq: seq.Add(1), entry: entry, info: bleInfo(adv, entry)}
		existing, loaded := seen.GetOrInsert(addr, c)
		if !loaded {
			s.logger.WithFields(logrus.Fields{
				"address": addr,
				"name":    adv.LocalName(),
				"service": entry.Label,
				"rssi":    adv.RSSI(),
			}).Info("Discovered dive computer")
			return
		}
		// a scan response may carry the name the first report lacked
		if existing.info.LocalName == "" && adv.LocalName() != "" {
			seen.Set(addr, &candidate{seq: existing.seq, entry: entry, info: c.info})
		}
	}

	scanCtx, stop := context.WithCancel(ctx)
	scanErr := make(chan error, 1)
	scanDone := make(chan struct{})
	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer close(scanDone)
		scanErr <- central.Scan(ctx, opts.AllowDuplicates, handle)
	})
	defer func() {
		stop()
		<-scanDone
	}()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	budget := time.NewTimer(opts.Budget)
	defer budget.Stop()

	emitted := make(map[string]bool)
	last := false
	for !last {
		select {
		case <-ticker.C:
		case <-budget.C:
			last = true
		case err := <-scanErr:
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", device.ErrCancelled, ctx.Err())
			}
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("scan failed: %w", normalizeErr(err))
			}
			last = true
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", device.ErrCancelled, ctx.Err())
		}

		if cancelled() {
			s.logger.Info("BLE scan cancelled")
			return device.ErrCancelled
		}

		n, more := emitNew(seen, emitted, emit)
		if !more {
			s.logger.Debug("Scan consumer gone, stopping")
			return nil
		}
		if n > 0 {
			break
		}
	}

	s.logger.WithField("device_count", len(emitted)).Info("BLE scan completed")
	return nil
}

// emitNew hands every not yet emitted candidate to emit in discovery order.
// It returns how many were emitted and false if the consumer is gone.
func emitNew(seen *hashmap.Map[string, *candidate], emitted map[string]bool, emit Emitter) (int, bool) {
	var fresh []*candidate
	seen.Range(func(addr string, c *candidate) bool {
		if !emitted[addr] {
			fresh = append(fresh, c)
		}
		return true
	})
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].seq < fresh[j].seq })

	for i, c := range fresh {
		emitted[c.info.AddressString] = true
		if !emit(device.NewDeviceInfo(c.info)) {
			return i, false
		}
	}
	return len(fresh), true
}

func bleInfo(adv device.Advertisement, entry device.CatalogEntry) device.BLEInfo {
	addr, _ := device.ParsePeripheralAddress(adv.Addr())
	return device.BLEInfo{
		Address:       addr,
		LocalName:     adv.LocalName(),
		ServiceName:   entry.Label,
		AddressString: adv.Addr(),
	}
}

// shouldInclude applies the allow and block lists.
func (s *Scanner) shouldInclude(adv device.Advertisement) bool {
	addr := adv.Addr()
	for _, blocked := range s.bleOptions.BlockList {
		if addr == blocked {
			return false
		}
	}
	if len(s.bleOptions.AllowList) == 0 {
		return true
	}
	for _, allowed := range s.bleOptions.AllowList {
		if addr == allowed {
			return true
		}
	}
	return false
}

// scanEngine runs the engine's blocking enumeration on a worker goroutine.
func (s *Scanner) scanEngine(ctx context.Context, transport device.Transport, cancelled CancelFunc, emit Emitter) error {
	if s.engine == nil || !s.engine.Transports().Has(transport) {
		if transport == device.TransportSerial && s.listPorts != nil {
			return s.scanSerialPorts(ctx, cancelled, emit)
		}
		return fmt.Errorf("%w: %s enumeration needs the native engine", device.ErrUnsupported, transport)
	}

	result := make(chan error, 1)
	groutine.GoLocked(ctx, "dc-iterate", func(ctx context.Context) {
		result <- s.iterate(ctx, transport, cancelled, emit)
	})
	return <-result
}

// iterate walks the engine iterator, closing it on every exit path.
func (s *Scanner) iterate(ctx context.Context, transport device.Transport, cancelled CancelFunc, emit Emitter) error {
	it, err := s.engine.Iterate(ctx, transport)
	if err != nil {
		return fmt.Errorf("failed to start %s enumeration: %w", transport, err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			s.logger.WithError(cerr).Warn("Failed to release device iterator")
		}
	}()

	count := 0
	for {
		if cancelled() || ctx.Err() != nil {
			return device.ErrCancelled
		}
		conn, err := it.Next()
		if errors.Is(err, libdc.ErrIteratorDone) {
			s.logger.WithFields(logrus.Fields{"transport": transport, "device_count": count}).Info("Enumeration completed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s enumeration failed: %w", transport, err)
		}
		if cancelled() {
			return device.ErrCancelled
		}
		count++
		if !emit(device.NewDeviceInfo(conn)) {
			return nil
		}
	}
}

func (s *Scanner) scanSerialPorts(ctx context.Context, cancelled CancelFunc, emit Emitter) error {
	ports, err := s.listPorts()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	for _, path := range ports {
		if cancelled() || ctx.Err() != nil {
			return device.ErrCancelled
		}
		info := device.SerialInfo{Name: device.ExtractDeviceName(path), Path: path}
		if !emit(device.NewDeviceInfo(info)) {
			return nil
		}
	}
	s.logger.WithField("device_count", len(ports)).Info("Serial port enumeration completed")
	return nil
}

func normalizeErr(err error) error {
	return device.NormalizeError(err)
}
