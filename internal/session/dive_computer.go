// Package session drives one dive computer through discovery, connection and
// a streaming dive download.
//
// A DiveComputer runs one operation at a time. Scan and Download return
// immediately with a DcIterator fed from a background goroutine; State
// reflects progress and Cancel aborts whatever is running:
//
//	dc := session.New(engine, goble.NewCentralFactory(logger), session.DefaultOptions(), logger)
//	dives, err := dc.Download(ctx, product, info, lastFingerprint)
//	if err != nil {
//	    return err
//	}
//	for {
//	    dive, err := dives.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	}
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/bleio"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/groutine"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/serialio"
	"github.com/srg/dcdl/scanner"
)

// ErrBusy is returned when an operation starts while another one still runs.
var ErrBusy = errors.New("dive computer session already in progress")

// Options configures the transports a session opens.
type Options struct {
	BLE    bleio.Options
	Serial serialio.Options
	Scan   scanner.BLEOptions
}

func DefaultOptions() Options {
	return Options{
		BLE:    bleio.DefaultOptions(),
		Serial: serialio.DefaultOptions(),
		Scan:   scanner.DefaultBLEOptions(),
	}
}

// DiveComputer is the session orchestrator. Independent values may run
// concurrently; each owns its state, cancel flag and engine device.
type DiveComputer struct {
	engine     libdc.Engine
	newCentral device.CentralFactory
	scanner    *scanner.Scanner
	opts       Options
	logger     *logrus.Logger

	mu      sync.RWMutex
	state   State
	devInfo *libdc.DevInfoEvent
	stop    context.CancelFunc

	cancelled atomic.Bool
	running   atomic.Bool
}

// New creates an idle session. engine may be nil for BLE and serial
// discovery only; newCentral may be nil when BLE is not used.
func New(engine libdc.Engine, newCentral device.CentralFactory, opts Options, logger *logrus.Logger) *DiveComputer {
	if logger == nil {
		logger = logrus.New()
	}
	return &DiveComputer{
		engine:     engine,
		newCentral: newCentral,
		scanner:    scanner.NewScanner(newCentral, engine, opts.Scan, logger),
		opts:       opts,
		logger:     logger,
		state:      Idle(),
	}
}

// WithPortLister replaces the OS serial port enumeration used by Scan.
func (d *DiveComputer) WithPortLister(l scanner.PortLister) *DiveComputer {
	d.scanner.WithPortLister(l)
	return d
}

// State returns a snapshot of the current state.
func (d *DiveComputer) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// DevInfo returns the model, firmware and serial the device reported during
// the last download.
func (d *DiveComputer) DevInfo() (libdc.DevInfoEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.devInfo == nil {
		return libdc.DevInfoEvent{}, false
	}
	return *d.devInfo, true
}

// updateState applies fn unless the running operation was cancelled.
func (d *DiveComputer) updateState(fn func(s *State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelled.Load() {
		return
	}
	fn(&d.state)
}

// Cancel aborts the running operation and forces Idle. The operation reports
// device.ErrCancelled once it has unwound.
func (d *DiveComputer) Cancel() {
	d.cancelled.Store(true)

	d.mu.Lock()
	stop := d.stop
	d.state = Idle()
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	d.logger.Info("Cancellation requested")
}

func (d *DiveComputer) isCancelled() bool {
	return d.cancelled.Load()
}

// begin claims the session for one operation and resets the cancel flag.
func (d *DiveComputer) begin(ctx context.Context, s State) (context.Context, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	d.cancelled.Store(false)

	ctx, stop := context.WithCancel(ctx)
	d.mu.Lock()
	d.state = s
	d.stop = stop
	d.mu.Unlock()
	return ctx, nil
}

// end releases the session. A failure moves to Error when failState is set;
// success and cancellation move to Idle.
func (d *DiveComputer) end(err error, failState bool) error {
	if err != nil && d.cancelled.Load() {
		err = device.PreferCancelled(err, device.ErrCancelled)
	}

	d.mu.Lock()
	switch {
	case err == nil, device.IsCancelled(err), !failState:
		d.state = Idle()
	default:
		d.state = Failed(err.Error())
	}
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	d.running.Store(false)
	return err
}

// Scan discovers dive computers on transport. The iterator finishes with
// device.ErrCancelled when Cancel or ctx stops the scan.
func (d *DiveComputer) Scan(ctx context.Context, transport device.Transport) (*DcIterator[device.DeviceInfo], error) {
	ctx, err := d.begin(ctx, Scanning(transport))
	if err != nil {
		return nil, err
	}

	it := newIterator[device.DeviceInfo]()
	groutine.Go(ctx, "dc-scan", func(ctx context.Context) {
		err := d.scanner.Scan(ctx, transport, d.isCancelled, it.send)
		it.finish(d.end(err, false))
	})
	return it, nil
}

// Download connects to info and streams the dives newer than fingerprint, a
// hex string that may be empty. Connection and download failures end the
// iterator with the error and leave the session in the Error state.
func (d *DiveComputer) Download(ctx context.Context, product libdc.Product, info device.DeviceInfo, fingerprint string) (*DcIterator[libdc.Dive], error) {
	if d.engine == nil {
		return nil, fmt.Errorf("%w: download needs the native engine", device.ErrUnsupported)
	}
	if info.Connection == nil {
		return nil, fmt.Errorf("%w: device %q has no connection", device.ErrInvalidArguments, info.Name)
	}
	fp, err := device.ParseFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	ctx, err = d.begin(ctx, Connecting(info))
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.devInfo = nil
	d.mu.Unlock()

	it := newIterator[libdc.Dive]()
	groutine.GoLocked(ctx, "dc-download", func(ctx context.Context) {
		err := d.download(ctx, product, info, fp, it)
		it.finish(d.end(err, true))
	})
	return it, nil
}

func (d *DiveComputer) download(ctx context.Context, product libdc.Product, info device.DeviceInfo, fp []byte, it *DcIterator[libdc.Dive]) error {
	log := d.logger.WithFields(logrus.Fields{
		"goroutine": groutine.GetName(ctx),
		"thread":    groutine.ThreadID(),
		"device":    info.Name,
		"product":   product.String(),
	})

	cio, err := d.openIO(ctx, info)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", info.Name, err)
	}
	if d.isCancelled() {
		closeIO(cio, log)
		return device.ErrCancelled
	}

	dev, err := d.engine.Open(ctx, product, info.Connection, cio)
	if err != nil {
		closeIO(cio, log)
		return fmt.Errorf("failed to open %s: %w", product, err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close device")
		}
	}()

	if err := dev.SetEvents(libdc.EventAll, d.eventHandler(info, log)); err != nil {
		return fmt.Errorf("failed to set event handler: %w", err)
	}
	if err := dev.SetCancel(d.isCancelled); err != nil {
		return fmt.Errorf("failed to set cancel callback: %w", err)
	}
	if len(fp) > 0 {
		if err := dev.SetFingerprint(fp); err != nil {
			return fmt.Errorf("failed to set device fingerprint: %w", err)
		}
		log.WithField("fingerprint", device.FormatFingerprint(fp)).Debug("Fingerprint applied")
	}

	d.updateState(func(s *State) { *s = Downloading(info, Progress{}, "") })
	log.Info("Downloading dives")

	var downloaded, skipped int
	err = dev.Foreach(func(data, fingerprint []byte) bool {
		dive, perr := dev.Parse(data, fingerprint)
		if perr != nil {
			skipped++
			log.WithError(perr).WithField("fingerprint", device.FormatFingerprint(fingerprint)).Warn("Skipping dive that failed to parse")
			return true
		}
		if dive.Number == 0 {
			dive.Number = downloaded + 1
		}
		if !it.send(*dive) {
			log.Debug("Dive consumer gone, stopping download")
			return false
		}
		downloaded++
		d.updateState(func(s *State) { s.CurrentTask = fmt.Sprintf("Downloaded dive %d", downloaded) })
		log.WithFields(logrus.Fields{
			"number":      dive.Number,
			"fingerprint": device.FormatFingerprint(dive.Fingerprint),
			"bytes":       len(data),
		}).Info("Dive downloaded")
		return true
	})
	if err != nil {
		return fmt.Errorf("download from %s failed: %w", info.Name, err)
	}

	log.WithFields(logrus.Fields{"dive_count": downloaded, "skipped": skipped}).Info("Download completed")
	return nil
}

// openIO opens the Go side of the transport. Transports the engine drives
// with its own drivers return a nil CustomIO.
func (d *DiveComputer) openIO(ctx context.Context, info device.DeviceInfo) (libdc.CustomIO, error) {
	switch conn := info.Connection.(type) {
	case device.BLEInfo:
		if d.newCentral == nil {
			return nil, device.ErrNoAdapter
		}
		central, err := d.newCentral()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE central: %w", err)
		}
		adapter, err := bleio.OpenSyncAdapter(ctx, central, conn.ConnectionString(), d.opts.BLE, d.logger)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case device.SerialInfo:
		port, err := serialio.Open(conn.Path, d.opts.Serial, d.logger)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	return nil, nil
}

func closeIO(cio libdc.CustomIO, log *logrus.Entry) {
	if cio == nil {
		return
	}
	if st := cio.Close(); !st.OK() {
		log.WithField("status", st).Warn("Failed to close transport")
	}
}

func (d *DiveComputer) eventHandler(info device.DeviceInfo, log *logrus.Entry) libdc.EventFunc {
	return func(ev libdc.Event) {
		switch ev.Type {
		case libdc.EventWaiting:
			d.updateState(func(s *State) { *s = WaitingForUser() })
			log.Info("Waiting for user action on the dive computer")

		case libdc.EventProgress:
			if ev.Progress == nil {
				return
			}
			p := Progress{Current: ev.Progress.Current, Total: ev.Progress.Maximum}
			d.updateState(func(s *State) {
				task := ""
				if s.Kind == KindDownloading {
					task = s.CurrentTask
				}
				*s = Downloading(info, p, task)
			})
			log.WithFields(logrus.Fields{"current": p.Current, "total": p.Total}).Debug("Download progress")

		case libdc.EventDevInfo:
			if ev.DevInfo == nil {
				return
			}
			di := *ev.DevInfo
			d.mu.Lock()
			d.devInfo = &di
			d.mu.Unlock()
			log.WithFields(logrus.Fields{
				"model":    di.Model,
				"firmware": di.Firmware,
				"serial":   di.Serial,
			}).Info("Device info")

		case libdc.EventClock:
			if ev.Clock == nil {
				return
			}
			log.WithFields(logrus.Fields{"devtime": ev.Clock.DevTime, "systime": ev.Clock.SysTime}).Debug("Device clock")

		case libdc.EventVendor:
			log.WithField("data", hex.EncodeToString(ev.Vendor)).Debug("Vendor event")
		}
	}
}
