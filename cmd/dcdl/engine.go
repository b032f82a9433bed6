package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	goble "github.com/srg/dcdl/internal/device/go-ble"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/session"
	"github.com/srg/dcdl/pkg/config"
)

// Factories are variables so tests can inject fakes.
var (
	// EngineFactory opens the native engine; it returns a nil engine when the
	// binary was built without one.
	EngineFactory = newEngine
	// CentralFactory builds the BLE radio access.
	CentralFactory = goble.NewCentralFactory
	// PortLister replaces the OS serial port list when non-nil.
	PortLister func() ([]string, error)
)

// productLister is implemented by engines that expose their descriptor table.
type productLister interface {
	Products() ([]libdc.Product, error)
}

// newDiveComputer builds a session from cfg. The returned func releases the engine.
func newDiveComputer(cfg *config.Config, logger *logrus.Logger) (*session.DiveComputer, libdc.Engine, func(), error) {
	engine, err := EngineFactory(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to start native engine: %w", err)
	}

	release := func() {
		if engine == nil {
			return
		}
		if err := engine.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close native engine")
		}
	}

	dc := session.New(engine, CentralFactory(logger), cfg.SessionOptions(), logger)
	if PortLister != nil {
		dc.WithPortLister(PortLister)
	}
	return dc, engine, release, nil
}

// cancelOnInterrupt calls cancel on Ctrl+C, SIGTERM or when ctx ends.
// The returned func stops listening.
func cancelOnInterrupt(ctx context.Context, w io.Writer, what string, cancel func()) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintf(w, "\nCtrl+C pressed, cancelling %s...\n", what)
			cancel()
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// requireEngine fails with errNoEngine unless the engine handles transport.
func requireEngine(engine libdc.Engine, transport device.Transport) error {
	if engine == nil {
		return errNoEngine
	}
	if transport != device.TransportBLE && transport != device.TransportSerial && !engine.Transports().Has(transport) {
		return fmt.Errorf("%w: the native engine was built without %s support", device.ErrUnsupported, transport)
	}
	return nil
}
