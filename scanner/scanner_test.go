package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	perdixAddr = "EB:41:89:AF:7E:5D"
	tericAddr  = "C4:7F:51:00:12:34"
)

func fastOptions() BLEOptions {
	return BLEOptions{Budget: time.Second, Interval: 10 * time.Millisecond}
}

// collector records emitted candidates; limit > 0 makes it refuse after limit items.
type collector struct {
	mu    sync.Mutex
	items []device.DeviceInfo
	limit int
}

func (c *collector) emit(info device.DeviceInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, info)
	return c.limit == 0 || len(c.items) < c.limit
}

func (c *collector) all() []device.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.DeviceInfo(nil), c.items...)
}

type BLEScanSuite struct {
	testutils.MockRadioSuite
}

func TestBLEScanSuite(t *testing.T) {
	suite.Run(t, new(BLEScanSuite))
}

func (s *BLEScanSuite) scanner(opts BLEOptions) *Scanner {
	return NewScanner(s.Central.Factory(), nil, opts, s.Logger)
}

func (s *BLEScanSuite) TestShearwaterAdvertisement() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().
			WithName("Perdix 2").
			WithAddress(perdixAddr).
			WithServices(testutils.ShearwaterService).
			Build(),
	}

	var c collector
	err := s.scanner(fastOptions()).Scan(s.T().Context(), device.TransportBLE, nil, c.emit)
	s.Require().NoError(err)

	found := c.all()
	s.Require().Len(found, 1)
	ble, ok := found[0].Connection.(device.BLEInfo)
	s.Require().True(ok)
	s.Equal(testutils.ShearwaterLabel, ble.ServiceName)

	testutils.NewJSONAsserter(s.T()).AssertValue(found[0], `{
		"name": "Perdix 2 - Shearwater (Perdix/Teric/Peregrine/Tern)",
		"transport": "BLE",
		"connection": {
			"address": 258666715381341,
			"local_name": "Perdix 2",
			"service_name": "Shearwater (Perdix/Teric/Peregrine/Tern)",
			"address_string": "EB:41:89:AF:7E:5D"
		}
	}`)
}

func (s *BLEScanSuite) TestNameFallsBackToLabel() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().WithAddress(perdixAddr).WithServices("98ae7120-e62e-11e3-badd-0002a5d5c51b").Build(),
	}

	var c collector
	s.Require().NoError(s.scanner(fastOptions()).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))
	s.Require().Len(c.all(), 1)
	s.Equal("Suunto (EON Steel/Core, G5)", c.all()[0].Name)
}

func (s *BLEScanSuite) TestEmitsEachPeripheralOnce() {
	adv := testutils.NewAdvertisementBuilder().WithName("Perdix").WithAddress(perdixAddr).WithServices(testutils.ShearwaterService)
	s.Central.Advertisements = []device.Advertisement{adv.Build(), adv.Build(), adv.WithRSSI(-40).Build()}

	var c collector
	s.Require().NoError(s.scanner(fastOptions()).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))
	s.Len(c.all(), 1)
}

func (s *BLEScanSuite) TestRoundEmitsAllInDiscoveryOrder() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().WithName("Teric").WithAddress(tericAddr).WithServices(testutils.ShearwaterService).Build(),
		testutils.NewAdvertisementBuilder().WithName("HRM").WithAddress("00:11:22:33:44:55").WithServices("180d").Build(),
		testutils.NewAdvertisementBuilder().WithName("Perdix").WithAddress(perdixAddr).WithServices(testutils.ShearwaterService).Build(),
	}

	var c collector
	s.Require().NoError(s.scanner(fastOptions()).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))

	var addrs []string
	for _, d := range c.all() {
		addrs = append(addrs, d.Connection.ConnectionString())
	}
	s.Equal([]string{tericAddr, perdixAddr}, addrs)
}

func (s *BLEScanSuite) TestNoMatchRunsFullBudget() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().WithName("HRM").WithAddress(perdixAddr).WithServices("180d").Build(),
	}
	opts := fastOptions()
	opts.Budget = 80 * time.Millisecond

	var c collector
	start := time.Now()
	s.Require().NoError(s.scanner(opts).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))
	s.GreaterOrEqual(time.Since(start), opts.Budget)
	s.Empty(c.all())
}

func (s *BLEScanSuite) TestCancelWithinOneTick() {
	s.Central.ScanDelay = time.Hour
	opts := fastOptions()
	opts.Budget = 10 * time.Second

	var flag atomic.Bool
	var c collector
	done := make(chan error, 1)
	go func() {
		done <- s.scanner(opts).Scan(s.T().Context(), device.TransportBLE, flag.Load, c.emit)
	}()

	time.Sleep(30 * time.Millisecond)
	flag.Store(true)
	start := time.Now()

	err := testutils.Receive(s.T(), done, time.Second)
	s.ErrorIs(err, device.ErrCancelled)
	s.Less(time.Since(start), opts.Interval+100*time.Millisecond)
	s.Empty(c.all())
}

func (s *BLEScanSuite) TestContextCancelIsCancellation() {
	s.Central.ScanDelay = time.Hour
	ctx, cancel := context.WithCancel(s.T().Context())
	time.AfterFunc(20*time.Millisecond, cancel)

	var c collector
	err := s.scanner(fastOptions()).Scan(ctx, device.TransportBLE, nil, c.emit)
	s.ErrorIs(err, device.ErrCancelled)
}

func (s *BLEScanSuite) TestConsumerGoneStopsWithoutError() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().WithAddress(tericAddr).WithServices(testutils.ShearwaterService).Build(),
		testutils.NewAdvertisementBuilder().WithAddress(perdixAddr).WithServices(testutils.ShearwaterService).Build(),
	}

	c := collector{limit: 1}
	s.Require().NoError(s.scanner(fastOptions()).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))
	s.Len(c.all(), 1)
}

func (s *BLEScanSuite) TestBlockList() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().WithAddress(perdixAddr).WithServices(testutils.ShearwaterService).Build(),
	}
	opts := fastOptions()
	opts.Budget = 50 * time.Millisecond
	opts.BlockList = []string{perdixAddr}

	var c collector
	s.Require().NoError(s.scanner(opts).Scan(s.T().Context(), device.TransportBLE, nil, c.emit))
	s.Empty(c.all())
}

func (s *BLEScanSuite) TestRadioFailure() {
	central := &testutils.MockCentral{}
	central.On("Scan", mock.Anything, mock.Anything).Return(errors.New("can't init hci: no such device"))

	var c collector
	err := NewScanner(central.Factory(), nil, fastOptions(), s.Logger).Scan(s.T().Context(), device.TransportBLE, nil, c.emit)
	s.ErrorIs(err, device.ErrNoAdapter)
}

func TestScan_CentralFactoryFailure(t *testing.T) {
	factory := func() (device.Central, error) { return nil, device.ErrNoAdapter }
	err := NewScanner(factory, nil, fastOptions(), nil).Scan(t.Context(), device.TransportBLE, nil, func(device.DeviceInfo) bool { return true })
	assert.ErrorIs(t, err, device.ErrNoAdapter)
}

func TestScan_UnknownTransport(t *testing.T) {
	err := NewScanner(nil, nil, BLEOptions{}, nil).Scan(t.Context(), device.TransportNone, nil, func(device.DeviceInfo) bool { return true })
	assert.ErrorIs(t, err, device.ErrInvalidArguments)
}

func TestDefaultBLEOptions(t *testing.T) {
	o := DefaultBLEOptions()
	assert.Equal(t, 5*time.Second, o.Budget)
	assert.Equal(t, 100*time.Millisecond, o.Interval)
	assert.True(t, o.AllowDuplicates)
}
