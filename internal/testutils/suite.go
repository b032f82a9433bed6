package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/groutine"
	"github.com/stretchr/testify/suite"
)

// MockRadioSuite is a testify suite wiring a MockCentral, an optional fake
// peripheral and a tracking executor, so every test can assert that all
// goroutines it started have exited.
//
// Custom peripheral usage:
//
//	func (s *BridgeSuite) SetupTest() {
//	    s.WithPeripheral(testutils.ShearwaterPeripheral("AA:BB:CC:DD:EE:FF", "Perdix 2"))
//	    s.MockRadioSuite.SetupTest() // call parent last to apply configuration
//	}
type MockRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Central    *MockCentral
	Peripheral *FakePeripheral
	Executor   *groutine.TrackingExecutor

	// ExitTimeout bounds how long TearDownTest waits for goroutines.
	ExitTimeout time.Duration

	peripheralBuilder *PeripheralBuilder
	advertisements    []*AdvertisementBuilder
	restoreExecutor   func()
}

func (s *MockRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.ExitTimeout == 0 {
		s.ExitTimeout = 2 * time.Second
	}
}

// SetupTest builds the configured peripheral and central and installs the
// tracking executor.
func (s *MockRadioSuite) SetupTest() {
	s.Executor = groutine.NewTrackingExecutor()
	s.restoreExecutor = groutine.SetDefault(s.Executor)

	var ads []device.Advertisement
	for _, b := range s.advertisements {
		ads = append(ads, b.Build())
	}
	s.Central = NewMockCentral(ads...)

	if s.peripheralBuilder != nil {
		s.Peripheral = s.peripheralBuilder.Build()
		s.Central.ExpectDial(s.Peripheral.Address(), s.Peripheral).Maybe()
	}
}

// TearDownTest asserts the executor drained and resets configuration.
func (s *MockRadioSuite) TearDownTest() {
	if s.Executor != nil {
		s.True(s.Executor.Wait(s.ExitTimeout), "goroutines still running: %v", s.Executor.Names())
	}
	if s.restoreExecutor != nil {
		s.restoreExecutor()
		s.restoreExecutor = nil
	}
	s.peripheralBuilder = nil
	s.advertisements = nil
	s.Peripheral = nil
}

// WithPeripheral sets the peripheral built by the next SetupTest.
func (s *MockRadioSuite) WithPeripheral(b *PeripheralBuilder) *PeripheralBuilder {
	s.peripheralBuilder = b
	return b
}

// WithAdvertisement adds an advertisement reported by the next scan.
func (s *MockRadioSuite) WithAdvertisement(b *AdvertisementBuilder) *AdvertisementBuilder {
	s.advertisements = append(s.advertisements, b)
	return b
}
