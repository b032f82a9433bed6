package scanner

import (
	"errors"
	"testing"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialEngine() *testutils.FakeEngine {
	return &testutils.FakeEngine{
		Endpoints: map[device.Transport][]device.ConnectionInfo{
			device.TransportSerial: {
				device.SerialInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0"},
				device.SerialInfo{Name: "ttyUSB1", Path: "/dev/ttyUSB1"},
			},
			device.TransportUSBHID: {
				device.USBHIDInfo{VendorID: 0x1493, ProductID: 0x0030},
			},
		},
	}
}

func TestEngineEnumeration(t *testing.T) {
	engine := serialEngine()
	var c collector

	err := NewScanner(nil, engine, BLEOptions{}, nil).Scan(t.Context(), device.TransportSerial, nil, c.emit)
	require.NoError(t, err)

	found := c.all()
	require.Len(t, found, 2)
	assert.Equal(t, "ttyUSB0", found[0].Name)
	assert.Equal(t, device.TransportSerial, found[1].Transport)
	require.Len(t, engine.Iterators(), 1)
	assert.Equal(t, 1, engine.Iterators()[0].Closed())
}

func TestEngineEnumeration_DisplayName(t *testing.T) {
	var c collector
	err := NewScanner(nil, serialEngine(), BLEOptions{}, nil).Scan(t.Context(), device.TransportUSBHID, nil, c.emit)
	require.NoError(t, err)
	require.Len(t, c.all(), 1)
	assert.Equal(t, "Suunto EON Steel", c.all()[0].Name)
}

func TestEngineEnumeration_CancelBetweenSteps(t *testing.T) {
	engine := serialEngine()
	var c collector
	cancelled := func() bool { return len(c.all()) > 0 }

	err := NewScanner(nil, engine, BLEOptions{}, nil).Scan(t.Context(), device.TransportSerial, cancelled, c.emit)
	assert.ErrorIs(t, err, device.ErrCancelled)
	assert.Len(t, c.all(), 1)
	assert.Equal(t, 1, engine.Iterators()[0].Closed(), "iterator released on cancellation")
}

func TestEngineEnumeration_ConsumerGone(t *testing.T) {
	engine := serialEngine()
	c := collector{limit: 1}

	err := NewScanner(nil, engine, BLEOptions{}, nil).Scan(t.Context(), device.TransportSerial, nil, c.emit)
	assert.NoError(t, err)
	assert.Equal(t, 1, engine.Iterators()[0].Closed(), "iterator released when the consumer leaves")
}

func TestEngineEnumeration_IterateFailure(t *testing.T) {
	engine := serialEngine()
	engine.IterateErr = errors.New("dc_iterator_new failed")

	var c collector
	err := NewScanner(nil, engine, BLEOptions{}, nil).Scan(t.Context(), device.TransportSerial, nil, c.emit)
	assert.ErrorContains(t, err, "dc_iterator_new failed")
}

func TestSerialPortFallback(t *testing.T) {
	s := NewScanner(nil, nil, BLEOptions{}, nil).WithPortLister(func() ([]string, error) {
		return []string{"/dev/ttyUSB0", "COM3"}, nil
	})

	var c collector
	require.NoError(t, s.Scan(t.Context(), device.TransportSerial, nil, c.emit))
	require.Len(t, c.all(), 2)
	assert.Equal(t, device.SerialInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0"}, c.all()[0].Connection)
	assert.Equal(t, "COM3", c.all()[1].Name)
}

func TestSerialPortFallback_Failure(t *testing.T) {
	s := NewScanner(nil, nil, BLEOptions{}, nil).WithPortLister(func() ([]string, error) {
		return nil, errors.New("permission denied")
	})
	var c collector
	assert.ErrorContains(t, s.Scan(t.Context(), device.TransportSerial, nil, c.emit), "permission denied")
}

func TestEnumerationWithoutEngine(t *testing.T) {
	var c collector
	err := NewScanner(nil, nil, BLEOptions{}, nil).Scan(t.Context(), device.TransportUSB, nil, c.emit)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}
