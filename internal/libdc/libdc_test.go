package libdc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/dcdl/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Err(t *testing.T) {
	assert.NoError(t, StatusSuccess.Err())
	assert.NoError(t, StatusDone.Err())
	assert.ErrorIs(t, StatusTimeout.Err(), device.ErrTimeout)
	assert.ErrorIs(t, StatusCancelled.Err(), device.ErrCancelled)
	assert.ErrorIs(t, StatusInvalidArgs.Err(), device.ErrInvalidArguments)
	assert.ErrorIs(t, StatusUnsupported.Err(), device.ErrUnsupported)
	assert.ErrorIs(t, StatusNoDevice.Err(), device.ErrNoAdapter)
	assert.ErrorIs(t, StatusProtocol.Err(), &device.StatusError{Code: -8})
}

func TestStatus_ErrWithOp(t *testing.T) {
	err := StatusIO.ErrWithOp("dc_device_open")
	assert.EqualError(t, err, "dc_device_open: native status -6")

	err = StatusTimeout.ErrWithOp("dc_device_foreach")
	assert.ErrorIs(t, err, device.ErrTimeout)
	assert.EqualError(t, err, "dc_device_foreach: timeout")

	assert.NoError(t, StatusSuccess.ErrWithOp("noop"))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"cancelled", fmt.Errorf("x: %w", device.ErrCancelled), StatusCancelled},
		{"timeout", device.ErrTimeout, StatusTimeout},
		{"invalid", device.ErrInvalidArguments, StatusInvalidArgs},
		{"not found", &device.NotFoundError{Resource: "characteristic"}, StatusInvalidArgs},
		{"unsupported", device.ErrUnsupported, StatusUnsupported},
		{"native", &device.StatusError{Code: -9}, StatusDataFormat},
		{"no adapter", device.ErrNoAdapter, StatusNoDevice},
		{"closed", device.ErrChannelClosed, StatusIO},
		{"other", errors.New("boom"), StatusIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	for s := StatusCancelled; s <= StatusDone; s++ {
		if s.OK() {
			continue
		}
		assert.Equal(t, s, StatusOf(s.Err()), s.String())
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "status(-42)", Status(-42).String())
}

func TestIoctlRequests(t *testing.T) {
	assert.Equal(t, uint32(0x40006200), IoctlBLEGetName)
	assert.Equal(t, uint32(0x40006203), IoctlBLECharacteristicRead)
	assert.Equal(t, uint32(0x80006203), IoctlBLECharacteristicWrite)
	assert.Equal(t, uint32(1), IoctlDirection(IoctlBLEGetName))
	assert.Equal(t, byte('b'), IoctlType(IoctlBLESetAccessCode))
}

func TestLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LogWarning, lvl)
	assert.Equal(t, logrus.WarnLevel, lvl.Logrus())
	assert.Equal(t, logrus.TraceLevel, LogAll.Logrus())

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestForward(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	Forward(logger, LogRecord{Level: LogInfo, File: "device.c", Line: 42, Function: "dc_device_open", Message: "opened\n"})
	Forward(logger, LogRecord{Level: LogNone, Message: "dropped"})

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "opened", entry.Message)
	assert.Equal(t, "libdivecomputer", entry.Data["component"])
	assert.Equal(t, uint(42), entry.Data["line"])
}

func TestProduct_String(t *testing.T) {
	assert.Equal(t, "Shearwater Perdix", Product{Vendor: "Shearwater", Name: "Perdix"}.String())
	assert.Equal(t, "Perdix", Product{Name: "Perdix"}.String())
}
