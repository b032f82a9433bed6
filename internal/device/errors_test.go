package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferCancelled(t *testing.T) {
	ioErr := errors.New("io failure")
	cancelled := fmt.Errorf("scan: %w", ErrCancelled)

	assert.Nil(t, PreferCancelled())
	assert.Nil(t, PreferCancelled(nil, nil))
	assert.Equal(t, ioErr, PreferCancelled(nil, ioErr, ErrTimeout))
	assert.Equal(t, cancelled, PreferCancelled(ioErr, cancelled, ErrTimeout))
	assert.True(t, IsCancelled(PreferCancelled(ErrChannelClosed, cancelled)))
}

func TestStatusError(t *testing.T) {
	err := fmt.Errorf("open: %w", &StatusError{Code: -6, Op: "dc_device_open"})

	assert.ErrorIs(t, err, &StatusError{Code: -6})
	assert.NotErrorIs(t, err, &StatusError{Code: -7})
	assert.EqualError(t, err, "open: dc_device_open: native status -6")

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, -6, se.Code)
}

func TestNotFoundError(t *testing.T) {
	assert.EqualError(t, &NotFoundError{Resource: "service"}, "service not found")
	assert.EqualError(t, &NotFoundError{Resource: "service", UUIDs: []string{"180d"}}, `service "180d" not found`)
	assert.EqualError(t,
		&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}},
		`characteristic "2a37" not found in service "180d"`)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		target error
	}{
		{"darwin powered off", "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", ErrNoAdapter},
		{"linux no hci", "can't init hci: no devices available", ErrNoAdapter},
		{"not connected", "device not connected", ErrNotConnected},
		{"disconnected", "peripheral disconnected", ErrNotConnected},
		{"already connected", "Device already connected", ErrAlreadyConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := errors.New(tt.msg)
			err := NormalizeError(orig)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain))
	assert.Nil(t, NormalizeError(nil))
}

func TestConnectionError(t *testing.T) {
	err := fmt.Errorf("write: %w", &ConnectionError{State: NotConnected, Msg: "link lost"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, "not_connected: link lost", errors.Unwrap(err).Error())
}
