package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
)

// Central implements device.Central on top of a go-ble HCI/CoreBluetooth device.
// The underlying ble.Device is created lazily on first use and shared by
// every scan and dial made through this Central.
type Central struct {
	logger *logrus.Logger

	once sync.Once
	dev  ble.Device
	err  error
}

// NewCentral creates a Central. The radio is not touched until Scan or Dial.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{logger: logger}
}

// NewCentralFactory returns a device.CentralFactory producing one shared Central.
func NewCentralFactory(logger *logrus.Logger) device.CentralFactory {
	c := NewCentral(logger)
	return func() (device.Central, error) {
		return c, nil
	}
}

func (c *Central) bleDevice() (ble.Device, error) {
	c.once.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			c.logger.WithError(err).Error("Failed to create BLE device")
			c.err = NormalizeError(err)
			return
		}
		c.dev = dev
	})
	return c.dev, c.err
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to device.Advertisement.
func (c *Central) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := c.bleDevice()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to address and discovers the complete GATT profile.
func (c *Central) Dial(ctx context.Context, address string) (device.Peripheral, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: device address is empty", device.ErrInvalidArguments)
	}

	dev, err := c.bleDevice()
	if err != nil {
		return nil, err
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	p := newPeripheral(client, address, profile, c.logger)

	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"name":     p.Name(),
		"services": len(p.services),
	}).Info("BLE device connected successfully")
	return p, nil
}
