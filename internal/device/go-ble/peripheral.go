package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
)

// BLECharacteristic wraps a discovered *ble.Characteristic.
type BLECharacteristic struct {
	uuid  string
	props device.Property
	char  *ble.Characteristic
}

func (c *BLECharacteristic) UUID() string               { return c.uuid }
func (c *BLECharacteristic) Properties() device.Property { return c.props }

// BLEService wraps a discovered *ble.Service, keeping characteristic discovery order.
type BLEService struct {
	uuid            string
	characteristics []device.Characteristic
}

func (s *BLEService) UUID() string                             { return s.uuid }
func (s *BLEService) Characteristics() []device.Characteristic { return s.characteristics }

// BLEPeripheral is a connected go-ble client with its discovered profile.
type BLEPeripheral struct {
	client   ble.Client
	address  string
	services []device.Service
	logger   *logrus.Logger

	mu         sync.Mutex
	subscribed map[*ble.Characteristic]bool // value: subscribed as indication
	closed     bool
}

func newPeripheral(client ble.Client, address string, profile *ble.Profile, logger *logrus.Logger) *BLEPeripheral {
	p := &BLEPeripheral{
		client:     client,
		address:    address,
		logger:     logger,
		subscribed: make(map[*ble.Characteristic]bool),
	}

	for _, bleSvc := range profile.Services {
		svc := &BLEService{uuid: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			svc.characteristics = append(svc.characteristics, &BLECharacteristic{
				uuid:  device.NormalizeUUID(bleChar.UUID.String()),
				props: NewProperties(bleChar.Property),
				char:  bleChar,
			})
			logger.WithFields(logrus.Fields{
				"service_uuid": svc.uuid,
				"char_uuid":    bleChar.UUID.String(),
			}).Debug("Found characteristic UUID")
		}
		p.services = append(p.services, svc)
	}
	return p
}

func (p *BLEPeripheral) Address() string           { return p.address }
func (p *BLEPeripheral) Services() []device.Service { return p.services }

// Name returns the GAP name reported by the stack, falling back to the address.
func (p *BLEPeripheral) Name() string {
	if name := p.client.Name(); name != "" {
		return name
	}
	return p.address
}

func (p *BLEPeripheral) unwrap(c device.Characteristic) (*ble.Characteristic, error) {
	bc, ok := c.(*BLECharacteristic)
	if !ok || bc == nil || bc.char == nil {
		uuid := ""
		if c != nil {
			uuid = c.UUID()
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return bc.char, nil
}

// Subscribe prefers notifications and falls back to indications.
func (p *BLEPeripheral) Subscribe(c device.Characteristic, handler func([]byte)) error {
	char, err := p.unwrap(c)
	if err != nil {
		return err
	}

	ind := !c.Properties().Has(device.PropNotify) && c.Properties().Has(device.PropIndicate)
	if err := p.client.Subscribe(char, ind, func(data []byte) {
		handler(data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.UUID(), NormalizeError(err))
	}

	p.mu.Lock()
	p.subscribed[char] = ind
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"char_uuid":  c.UUID(),
		"indication": ind,
	}).Debug("Subscribed to characteristic")
	return nil
}

func (p *BLEPeripheral) Unsubscribe(c device.Characteristic) error {
	char, err := p.unwrap(c)
	if err != nil {
		return err
	}

	p.mu.Lock()
	ind, ok := p.subscribed[char]
	delete(p.subscribed, char)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return NormalizeError(p.client.Unsubscribe(char, ind))
}

func (p *BLEPeripheral) WriteWithoutResponse(c device.Characteristic, data []byte) error {
	char, err := p.unwrap(c)
	if err != nil {
		return err
	}
	// Characteristics exposing only acknowledged writes still get a write request.
	noRsp := c.Properties().Has(device.PropWriteWithoutResponse)
	return NormalizeError(p.client.WriteCharacteristic(char, data, noRsp))
}

func (p *BLEPeripheral) ReadCharacteristic(c device.Characteristic) ([]byte, error) {
	char, err := p.unwrap(c)
	if err != nil {
		return nil, err
	}
	data, err := p.client.ReadCharacteristic(char)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return data, nil
}

// Disconnect unsubscribes everything and cancels the connection. Safe to call twice.
func (p *BLEPeripheral) Disconnect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subscribed
	p.subscribed = make(map[*ble.Characteristic]bool)
	p.mu.Unlock()

	for char, ind := range subs {
		if err := p.client.Unsubscribe(char, ind); err != nil {
			p.logger.WithFields(logrus.Fields{
				"char_uuid": char.UUID.String(),
				"error":     err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	p.logger.WithField("address", p.address).Info("Disconnecting BLE device...")
	if err := p.client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (p *BLEPeripheral) Disconnected() <-chan struct{} {
	return p.client.Disconnected()
}
