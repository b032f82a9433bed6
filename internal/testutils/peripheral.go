package testutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/srg/dcdl/internal/device"
)

// CharacteristicConfig represents a GATT characteristic of a fake peripheral.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "write-without-response,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a GATT service of a fake peripheral.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfile is the complete fake peripheral description.
type PeripheralProfile struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

// WriteHook is invoked for every write the peripheral receives.
type WriteHook func(p *FakePeripheral, data []byte)

// PeripheralBuilder builds FakePeripheral instances with a fluent API.
type PeripheralBuilder struct {
	profile PeripheralProfile
	onWrite WriteHook
}

// NewPeripheralBuilder creates an empty builder.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// ShearwaterPeripheral returns a builder for a peripheral exposing the
// Shearwater service with one write-without-response and one notify
// characteristic, plus a readable characteristic.
func ShearwaterPeripheral(address, name string) *PeripheralBuilder {
	return NewPeripheralBuilder().
		WithAddress(address).
		WithName(name).
		WithService(ShearwaterService).
		WithCharacteristic(ShearwaterDataChar, "write-without-response,notify", nil).
		WithCharacteristic(ShearwaterInfoChar, "read", []byte("PERDIX2"))
}

// Well known identifiers used across tests.
const (
	ShearwaterService  = "fe25c237-0ece-443c-b0aa-e02033e7029d"
	ShearwaterDataChar = "27b7570b-359e-45a3-91bb-cf7e70049bd2"
	ShearwaterInfoChar = "00002a29-0000-1000-8000-00805f9b34fb"
	ShearwaterLabel    = "Shearwater (Perdix/Teric/Peregrine/Tern)"
)

func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.profile.Address = address
	return b
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithService adds a service to the profile.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON replaces the profile with the one described by JSON.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var profile PeripheralProfile
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &profile); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = profile
	return b
}

// OnWrite installs a hook invoked for every write.
func (b *PeripheralBuilder) OnWrite(hook WriteHook) *PeripheralBuilder {
	b.onWrite = hook
	return b
}

// Profile returns the configured profile.
func (b *PeripheralBuilder) Profile() PeripheralProfile {
	return b.profile
}

// Build creates the fake peripheral.
func (b *PeripheralBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		address:      b.profile.Address,
		name:         b.profile.Name,
		handlers:     make(map[string]func([]byte)),
		onWrite:      b.onWrite,
		disconnected: make(chan struct{}),
	}
	for _, sc := range b.profile.Services {
		svc := &FakeService{uuid: device.NormalizeUUID(sc.UUID)}
		for _, cc := range sc.Characteristics {
			svc.chars = append(svc.chars, &FakeCharacteristic{
				uuid:  device.NormalizeUUID(cc.UUID),
				props: device.ParseProperties(cc.Properties),
				value: cc.Value,
			})
		}
		p.services = append(p.services, svc)
	}
	return p
}

// FakeCharacteristic implements device.Characteristic.
type FakeCharacteristic struct {
	uuid  string
	props device.Property
	value []byte
}

func (c *FakeCharacteristic) UUID() string                { return c.uuid }
func (c *FakeCharacteristic) Properties() device.Property { return c.props }

// FakeService implements device.Service.
type FakeService struct {
	uuid  string
	chars []*FakeCharacteristic
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristics() []device.Characteristic {
	out := make([]device.Characteristic, len(s.chars))
	for i, c := range s.chars {
		out[i] = c
	}
	return out
}

// FakePeripheral implements device.Peripheral in memory. Tests drive inbound
// traffic with Notify and inspect outbound traffic with Writes.
type FakePeripheral struct {
	address  string
	name     string
	services []device.Service

	mu         sync.Mutex
	handlers   map[string]func([]byte)
	writes     [][]byte
	writeErr   error
	onWrite    WriteHook
	charReads  int
	disconnect sync.Once

	disconnected chan struct{}
	disconnects  atomic.Int32
}

var _ device.Peripheral = (*FakePeripheral)(nil)

func (p *FakePeripheral) Address() string           { return p.address }
func (p *FakePeripheral) Name() string              { return p.name }
func (p *FakePeripheral) Services() []device.Service { return p.services }

func (p *FakePeripheral) Subscribe(c device.Characteristic, handler func([]byte)) error {
	if !c.Properties().Has(device.PropNotify | device.PropIndicate) {
		return fmt.Errorf("characteristic %s does not support notifications", c.UUID())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[c.UUID()] = handler
	return nil
}

func (p *FakePeripheral) Unsubscribe(c device.Characteristic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, c.UUID())
	return nil
}

func (p *FakePeripheral) WriteWithoutResponse(c device.Characteristic, data []byte) error {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return err
	}
	p.writes = append(p.writes, append([]byte(nil), data...))
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, data)
	}
	return nil
}

func (p *FakePeripheral) ReadCharacteristic(c device.Characteristic) ([]byte, error) {
	fc, ok := c.(*FakeCharacteristic)
	if !ok || !fc.props.Has(device.PropRead) {
		return nil, errors.New("characteristic does not support read")
	}
	p.mu.Lock()
	p.charReads++
	p.mu.Unlock()
	return append([]byte(nil), fc.value...), nil
}

func (p *FakePeripheral) Disconnect() error {
	p.disconnects.Add(1)
	p.disconnect.Do(func() { close(p.disconnected) })
	return nil
}

func (p *FakePeripheral) Disconnected() <-chan struct{} {
	return p.disconnected
}

// Notify delivers data to every subscribed characteristic handler.
func (p *FakePeripheral) Notify(data []byte) error {
	p.mu.Lock()
	handlers := make([]func([]byte), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	if len(handlers) == 0 {
		return errors.New("no subscribed characteristic")
	}
	for _, h := range handlers {
		h(data)
	}
	return nil
}

// DropLink simulates the radio link going away without a Disconnect call.
func (p *FakePeripheral) DropLink() {
	p.disconnect.Do(func() { close(p.disconnected) })
}

// SetWriteError makes every following write fail with err.
func (p *FakePeripheral) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Writes returns a copy of every write received so far, in order.
func (p *FakePeripheral) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// CharacteristicReads returns how many direct characteristic reads happened.
func (p *FakePeripheral) CharacteristicReads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.charReads
}

// Subscribed reports whether uuid has a notification handler.
func (p *FakePeripheral) Subscribed(uuid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[device.NormalizeUUID(uuid)]
	return ok
}

// Disconnects returns how many times Disconnect was called.
func (p *FakePeripheral) Disconnects() int {
	return int(p.disconnects.Load())
}

// IsDisconnected reports whether the link is down.
func (p *FakePeripheral) IsDisconnected() bool {
	select {
	case <-p.disconnected:
		return true
	default:
		return false
	}
}
