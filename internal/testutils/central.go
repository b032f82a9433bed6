package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/srg/dcdl/internal/device"
	"github.com/stretchr/testify/mock"
)

// FakeAdvertisement implements device.Advertisement.
type FakeAdvertisement struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	ServiceUUIDs  []string `json:"services"`
	Strength      int      `json:"rssi"`
	IsConnectable bool     `json:"connectable"`
}

func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) Services() []string { return device.NormalizeUUIDs(a.ServiceUUIDs) }
func (a *FakeAdvertisement) RSSI() int          { return a.Strength }
func (a *FakeAdvertisement) Addr() string       { return a.Address }
func (a *FakeAdvertisement) Connectable() bool  { return a.IsConnectable }

// AdvertisementBuilder builds fake advertisements.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a connectable advertisement with no services.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{IsConnectable: true, Strength: -60}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Strength = rssi
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON fills the advertisement from JSON. Panics on invalid JSON.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &b.adv); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	adv.ServiceUUIDs = append([]string(nil), b.adv.ServiceUUIDs...)
	return &adv
}

// MockCentral is a testify mock of device.Central. Scan delivers the
// configured advertisements after ScanDelay and then blocks until ctx is done,
// like a real radio scan.
type MockCentral struct {
	mock.Mock

	Advertisements []device.Advertisement
	ScanDelay      time.Duration
}

var _ device.Central = (*MockCentral)(nil)

// NewMockCentral returns a central advertising ads. Scan is expected by default.
func NewMockCentral(ads ...device.Advertisement) *MockCentral {
	m := &MockCentral{Advertisements: ads}
	m.On("Scan", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup)
	if err := args.Error(0); err != nil {
		return err
	}

	if m.ScanDelay > 0 {
		select {
		case <-time.After(m.ScanDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, adv := range m.Advertisements {
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockCentral) Dial(ctx context.Context, address string) (device.Peripheral, error) {
	args := m.Called(ctx, address)
	p, _ := args.Get(0).(device.Peripheral)
	return p, args.Error(1)
}

// ExpectDial makes Dial(address) return p.
func (m *MockCentral) ExpectDial(address string, p device.Peripheral) *mock.Call {
	return m.On("Dial", mock.Anything, address).Return(p, nil)
}

// Factory returns a device.CentralFactory yielding m.
func (m *MockCentral) Factory() device.CentralFactory {
	return func() (device.Central, error) { return m, nil }
}
