package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/dcdl/internal/device"
)

var propertyMap = []struct {
	ble ble.Property
	dev device.Property
}{
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
}

// NewProperties converts go-ble property bits to device.Property.
func NewProperties(p ble.Property) device.Property {
	var out device.Property
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			out |= m.dev
		}
	}
	return out
}
