package goble

import (
	"fmt"

	"github.com/srg/dcdl/internal/device"
)

// NormalizeError maps go-ble error strings to the device error taxonomy.
// CoreBluetooth reports a powered-off radio with a fixed message that is
// matched exactly before falling back to device.NormalizeError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	if err.Error() == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?" {
		return fmt.Errorf("%w: %v", device.ErrNoAdapter, err)
	}
	return device.NormalizeError(err)
}
