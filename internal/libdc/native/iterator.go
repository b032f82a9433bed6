//go:build libdivecomputer

package native

/*
#include "native.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
)

// Iterator enumerates endpoints of one transport.
type Iterator struct {
	it        *C.dc_iterator_t
	transport device.Transport
}

func (i *Iterator) Next() (device.ConnectionInfo, error) {
	if i.it == nil {
		return nil, libdc.ErrIteratorDone
	}

	var item unsafe.Pointer
	st := libdc.Status(C.dc_iterator_next(i.it, unsafe.Pointer(&item)))
	if st == libdc.StatusDone {
		return nil, libdc.ErrIteratorDone
	}
	if !st.OK() {
		return nil, st.ErrWithOp(fmt.Sprintf("%s iterator", i.transport))
	}

	switch i.transport {
	case device.TransportSerial:
		dev := (*C.dc_serial_device_t)(item)
		defer C.dc_serial_device_free(dev)
		path := C.GoString(C.dc_serial_device_get_name(dev))
		return device.SerialInfo{Name: device.ExtractDeviceName(path), Path: path}, nil
	case device.TransportUSB:
		dev := (*C.dc_usb_device_t)(item)
		defer C.dc_usb_device_free(dev)
		return device.USBInfo{
			VendorID:  uint16(C.dc_usb_device_get_vid(dev)),
			ProductID: uint16(C.dc_usb_device_get_pid(dev)),
		}, nil
	case device.TransportUSBHID:
		dev := (*C.dc_usbhid_device_t)(item)
		defer C.dc_usbhid_device_free(dev)
		return device.USBHIDInfo{
			VendorID:  uint16(C.dc_usbhid_device_get_vid(dev)),
			ProductID: uint16(C.dc_usbhid_device_get_pid(dev)),
		}, nil
	case device.TransportIrDA:
		dev := (*C.dc_irda_device_t)(item)
		defer C.dc_irda_device_free(dev)
		return device.IrDAInfo{
			Address: uint32(C.dc_irda_device_get_address(dev)),
			Name:    C.GoString(C.dc_irda_device_get_name(dev)),
		}, nil
	case device.TransportBluetooth:
		dev := (*C.dc_bluetooth_device_t)(item)
		defer C.dc_bluetooth_device_free(dev)
		addr := uint64(C.dc_bluetooth_device_get_address(dev))
		return device.BluetoothInfo{
			Address:       addr,
			Name:          C.GoString(C.dc_bluetooth_device_get_name(dev)),
			AddressString: device.FormatBluetoothAddress(addr),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", device.ErrUnsupported, i.transport)
}

func (i *Iterator) Close() error {
	if i.it == nil {
		return nil
	}
	st := libdc.Status(C.dc_iterator_free(i.it))
	i.it = nil
	return st.ErrWithOp("dc_iterator_free")
}

var _ libdc.DeviceIterator = (*Iterator)(nil)
