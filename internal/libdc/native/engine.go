//go:build libdivecomputer

package native

/*
#cgo pkg-config: libdivecomputer
#include "native.h"
*/
import "C"

import (
	"context"
	"fmt"
	"runtime/cgo"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
)

// Engine owns one dc_context_t. It is safe for use by one operation at a
// time, which is what the session layer guarantees.
type Engine struct {
	mu     sync.Mutex
	ctx    *C.dc_context_t
	handle cgo.Handle
	logger *logrus.Logger
}

// ioBinding is what a custom iostream's userdata handle resolves to.
// detached is set when Open fails so closing the iostream leaves io to the
// caller.
type ioBinding struct {
	io       libdc.CustomIO
	detached atomic.Bool
}

// New creates a context forwarding native log lines at level and above to logger.
func New(level libdc.LogLevel, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{logger: logger}
	if st := libdc.Status(C.dc_context_new(&e.ctx)); !st.OK() {
		return nil, st.ErrWithOp("dc_context_new")
	}
	e.handle = cgo.NewHandle(e)
	C.dc_context_set_loglevel(e.ctx, C.dc_loglevel_t(level))
	if st := libdc.Status(C.dcdl_set_logfunc(e.ctx, C.uintptr_t(e.handle))); !st.OK() {
		logger.WithField("status", st).Warn("Failed to install native log sink")
	}

	logger.WithFields(logrus.Fields{
		"version":    Version(),
		"transports": e.Transports(),
	}).Debug("libdivecomputer context created")
	return e, nil
}

// Version returns the library version string.
func Version() string {
	var v C.dc_version_t
	C.dc_version(&v)
	return fmt.Sprintf("%d.%d.%d", int(v.major), int(v.minor), int(v.micro))
}

func (e *Engine) Transports() device.Transport {
	// BLE is always driven through custom I/O, never by the library itself.
	return device.Transport(C.dc_context_get_transports(e.ctx)) &^ device.TransportBLE
}

// Products lists every dive computer the library knows, in library order.
func (e *Engine) Products() ([]libdc.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var products []libdc.Product
	err := e.eachDescriptor(func(desc *C.dc_descriptor_t) bool {
		products = append(products, productOf(desc))
		return true
	})
	return products, err
}

func (e *Engine) eachDescriptor(fn func(*C.dc_descriptor_t) bool) error {
	var it *C.dc_iterator_t
	if st := libdc.Status(C.dc_descriptor_iterator_new(&it, e.ctx)); !st.OK() {
		return st.ErrWithOp("dc_descriptor_iterator_new")
	}
	defer C.dc_iterator_free(it)

	for {
		var desc *C.dc_descriptor_t
		st := libdc.Status(C.dc_iterator_next(it, unsafe.Pointer(&desc)))
		if st == libdc.StatusDone {
			return nil
		}
		if !st.OK() {
			return st.ErrWithOp("dc_iterator_next")
		}
		more := fn(desc)
		if !more {
			return nil
		}
	}
}

func productOf(desc *C.dc_descriptor_t) libdc.Product {
	return libdc.Product{
		Vendor:     C.GoString(C.dc_descriptor_get_vendor(desc)),
		Name:       C.GoString(C.dc_descriptor_get_product(desc)),
		Model:      uint32(C.dc_descriptor_get_model(desc)),
		Family:     uint32(C.dc_descriptor_get_type(desc)),
		Transports: device.Transport(C.dc_descriptor_get_transports(desc)),
	}
}

func matches(want, got libdc.Product) bool {
	if want.Name == "" {
		return want.Family == got.Family && want.Model == got.Model
	}
	if want.Vendor != "" && !strings.EqualFold(want.Vendor, got.Vendor) {
		return false
	}
	return strings.EqualFold(want.Name, got.Name)
}

// descriptor finds product's descriptor. The caller frees it.
func (e *Engine) descriptor(product libdc.Product) (*C.dc_descriptor_t, error) {
	var found *C.dc_descriptor_t
	err := e.eachDescriptor(func(desc *C.dc_descriptor_t) bool {
		if found == nil && matches(product, productOf(desc)) {
			found = desc
			return false
		}
		C.dc_descriptor_free(desc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &device.NotFoundError{Resource: "product", UUIDs: []string{product.String()}}
	}
	return found, nil
}

func (e *Engine) Open(ctx context.Context, product libdc.Product, conn device.ConnectionInfo, cio libdc.CustomIO) (libdc.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.PreferCancelled(err, device.ErrCancelled)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection", device.ErrInvalidArguments)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	desc, err := e.descriptor(product)
	if err != nil {
		return nil, err
	}
	defer C.dc_descriptor_free(desc)

	if !device.Transport(C.dc_descriptor_get_transports(desc)).Has(conn.Transport()) {
		return nil, fmt.Errorf("%w: %s does not support %s", device.ErrUnsupported, product, conn.Transport())
	}

	d := &Device{logger: e.logger}
	if cio != nil {
		d.binding = &ioBinding{io: cio}
		d.ioHandle = cgo.NewHandle(d.binding)
		st := libdc.Status(C.dcdl_custom_open(&d.stream, e.ctx, C.dc_transport_t(conn.Transport()), C.uintptr_t(d.ioHandle)))
		if !st.OK() {
			d.ioHandle.Delete()
			return nil, st.ErrWithOp("dc_custom_open")
		}
	} else {
		stream, err := e.openStream(desc, conn)
		if err != nil {
			return nil, err
		}
		d.stream = stream
	}

	d.handle = cgo.NewHandle(d)
	if st := libdc.Status(C.dc_device_open(&d.dev, e.ctx, desc, d.stream)); !st.OK() {
		if d.binding != nil {
			d.binding.detached.Store(true)
		}
		d.release()
		return nil, st.ErrWithOp("dc_device_open")
	}

	e.logger.WithFields(logrus.Fields{
		"product":   product.String(),
		"transport": conn.Transport(),
		"custom_io": cio != nil,
	}).Info("Native device opened")
	return d, nil
}

// openStream opens conn with the library's own drivers.
func (e *Engine) openStream(desc *C.dc_descriptor_t, conn device.ConnectionInfo) (*C.dc_iostream_t, error) {
	var stream *C.dc_iostream_t
	var st libdc.Status

	switch c := conn.(type) {
	case device.SerialInfo:
		path := C.CString(c.Path)
		defer C.free(unsafe.Pointer(path))
		st = libdc.Status(C.dc_serial_open(&stream, e.ctx, path))
	case device.IrDAInfo:
		st = libdc.Status(C.dc_irda_open(&stream, e.ctx, C.uint(c.Address), 1))
	case device.BluetoothInfo:
		st = libdc.Status(C.dc_bluetooth_open(&stream, e.ctx, C.dc_bluetooth_address_t(c.Address), 0))
	case device.USBHIDInfo:
		return e.openUSB(desc, device.TransportUSBHID, c.VendorID, c.ProductID)
	case device.USBInfo:
		return e.openUSB(desc, device.TransportUSB, c.VendorID, c.ProductID)
	default:
		return nil, fmt.Errorf("%w: %s needs custom I/O", device.ErrUnsupported, conn.Transport())
	}

	if !st.OK() {
		return nil, st.ErrWithOp(fmt.Sprintf("open %s", conn.Transport()))
	}
	return stream, nil
}

// openUSB re-enumerates transport and opens the first endpoint with vid:pid.
func (e *Engine) openUSB(desc *C.dc_descriptor_t, transport device.Transport, vid, pid uint16) (*C.dc_iostream_t, error) {
	var it *C.dc_iterator_t
	var st libdc.Status
	if transport == device.TransportUSBHID {
		st = libdc.Status(C.dc_usbhid_iterator_new(&it, e.ctx, desc))
	} else {
		st = libdc.Status(C.dc_usb_iterator_new(&it, e.ctx, desc))
	}
	if !st.OK() {
		return nil, st.ErrWithOp(fmt.Sprintf("%s iterator", transport))
	}
	defer C.dc_iterator_free(it)

	for {
		var item unsafe.Pointer
		st := libdc.Status(C.dc_iterator_next(it, unsafe.Pointer(&item)))
		if st == libdc.StatusDone {
			return nil, &device.NotFoundError{Resource: "usb device", UUIDs: []string{fmt.Sprintf("%04X:%04X", vid, pid)}}
		}
		if !st.OK() {
			return nil, st.ErrWithOp(fmt.Sprintf("%s iterator", transport))
		}

		var stream *C.dc_iostream_t
		if transport == device.TransportUSBHID {
			dev := (*C.dc_usbhid_device_t)(item)
			hit := uint16(C.dc_usbhid_device_get_vid(dev)) == vid && uint16(C.dc_usbhid_device_get_pid(dev)) == pid
			if hit {
				st = libdc.Status(C.dc_usbhid_open(&stream, e.ctx, dev))
			}
			C.dc_usbhid_device_free(dev)
			if hit {
				return stream, st.ErrWithOp("dc_usbhid_open")
			}
			continue
		}

		dev := (*C.dc_usb_device_t)(item)
		hit := uint16(C.dc_usb_device_get_vid(dev)) == vid && uint16(C.dc_usb_device_get_pid(dev)) == pid
		if hit {
			st = libdc.Status(C.dc_usb_open(&stream, e.ctx, dev))
		}
		C.dc_usb_device_free(dev)
		if hit {
			return stream, st.ErrWithOp("dc_usb_open")
		}
	}
}

func (e *Engine) Iterate(ctx context.Context, transport device.Transport) (libdc.DeviceIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.PreferCancelled(err, device.ErrCancelled)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var it *C.dc_iterator_t
	var st libdc.Status
	switch transport {
	case device.TransportSerial:
		st = libdc.Status(C.dc_serial_iterator_new(&it, e.ctx, nil))
	case device.TransportUSB:
		st = libdc.Status(C.dc_usb_iterator_new(&it, e.ctx, nil))
	case device.TransportUSBHID:
		st = libdc.Status(C.dc_usbhid_iterator_new(&it, e.ctx, nil))
	case device.TransportIrDA:
		st = libdc.Status(C.dc_irda_iterator_new(&it, e.ctx, nil))
	case device.TransportBluetooth:
		st = libdc.Status(C.dc_bluetooth_iterator_new(&it, e.ctx, nil))
	default:
		return nil, fmt.Errorf("%w: native enumeration of %s", device.ErrUnsupported, transport)
	}
	if !st.OK() {
		return nil, st.ErrWithOp(fmt.Sprintf("%s iterator", transport))
	}
	return &Iterator{it: it, transport: transport}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		return nil
	}
	st := libdc.Status(C.dc_context_free(e.ctx))
	e.ctx = nil
	e.handle.Delete()
	return st.ErrWithOp("dc_context_free")
}

var _ libdc.Engine = (*Engine)(nil)
