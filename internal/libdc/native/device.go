//go:build libdivecomputer

package native

/*
#include <limits.h>
#include "native.h"
*/
import "C"

import (
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/srg/dcdl/internal/libdc"
)

// Device wraps a dc_device_t and the iostream it was opened on.
type Device struct {
	dev      *C.dc_device_t
	stream   *C.dc_iostream_t
	handle   cgo.Handle
	binding  *ioBinding
	ioHandle cgo.Handle
	logger   *logrus.Logger

	events libdc.EventFunc
	cancel libdc.CancelFunc
	dive   libdc.DiveFunc

	closeOnce sync.Once
	closeErr  error
}

func (d *Device) SetEvents(mask libdc.EventType, fn libdc.EventFunc) error {
	d.events = fn
	return libdc.Status(C.dcdl_set_events(d.dev, C.uint(mask), C.uintptr_t(d.handle))).ErrWithOp("dc_device_set_events")
}

func (d *Device) SetCancel(fn libdc.CancelFunc) error {
	d.cancel = fn
	return libdc.Status(C.dcdl_set_cancel(d.dev, C.uintptr_t(d.handle))).ErrWithOp("dc_device_set_cancel")
}

func (d *Device) SetFingerprint(fp []byte) error {
	if len(fp) == 0 {
		return libdc.Status(C.dc_device_set_fingerprint(d.dev, nil, 0)).ErrWithOp("dc_device_set_fingerprint")
	}
	buf := C.CBytes(fp)
	defer C.free(buf)
	return libdc.Status(C.dc_device_set_fingerprint(d.dev, (*C.uchar)(buf), C.uint(len(fp)))).ErrWithOp("dc_device_set_fingerprint")
}

func (d *Device) Foreach(fn libdc.DiveFunc) error {
	d.dive = fn
	defer func() { d.dive = nil }()
	return libdc.Status(C.dcdl_foreach(d.dev, C.uintptr_t(d.handle))).ErrWithOp("dc_device_foreach")
}

func (d *Device) Parse(data, fingerprint []byte) (*libdc.Dive, error) {
	if len(data) == 0 {
		return nil, libdc.StatusDataFormat.ErrWithOp("dc_parser_new")
	}

	// The parser keeps a pointer to data until it is destroyed.
	buf := C.CBytes(data)
	defer C.free(buf)

	var parser *C.dc_parser_t
	if st := libdc.Status(C.dc_parser_new(&parser, d.dev, (*C.uchar)(buf), C.size_t(len(data)))); !st.OK() {
		return nil, st.ErrWithOp("dc_parser_new")
	}
	defer C.dc_parser_destroy(parser)

	dive := &libdc.Dive{
		Fingerprint: append([]byte(nil), fingerprint...),
		Raw:         data,
	}

	var dt C.dc_datetime_t
	if st := libdc.Status(C.dc_parser_get_datetime(parser, &dt)); !st.OK() {
		return nil, st.ErrWithOp("dc_parser_get_datetime")
	}
	loc := time.Local
	if dt.timezone != C.INT_MIN {
		loc = time.FixedZone("", int(dt.timezone))
	}
	dive.Start = time.Date(int(dt.year), time.Month(dt.month), int(dt.day), int(dt.hour), int(dt.minute), int(dt.second), 0, loc)

	var divetime C.uint
	if st := libdc.Status(C.dc_parser_get_field(parser, C.DC_FIELD_DIVETIME, 0, unsafe.Pointer(&divetime))); !st.OK() {
		return nil, st.ErrWithOp("dc_parser_get_field(divetime)")
	}
	dive.Duration = time.Duration(divetime) * time.Second

	var depth C.double
	if st := libdc.Status(C.dc_parser_get_field(parser, C.DC_FIELD_MAXDEPTH, 0, unsafe.Pointer(&depth))); !st.OK() {
		return nil, st.ErrWithOp("dc_parser_get_field(maxdepth)")
	}
	dive.MaxDepth = float64(depth)

	// Average depth is optional; many families never report it.
	if st := libdc.Status(C.dc_parser_get_field(parser, C.DC_FIELD_AVGDEPTH, 0, unsafe.Pointer(&depth))); st.OK() {
		dive.AvgDepth = float64(depth)
	}
	return dive, nil
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		var st libdc.Status
		if d.dev != nil {
			st = libdc.Status(C.dc_device_close(d.dev))
			d.dev = nil
		}
		d.release()
		d.closeErr = st.ErrWithOp("dc_device_close")
		if d.closeErr != nil {
			d.logger.WithError(d.closeErr).Warn("Native device close failed")
		}
	})
	return d.closeErr
}

// release closes the iostream and drops every handle.
func (d *Device) release() {
	if d.stream != nil {
		C.dc_iostream_close(d.stream)
		d.stream = nil
	}
	if d.binding != nil {
		d.ioHandle.Delete()
		d.binding = nil
	}
	if d.handle != 0 {
		d.handle.Delete()
		d.handle = 0
	}
}

var _ libdc.Device = (*Device)(nil)
