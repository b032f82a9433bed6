//go:build libdivecomputer

package native

/*
#include "native.h"
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/srg/dcdl/internal/libdc"
)

//export dcdlLog
func dcdlLog(level C.dc_loglevel_t, file *C.char, line C.uint, function *C.char, message *C.char, handle C.uintptr_t) {
	e, ok := cgo.Handle(handle).Value().(*Engine)
	if !ok {
		return
	}
	libdc.Forward(e.logger, libdc.LogRecord{
		Level:    libdc.LogLevel(level),
		File:     C.GoString(file),
		Line:     uint(line),
		Function: C.GoString(function),
		Message:  C.GoString(message),
	})
}

func ioFor(handle C.uintptr_t) *ioBinding {
	b, _ := cgo.Handle(handle).Value().(*ioBinding)
	return b
}

//export dcdlIOSetTimeout
func dcdlIOSetTimeout(handle C.uintptr_t, timeout C.int) C.dc_status_t {
	b := ioFor(handle)
	if b == nil {
		return C.dc_status_t(C.DC_STATUS_IO)
	}
	return C.dc_status_t(b.io.SetTimeout(int(timeout)))
}

//export dcdlIOPoll
func dcdlIOPoll(handle C.uintptr_t, timeout C.int) C.dc_status_t {
	b := ioFor(handle)
	if b == nil {
		return C.dc_status_t(C.DC_STATUS_IO)
	}
	return C.dc_status_t(b.io.Poll(int(timeout)))
}

//export dcdlIORead
func dcdlIORead(handle C.uintptr_t, data unsafe.Pointer, size C.size_t, actual *C.size_t) C.dc_status_t {
	b := ioFor(handle)
	if b == nil {
		return C.dc_status_t(C.DC_STATUS_IO)
	}
	var buf []byte
	if size > 0 {
		buf = unsafe.Slice((*byte)(data), int(size))
	}
	n, st := b.io.Read(buf)
	if actual != nil {
		*actual = C.size_t(n)
	}
	return C.dc_status_t(st)
}

//export dcdlIOWrite
func dcdlIOWrite(handle C.uintptr_t, data unsafe.Pointer, size C.size_t, actual *C.size_t) C.dc_status_t {
	b := ioFor(handle)
	if b == nil {
		return C.dc_status_t(C.DC_STATUS_IO)
	}
	n, st := b.io.Write(C.GoBytes(data, C.int(size)))
	if actual != nil {
		*actual = C.size_t(n)
	}
	return C.dc_status_t(st)
}

//export dcdlIOIoctl
func dcdlIOIoctl(handle C.uintptr_t, request C.uint, data unsafe.Pointer, size C.size_t) C.dc_status_t {
	b := ioFor(handle)
	if b == nil {
		return C.dc_status_t(C.DC_STATUS_IO)
	}
	var buf []byte
	if size > 0 {
		buf = unsafe.Slice((*byte)(data), int(size))
	}
	return C.dc_status_t(b.io.Ioctl(uint32(request), buf))
}

//export dcdlIOClose
func dcdlIOClose(handle C.uintptr_t) C.dc_status_t {
	b := ioFor(handle)
	if b == nil || b.detached.Load() {
		return C.dc_status_t(C.DC_STATUS_SUCCESS)
	}
	return C.dc_status_t(b.io.Close())
}

func deviceFor(handle C.uintptr_t) *Device {
	d, _ := cgo.Handle(handle).Value().(*Device)
	return d
}

//export dcdlEvent
func dcdlEvent(event C.dc_event_type_t, data unsafe.Pointer, handle C.uintptr_t) {
	d := deviceFor(handle)
	if d == nil || d.events == nil {
		return
	}

	ev := libdc.Event{Type: libdc.EventType(event)}
	switch event {
	case C.DC_EVENT_WAITING:
	case C.DC_EVENT_PROGRESS:
		p := (*C.dc_event_progress_t)(data)
		ev.Progress = &libdc.ProgressEvent{Current: uint32(p.current), Maximum: uint32(p.maximum)}
	case C.DC_EVENT_DEVINFO:
		p := (*C.dc_event_devinfo_t)(data)
		ev.DevInfo = &libdc.DevInfoEvent{Model: uint32(p.model), Firmware: uint32(p.firmware), Serial: uint32(p.serial)}
	case C.DC_EVENT_CLOCK:
		p := (*C.dc_event_clock_t)(data)
		ev.Clock = &libdc.ClockEvent{DevTime: uint32(p.devtime), SysTime: int64(p.systime)}
	case C.DC_EVENT_VENDOR:
		p := (*C.dc_event_vendor_t)(data)
		ev.Vendor = C.GoBytes(unsafe.Pointer(p.data), C.int(p.size))
	default:
		return
	}
	d.events(ev)
}

//export dcdlCancel
func dcdlCancel(handle C.uintptr_t) C.int {
	d := deviceFor(handle)
	if d != nil && d.cancel != nil && d.cancel() {
		return 1
	}
	return 0
}

//export dcdlDive
func dcdlDive(data *C.uchar, size C.uint, fingerprint *C.uchar, fsize C.uint, handle C.uintptr_t) C.int {
	d := deviceFor(handle)
	if d == nil || d.dive == nil {
		return 0
	}
	raw := C.GoBytes(unsafe.Pointer(data), C.int(size))
	fp := C.GoBytes(unsafe.Pointer(fingerprint), C.int(fsize))
	if d.dive(raw, fp) {
		return 1
	}
	return 0
}
