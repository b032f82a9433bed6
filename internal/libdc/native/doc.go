// Package native binds libdivecomputer through cgo and implements the
// libdc.Engine interface on top of it.
//
// The binding is only compiled with the libdivecomputer build tag and needs
// the library's pkg-config file:
//
//	go build -tags libdivecomputer ./cmd/dcdl
//
// Go values handed to C (custom I/O tables, devices, the log sink) travel as
// runtime/cgo handles; callbacks resolve the handle and dispatch to Go.
package native
