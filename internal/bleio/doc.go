// Package bleio bridges the native engine's blocking custom I/O slots onto an
// asynchronous BLE peripheral.
//
// A Bridge is a single-goroutine actor that owns one live connection. It
// multiplexes radio notifications, commands and a timeout tick through one
// select, and is the only code that touches its PacketBuffer, PollManager and
// peripheral. A SyncAdapter turns each custom I/O call into exactly one
// Bridge command and blocks the calling goroutine on the reply.
package bleio
