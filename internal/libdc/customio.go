package libdc

// CustomIO is the six-slot I/O table the native engine drives a transport
// through. Every method is called synchronously from the engine's worker and
// may block it; none is called concurrently with another on the same value.
type CustomIO interface {
	// SetTimeout sets the default wait used by Poll(0) and blocking reads, in
	// milliseconds. Negative means no deadline; 0 keeps the current default.
	SetTimeout(timeoutMs int) Status

	// Poll waits up to timeoutMs for readable data. StatusSuccess when data is
	// available, StatusTimeout when the wait expired. 0 uses the default;
	// negative waits until data arrives or the transport closes.
	Poll(timeoutMs int) Status

	// Read copies at most len(buf) bytes. A short read is not an error.
	Read(buf []byte) (int, Status)

	// Write sends buf and returns the number of bytes accepted.
	Write(buf []byte) (int, Status)

	// Ioctl handles transport specific requests. Unknown requests return
	// StatusUnsupported; malformed buffers StatusInvalidArgs.
	Ioctl(request uint32, buf []byte) Status

	// Close releases the transport. It is idempotent; other slots called
	// afterwards return StatusIO.
	Close() Status
}
