//go:build linux

package groutine

import "golang.org/x/sys/unix"

// ThreadID returns the kernel id of the calling OS thread.
// Only meaningful on a goroutine locked with runtime.LockOSThread.
func ThreadID() int {
	return unix.Gettid()
}
