package serialio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakeConn replays scripted reads; an empty script behaves like a silent line.
type fakeConn struct {
	mu       sync.Mutex
	reads    [][]byte
	readErr  error
	written  []byte
	timeouts []time.Duration
	purged   int
	closed   int
	closeErr error
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.reads) == 0 {
		return 0, nil
	}
	n := copy(p, c.reads[0])
	if n < len(c.reads[0]) {
		c.reads[0] = c.reads[0][n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) SetReadTimeout(t time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts = append(c.timeouts, t)
	return nil
}

func (c *fakeConn) ResetInputBuffer() error {
	c.purged++
	return nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return c.closeErr
}

func (c *fakeConn) lastTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeouts[len(c.timeouts)-1]
}

func openFake(t *testing.T, conn *fakeConn) *Port {
	t.Helper()
	var gotMode *serial.Mode
	opts := Options{
		Timeout: 250 * time.Millisecond,
		Opener: func(path string, mode *serial.Mode) (Conn, error) {
			gotMode = mode
			return conn, nil
		},
	}
	p, err := Open("/dev/ttyUSB0", opts, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	require.NotNil(t, gotMode)
	assert.Equal(t, 115200, gotMode.BaudRate)
	assert.Equal(t, 8, gotMode.DataBits)
	assert.Equal(t, serial.NoParity, gotMode.Parity)
	assert.Equal(t, serial.OneStopBit, gotMode.StopBits)
	return p
}

func TestOpen_PurgesInput(t *testing.T) {
	conn := &fakeConn{}
	p := openFake(t, conn)

	assert.Equal(t, 1, conn.purged)
	assert.Equal(t, "/dev/ttyUSB0", p.Path())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("", Options{}, nil)
	require.ErrorIs(t, err, device.ErrInvalidArguments)

	boom := errors.New("permission denied")
	_, err = Open("/dev/ttyS9", Options{Opener: func(string, *serial.Mode) (Conn, error) {
		return nil, boom
	}}, nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "/dev/ttyS9")
}

func TestWrite(t *testing.T) {
	conn := &fakeConn{}
	p := openFake(t, conn)

	n, st := p.Write([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, libdc.StatusSuccess, st)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, conn.written)
}

func TestPoll_BuffersDataForRead(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{{0xAA, 0xBB, 0xCC}}}
	p := openFake(t, conn)

	require.Equal(t, libdc.StatusSuccess, p.Poll(0))
	assert.Equal(t, 250*time.Millisecond, conn.lastTimeout())
	// A second poll is answered from the buffer.
	require.Equal(t, libdc.StatusSuccess, p.Poll(0))

	buf := make([]byte, 2)
	n, st := p.Read(buf)
	require.Equal(t, libdc.StatusSuccess, st)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[:n])

	n, st = p.Read(buf)
	require.Equal(t, libdc.StatusSuccess, st)
	assert.Equal(t, []byte{0xCC}, buf[:n])
}

func TestPoll_Timeout(t *testing.T) {
	conn := &fakeConn{}
	p := openFake(t, conn)

	assert.Equal(t, libdc.StatusTimeout, p.Poll(40))
	assert.Equal(t, 40*time.Millisecond, conn.lastTimeout())
}

func TestPoll_NegativeWaitsIndefinitely(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{{0x10}}}
	p := openFake(t, conn)

	require.Equal(t, libdc.StatusSuccess, p.Poll(-1))
	assert.Equal(t, serial.NoTimeout, conn.lastTimeout())
}

func TestRead_DirectAndTimeout(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{{1, 2, 3, 4}}}
	p := openFake(t, conn)

	buf := make([]byte, 10)
	n, st := p.Read(buf)
	require.Equal(t, libdc.StatusSuccess, st)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	n, st = p.Read(buf)
	assert.Equal(t, libdc.StatusTimeout, st)
	assert.Zero(t, n)

	n, st = p.Read(nil)
	assert.Equal(t, libdc.StatusSuccess, st)
	assert.Zero(t, n)
}

func TestRead_Error(t *testing.T) {
	conn := &fakeConn{readErr: errors.New("device unplugged")}
	p := openFake(t, conn)

	_, st := p.Read(make([]byte, 4))
	assert.Equal(t, libdc.StatusIO, st)
	assert.Equal(t, libdc.StatusIO, p.Poll(0))
}

func TestSetTimeout(t *testing.T) {
	conn := &fakeConn{}
	p := openFake(t, conn)

	require.Equal(t, libdc.StatusSuccess, p.SetTimeout(500))
	p.Poll(0)
	assert.Equal(t, 500*time.Millisecond, conn.lastTimeout())

	require.Equal(t, libdc.StatusSuccess, p.SetTimeout(0))
	p.Poll(0)
	assert.Equal(t, 500*time.Millisecond, conn.lastTimeout(), "zero keeps the current timeout")

	require.Equal(t, libdc.StatusSuccess, p.SetTimeout(-1))
	p.Poll(0)
	assert.Equal(t, serial.NoTimeout, conn.lastTimeout())
}

func TestIoctl_Unsupported(t *testing.T) {
	p := openFake(t, &fakeConn{})

	assert.Equal(t, libdc.StatusUnsupported, p.Ioctl(libdc.IoctlBLEGetName, make([]byte, 8)))
}

func TestClose(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{{1}}}
	p := openFake(t, conn)

	assert.Equal(t, libdc.StatusSuccess, p.Close())
	assert.Equal(t, libdc.StatusSuccess, p.Close())
	assert.Equal(t, 1, conn.closed)

	_, st := p.Read(make([]byte, 1))
	assert.Equal(t, libdc.StatusIO, st)
	_, st = p.Write([]byte{1})
	assert.Equal(t, libdc.StatusIO, st)
	assert.Equal(t, libdc.StatusIO, p.Poll(0))
	assert.Equal(t, libdc.StatusIO, p.SetTimeout(10))
	assert.Equal(t, libdc.StatusIO, p.Ioctl(libdc.IoctlBLEGetName, nil))
}

func TestClose_Error(t *testing.T) {
	conn := &fakeConn{closeErr: errors.New("busy")}
	p := openFake(t, conn)

	assert.Equal(t, libdc.StatusIO, p.Close())
	assert.Equal(t, libdc.StatusIO, p.Close())
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 115200, o.BaudRate)
	assert.Equal(t, 8, o.DataBits)
	assert.Equal(t, 1200*time.Millisecond, o.Timeout)
	assert.Equal(t, 256, o.ChunkSize)
}
