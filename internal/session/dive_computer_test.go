package session

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/serialio"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.bug.st/serial"
)

const perdixAddress = "EB:41:89:AF:7E:5D"

var (
	perdix = libdc.Product{Vendor: "Shearwater", Name: "Perdix 2", Transports: device.TransportBLE}
	eon    = libdc.Product{Vendor: "Suunto", Name: "EON Steel", Transports: device.TransportUSBHID}

	eonInfo = device.NewDeviceInfo(device.USBHIDInfo{VendorID: 0x1493, ProductID: 0x0030})
)

func perdixInfo() device.DeviceInfo {
	return device.NewDeviceInfo(device.BLEInfo{
		LocalName:     "Perdix 2",
		ServiceName:   testutils.ShearwaterLabel,
		AddressString: perdixAddress,
	})
}

func fastOptions() Options {
	o := DefaultOptions()
	o.Scan.Budget = 300 * time.Millisecond
	o.Scan.Interval = 10 * time.Millisecond
	o.BLE.PollTimeout = 2 * time.Second
	return o
}

type SessionSuite struct {
	testutils.MockRadioSuite

	engine *testutils.FakeEngine
	dc     *DiveComputer
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()
	s.engine = &testutils.FakeEngine{}
	s.dc = New(s.engine, s.Central.Factory(), fastOptions(), s.Logger)
}

func (s *SessionSuite) waitState(kind Kind) State {
	var st State
	s.Require().Eventually(func() bool {
		st = s.dc.State()
		return st.Kind == kind
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s", kind)
	return st
}

func (s *SessionSuite) TestDownload_StreamsDives() {
	s.engine.Dives = [][]byte{
		testutils.FakeDive(3, 45, 32),
		testutils.FakeDive(2, 50, 18),
		testutils.FakeDive(1, 61, 40),
	}
	s.engine.DevInfo = &libdc.DevInfoEvent{Model: 0x30, Firmware: 2, Serial: 123456}

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)

	dives, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(dives, 3)
	s.Equal([]int{3, 2, 1}, []int{dives[0].Number, dives[1].Number, dives[2].Number})
	s.Equal(45*time.Minute, dives[0].Duration)
	s.InDelta(32.0, dives[0].MaxDepth, 1e-9)
	s.Equal(testutils.FakeDiveFingerprint(3), dives[0].Fingerprint)

	s.Equal(KindIdle, s.dc.State().Kind)
	info, ok := s.dc.DevInfo()
	s.True(ok)
	s.Equal(uint32(123456), info.Serial)

	opens := s.engine.Opens()
	s.Require().Len(opens, 1)
	s.False(opens[0].HasIO, "USB HID runs on the engine's own drivers")
	s.Equal(eon, opens[0].Product)
	s.True(s.engine.Devices()[0].IsClosed())
}

func (s *SessionSuite) TestDownload_SkipsUnparseableDives() {
	s.engine.Dives = [][]byte{
		testutils.FakeDive(3, 45, 32),
		testutils.BadDive(2),
		testutils.FakeDive(1, 61, 40),
	}

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)

	dives, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(dives, 2)
	s.Equal(3, dives[0].Number)
	s.Equal(1, dives[1].Number)
}

func (s *SessionSuite) TestDownload_AppliesFingerprint() {
	s.engine.Dives = [][]byte{
		testutils.FakeDive(3, 45, 32),
		testutils.FakeDive(2, 50, 18),
		testutils.FakeDive(1, 61, 40),
	}
	fp := device.FormatFingerprint(testutils.FakeDiveFingerprint(2))

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, fp)
	s.Require().NoError(err)

	dives, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(dives, 1, "enumeration stops at the last known dive")
	s.Equal(3, dives[0].Number)
	s.Equal(testutils.FakeDiveFingerprint(2), s.engine.Devices()[0].Fingerprint())
}

func (s *SessionSuite) TestDownload_RejectsBadInput() {
	_, err := s.dc.Download(s.T().Context(), eon, eonInfo, "not-hex")
	s.ErrorIs(err, device.ErrInvalidArguments)

	_, err = s.dc.Download(s.T().Context(), eon, device.DeviceInfo{Name: "ghost"}, "")
	s.ErrorIs(err, device.ErrInvalidArguments)

	_, err = New(nil, nil, fastOptions(), s.Logger).Download(s.T().Context(), eon, eonInfo, "")
	s.ErrorIs(err, device.ErrUnsupported)

	s.Equal(KindIdle, s.dc.State().Kind)
	s.Empty(s.engine.Opens())
}

func (s *SessionSuite) TestDownload_EventsDriveState() {
	s.engine.Dives = [][]byte{
		testutils.FakeDive(3, 45, 32),
		testutils.FakeDive(2, 50, 18),
		testutils.FakeDive(1, 61, 40),
	}
	s.engine.Waiting = true
	s.engine.BlockAfter = 1

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)

	first, err := it.Next(s.T().Context())
	s.Require().NoError(err)
	s.Equal(3, first.Number)

	st := s.waitState(KindDownloading)
	s.Require().Eventually(func() bool {
		st = s.dc.State()
		return st.CurrentTask != ""
	}, time.Second, 5*time.Millisecond)
	s.Equal(Progress{Current: 1, Total: 3}, st.Progress)
	s.Equal("Downloaded dive 1", st.CurrentTask)
	s.Equal("Downloading dives from Suunto EON Steel: 33.3%", st.String())
	s.True(st.IsBusy())

	s.dc.Cancel()
	s.Equal(KindIdle, s.dc.State().Kind, "cancel forces idle immediately")

	rest, err := it.Collect(s.T().Context())
	s.Empty(rest)
	s.ErrorIs(err, device.ErrCancelled)
	s.Equal(KindIdle, s.dc.State().Kind)
	s.True(s.engine.Devices()[0].IsClosed())
}

func (s *SessionSuite) TestDownload_OpenFailureSetsErrorState() {
	s.engine.OpenErr = libdc.StatusIO.ErrWithOp("dc_device_open")

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)

	_, err = it.Collect(s.T().Context())
	s.Require().Error(err)
	s.ErrorIs(err, &device.StatusError{Code: int(libdc.StatusIO)})

	st := s.dc.State()
	s.Equal(KindError, st.Kind)
	s.Contains(st.Message, "failed to open Suunto EON Steel")
	s.Contains(st.String(), "Dive computer failed: ")

	// the next operation clears the error
	scan, err := s.dc.Scan(s.T().Context(), device.TransportUSBHID)
	s.Require().NoError(err)
	_, err = scan.Collect(s.T().Context())
	s.NoError(err)
	s.Equal(KindIdle, s.dc.State().Kind)
}

func (s *SessionSuite) TestDownload_ForeachFailureSetsErrorState() {
	p := testutils.ShearwaterPeripheral(perdixAddress, "Perdix 2").Build()
	p.SetWriteError(errors.New("device not connected"))
	s.Central.ExpectDial(perdixAddress, p)

	it, err := s.dc.Download(s.T().Context(), perdix, perdixInfo(), "")
	s.Require().NoError(err)

	_, err = it.Collect(s.T().Context())
	s.Require().Error(err)
	s.Contains(err.Error(), "download from Perdix 2")
	s.Equal(KindError, s.dc.State().Kind)
	s.Equal(1, p.Disconnects())
}

func (s *SessionSuite) TestDownload_Busy() {
	s.engine.Dives = [][]byte{testutils.FakeDive(1, 30, 12), testutils.FakeDive(2, 30, 12)}
	s.engine.BlockAfter = 1

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)
	_, err = it.Next(s.T().Context())
	s.Require().NoError(err)

	_, err = s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.ErrorIs(err, ErrBusy)
	_, err = s.dc.Scan(s.T().Context(), device.TransportBLE)
	s.ErrorIs(err, ErrBusy)

	s.dc.Cancel()
	<-it.Done()
	s.ErrorIs(it.Err(), device.ErrCancelled)
}

func (s *SessionSuite) TestDownload_ConsumerCloseStopsEarly() {
	for i := range 10 {
		s.engine.Dives = append(s.engine.Dives, testutils.FakeDive(uint32(10-i), 30, 12))
	}
	s.engine.StepDelay = 20 * time.Millisecond

	it, err := s.dc.Download(s.T().Context(), eon, eonInfo, "")
	s.Require().NoError(err)
	_, err = it.Next(s.T().Context())
	s.Require().NoError(err)

	it.Close()
	select {
	case <-it.Done():
	case <-time.After(2 * time.Second):
		s.Fail("download did not stop after the consumer closed")
	}
	s.NoError(it.Err())
	s.Equal(KindIdle, s.dc.State().Kind)
	s.True(s.engine.Devices()[0].IsClosed())
}

func (s *SessionSuite) TestDownload_OverBLE() {
	dives := [][]byte{
		testutils.FakeDive(3, 45, 32),
		testutils.FakeDive(2, 50, 18),
		testutils.FakeDive(1, 61, 40),
	}
	p := testutils.ShearwaterPeripheral(perdixAddress, "Perdix 2").OnWrite(testutils.ServeDives(dives, 3)).Build()
	s.Central.ExpectDial(perdixAddress, p)

	it, err := s.dc.Download(s.T().Context(), perdix, perdixInfo(), "")
	s.Require().NoError(err)

	got, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	for i, d := range got {
		s.Equal(dives[i], d.Raw)
	}

	opens := s.engine.Opens()
	s.Require().Len(opens, 1)
	s.True(opens[0].HasIO, "BLE runs through the Go bridge")
	s.Central.AssertCalled(s.T(), "Dial", mock.Anything, perdixAddress)
	s.Equal(1, p.Disconnects(), "closing the device tears the bridge down")
	s.Equal(KindIdle, s.dc.State().Kind)
}

func (s *SessionSuite) TestDownload_BLEDialFailure() {
	s.Central.On("Dial", mock.Anything, perdixAddress).Return(nil, errors.New("connection refused"))

	it, err := s.dc.Download(s.T().Context(), perdix, perdixInfo(), "")
	s.Require().NoError(err)

	_, err = it.Collect(s.T().Context())
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to connect to Perdix 2")
	s.Equal(KindError, s.dc.State().Kind)
	s.Empty(s.engine.Opens())
}

func (s *SessionSuite) TestScan_BLE() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.NewAdvertisementBuilder().
			WithAddress(perdixAddress).
			WithName("Perdix 2").
			WithServices(testutils.ShearwaterService).
			Build(),
	}

	it, err := s.dc.Scan(s.T().Context(), device.TransportBLE)
	s.Require().NoError(err)

	found, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("Perdix 2 - "+testutils.ShearwaterLabel, found[0].Name)
	s.Equal(device.TransportBLE, found[0].Transport)
	s.Equal(KindIdle, s.dc.State().Kind)
}

func (s *SessionSuite) TestScan_Cancel() {
	opts := fastOptions()
	opts.Scan.Budget = time.Minute
	s.dc = New(s.engine, s.Central.Factory(), opts, s.Logger)

	it, err := s.dc.Scan(s.T().Context(), device.TransportBLE)
	s.Require().NoError(err)
	s.waitState(KindScanning)

	start := time.Now()
	s.dc.Cancel()
	_, err = it.Collect(s.T().Context())
	s.ErrorIs(err, device.ErrCancelled)
	s.Less(time.Since(start), time.Second)
	s.Equal(KindIdle, s.dc.State().Kind)
}

func (s *SessionSuite) TestScan_EngineTransport() {
	s.engine.Endpoints = map[device.Transport][]device.ConnectionInfo{
		device.TransportUSBHID: {eonInfo.Connection},
	}

	it, err := s.dc.Scan(s.T().Context(), device.TransportUSBHID)
	s.Require().NoError(err)
	found, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Equal([]device.DeviceInfo{eonInfo}, found)
}

func (s *SessionSuite) TestScan_CancelFlagResetPerSession() {
	s.dc.Cancel()

	s.engine.Endpoints = map[device.Transport][]device.ConnectionInfo{
		device.TransportUSBHID: {eonInfo.Connection},
	}
	it, err := s.dc.Scan(s.T().Context(), device.TransportUSBHID)
	s.Require().NoError(err)
	found, err := it.Collect(s.T().Context())
	s.Require().NoError(err)
	s.Len(found, 1)
}

// diveLine answers the framed dive protocol on a fake serial line.
type diveLine struct {
	mu     sync.Mutex
	dives  [][]byte
	out    []byte
	closed bool
}

func (l *diveLine) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := copy(p, l.out)
	l.out = l.out[n:]
	return n, nil
}

func (l *diveLine) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(p) == 2 && p[0] == 'D' {
		var payload []byte
		if idx := int(p[1]); idx < len(l.dives) {
			payload = l.dives[idx]
		}
		l.out = binary.BigEndian.AppendUint16(l.out, uint16(len(payload)))
		l.out = append(l.out, payload...)
	}
	return len(p), nil
}

func (l *diveLine) SetReadTimeout(time.Duration) error { return nil }
func (l *diveLine) ResetInputBuffer() error            { return nil }

func (l *diveLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func TestDownload_OverSerial(t *testing.T) {
	line := &diveLine{dives: [][]byte{testutils.FakeDive(2, 40, 21), testutils.FakeDive(1, 35, 19)}}
	var openedPath string

	opts := fastOptions()
	opts.Serial.Opener = func(path string, mode *serial.Mode) (serialio.Conn, error) {
		openedPath = path
		return line, nil
	}
	engine := &testutils.FakeEngine{}
	dc := New(engine, nil, opts, testutils.NewTestHelper(t).Logger)

	info := device.NewDeviceInfo(device.SerialInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0"})
	it, err := dc.Download(t.Context(), libdc.Product{Vendor: "Heinrichs Weikamp", Name: "OSTC 3"}, info, "")
	require.NoError(t, err)

	dives, err := it.Collect(t.Context())
	require.NoError(t, err)
	require.Len(t, dives, 2)
	assert.Equal(t, 2, dives[0].Number)
	assert.Equal(t, "/dev/ttyUSB0", openedPath)
	assert.True(t, engine.Opens()[0].HasIO)
	assert.True(t, line.closed)
}

func TestDownload_BLEWithoutRadio(t *testing.T) {
	dc := New(&testutils.FakeEngine{}, nil, fastOptions(), nil)

	it, err := dc.Download(t.Context(), perdix, perdixInfo(), "")
	require.NoError(t, err)
	_, err = it.Collect(t.Context())
	assert.ErrorIs(t, err, device.ErrNoAdapter)
	assert.Equal(t, KindError, dc.State().Kind)
}
