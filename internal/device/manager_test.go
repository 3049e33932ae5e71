package device

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
	"serial-device/internal/protocol/protocoltest"
)

func testOptions(prefix string) Options {
	opts := DefaultOptions()
	opts.IDPrefix = prefix
	opts.Timeout = 30 * time.Millisecond
	opts.OpenDelay = 0
	opts.CloseDelay = 0
	return opts
}

func newTestManager(t *testing.T, bus *protocoltest.Bus, prefix string, extra ...Option) *Manager {
	t.Helper()
	opts := append([]Option{
		WithOpener(bus.Open),
		WithPortSource(discovery.StaticSource(bus.Names())),
	}, extra...)

	m, err := NewManager(testOptions(prefix), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestScanSingleResponder(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Silent())

	m := newTestManager(t, bus, "DEV-")
	names, err := m.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"DEV-1"}, names)

	rec, ok := m.Lookup(ByName("DEV-1"))
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", rec.Port.Name)
	assert.False(t, rec.Channel.IsOpen())
	assert.Equal(t, 0, bus.Active())
}

func TestScanExcludesNonMatchingPorts(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Identifier("OTHER-1"))
	bus.Attach("/dev/ttyUSB2", protocoltest.Silent())
	bus.Attach("/dev/ttyUSB3", protocoltest.Device{FailOpen: true})
	bus.Attach("/dev/ttyUSB4", protocoltest.Device{StuckWrite: true})
	bus.Attach("/dev/ttyUSB5", protocoltest.Identifier("DEV-2"))

	m := newTestManager(t, bus, "DEV-")
	names, err := m.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"DEV-1", "DEV-2"}, names)
	assert.Len(t, m.Records(), 2)
}

func TestScanIdempotent(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Identifier("DEV-2"))

	m := newTestManager(t, bus, "")
	first, err := m.Scan()
	require.NoError(t, err)
	firstHandle := m.Resolve(ByName("DEV-1")).ID()

	second, err := m.Scan()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.NotEqual(t, firstHandle, m.Resolve(ByName("DEV-1")).ID())
	assert.Nil(t, m.Resolve(ByHandle(firstHandle)), "handles from a previous scan must not resolve")
}

func TestScanDuplicateNameFirstWins(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("TWIN"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Identifier("TWIN"))

	m := newTestManager(t, bus, "")
	names, err := m.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"TWIN"}, names)

	// ports are probed in reverse order, so ttyUSB1 is processed first
	rec, ok := m.Lookup(ByName("TWIN"))
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB1", rec.Port.Name)
}

func TestScanWithNoPorts(t *testing.T) {
	m := newTestManager(t, protocoltest.NewBus(), "")
	names, err := m.Scan()
	require.NoError(t, err)
	assert.Empty(t, names)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) ListPorts() ([]discovery.PortInfo, error) {
	close(s.entered)
	<-s.release
	return nil, nil
}

func TestScanRejectsConcurrentScan(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, protocoltest.NewBus(), "", WithPortSource(src))

	done := make(chan error, 1)
	go func() {
		_, err := m.Scan()
		done <- err
	}()

	<-src.entered
	assert.True(t, m.Scanning())
	_, err := m.Scan()
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(src.release)
	require.NoError(t, <-done)
	assert.False(t, m.Scanning())
}

func TestScanClosesPreviouslyOpenChannels(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	require.True(t, m.Open(ByName("DEV-1")))
	old := m.Resolve(ByName("DEV-1"))

	_, err = m.Scan()
	require.NoError(t, err)
	assert.False(t, old.IsOpen())
	assert.Equal(t, 0, bus.Active())
}

func TestRoundTrip(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)

	d := ByName("DEV-1")
	require.True(t, m.Open(d))

	sent, err := m.Send(d, "x")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, "x", m.Recv(d))

	reply, err := m.Cmd(d, "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)
}

func TestOpenCloseState(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	d := ByName("DEV-1")

	require.True(t, m.Open(d))
	open, err := m.IsOpen(d)
	require.NoError(t, err)
	assert.True(t, open)

	assert.True(t, m.Open(d), "opening an open device still reports open")

	require.True(t, m.Close(d))
	open, err = m.IsOpen(d)
	require.NoError(t, err)
	assert.False(t, open)

	assert.True(t, m.Close(d))
}

func TestOpenFailureReportsClosed(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)

	// the device disappears after discovery
	bus.Attach("/dev/ttyUSB0", protocoltest.Device{FailOpen: true})
	assert.False(t, m.Open(ByName("DEV-1")))
}

func TestHandleReference(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)

	h := ByHandle(m.Resolve(ByName("DEV-1")).ID())
	require.True(t, m.Open(h))
	reply, err := m.Cmd(h, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
	require.True(t, m.Close(h))
}

func TestUnresolvedReference(t *testing.T) {
	m := newTestManager(t, protocoltest.NewBus(), "")

	refs := []Reference{ByName("ghost"), ByHandle(uuid.New()), {}}
	for _, ref := range refs {
		t.Run(ref.String(), func(t *testing.T) {
			assert.True(t, m.Close(ref))
			assert.False(t, m.Open(ref))

			_, err := m.IsOpen(ref)
			assert.ErrorIs(t, err, ErrDeviceNotFound)

			sent, err := m.Send(ref, "x")
			assert.NoError(t, err)
			assert.False(t, sent)

			assert.Equal(t, "", m.Recv(ref))
			assert.NotPanics(t, func() { m.Flush(ref) })

			reply, err := m.Cmd(ref, "x")
			assert.NoError(t, err)
			assert.Equal(t, "", reply)

			res := m.RecvResult(ref)
			assert.Equal(t, protocol.RecvFault, res.Status)
			assert.ErrorIs(t, res.Err, ErrDeviceNotFound)
		})
	}
}

func TestTransportOnClosedDevice(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	d := ByName("DEV-1")

	sent, err := m.Send(d, "x")
	assert.NoError(t, err)
	assert.False(t, sent)

	reply, err := m.Cmd(d, "x")
	assert.NoError(t, err)
	assert.Equal(t, "", reply)

	m.Flush(d)
	assert.ErrorIs(t, m.RecvResult(d).Err, protocol.ErrPortClosed)
}

func TestSendWriteTimeoutPropagates(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	d := ByName("DEV-1")

	bus.Attach("/dev/ttyUSB0", protocoltest.Device{StuckWrite: true})
	require.True(t, m.Open(d))

	sent, err := m.Send(d, "x")
	assert.False(t, sent)
	assert.ErrorIs(t, err, protocol.ErrWriteTimeout)

	_, err = m.Cmd(d, "x")
	assert.ErrorIs(t, err, protocol.ErrWriteTimeout)
}

func TestRecvDistinguishesFaultFromSilence(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	d := ByName("DEV-1")
	require.True(t, m.Open(d))

	res := m.RecvResult(d)
	assert.Equal(t, protocol.RecvEmpty, res.Status)
	assert.Equal(t, "", m.Recv(d))

	require.True(t, m.Close(d))
	bus.Attach("/dev/ttyUSB0", protocoltest.Device{FailRead: true})
	require.True(t, m.Open(d))

	res = m.RecvResult(d)
	assert.Equal(t, protocol.RecvFault, res.Status)
	assert.True(t, errors.Is(res.Err, protocoltest.ErrReadFault))
	assert.Equal(t, "", m.Recv(d))
}

func TestFlushDropsStaleInput(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	d := ByName("DEV-1")
	require.True(t, m.Open(d))

	bus.Last("/dev/ttyUSB0").Inject("stale\x04")
	m.Flush(d)

	reply, err := m.Cmd(d, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", reply)
}

func TestSettleDelays(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))

	mock := clock.NewMock()
	m, err := NewManager(testOptions(""), zap.NewNop(),
		WithOpener(bus.Open),
		WithPortSource(discovery.StaticSource(bus.Names())),
	)
	require.NoError(t, err)
	_, err = m.Scan()
	require.NoError(t, err)

	// the prober keeps the real clock; only lifecycle calls wait on the mock
	m.clock = mock
	m.options.OpenDelay = 2 * time.Second
	m.options.CloseDelay = time.Second
	d := ByName("DEV-1")

	waitFor := func(op func() bool, delay time.Duration) bool {
		done := make(chan bool, 1)
		go func() { done <- op() }()

		select {
		case <-done:
			t.Fatal("lifecycle call returned before its settle delay")
		case <-time.After(20 * time.Millisecond):
		}

		for i := 0; i < 100; i++ {
			mock.Add(delay)
			select {
			case v := <-done:
				return v
			case <-time.After(10 * time.Millisecond):
			}
		}
		t.Fatal("lifecycle call never returned")
		return false
	}

	assert.True(t, waitFor(func() bool { return m.Open(d) }, 2*time.Second))
	assert.True(t, waitFor(func() bool { return m.Close(d) }, time.Second))

	// unknown references return at once
	assert.True(t, m.Close(ByName("ghost")))
}

func TestShutdownClosesOpenChannels(t *testing.T) {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Identifier("DEV-2"))

	m := newTestManager(t, bus, "")
	_, err := m.Scan()
	require.NoError(t, err)
	require.True(t, m.Open(ByName("DEV-1")))
	require.True(t, m.Open(ByName("DEV-2")))
	require.Equal(t, 2, bus.Active())

	require.NoError(t, m.Shutdown())
	assert.Equal(t, 0, bus.Active())
}

func TestNewManagerRejectsBadEncoding(t *testing.T) {
	opts := DefaultOptions()
	opts.Encoding = "no-such-charset"
	_, err := NewManager(opts, zap.NewNop())
	assert.ErrorIs(t, err, protocol.ErrUnknownEncoding)
}
