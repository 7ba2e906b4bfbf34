package encoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

func startTestSession(t *testing.T, ft *fakeTransport, opts ...Option) *Session {
	t.Helper()

	s, err := Start(context.Background(), newTestConfig(t, ft, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestSession_StartReadStop(t *testing.T) {
	ft := newFakeTransport(standardDevice)
	s := startTestSession(t, ft)

	assert.Equal(t, RunningState, s.State())
	assert.Equal(t, "1.2.0", s.DeviceInfo().FirmwareVersion)
	assert.Len(t, s.ID(), 36)
	assert.Equal(t, Reading{}, s.Read())

	ft.push(";Index:3;Count:4096")
	require.Eventually(t, func() bool {
		return s.Read().Count == 4096
	}, time.Second, time.Millisecond)

	r := s.Read()
	assert.Equal(t, int64(3), r.Index)
	assert.InDelta(t, 180.0, r.AngleDegrees, 1e-12)

	// repeated while nothing new arrives
	emitted := s.Metrics().Emissions.Load()
	require.Eventually(t, func() bool {
		return s.Metrics().Emissions.Load() > emitted+3
	}, time.Second, time.Millisecond)
	assert.Equal(t, r, s.Read())

	require.NoError(t, s.Stop())
	assert.Equal(t, ClosedState, s.State())
	assert.False(t, ft.IsOpen())
	assert.NoError(t, s.Err())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	assert.NoError(t, s.Stop())
}

func TestSession_HandshakeFailure(t *testing.T) {
	ft := newFakeTransport(overrideDevice(map[codec.Command][]string{codec.ReadVersion: nil}))

	s, err := Start(context.Background(), newTestConfig(t, ft))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, StepFirmwareVersion, FailedStep(err))
	assert.False(t, ft.IsOpen())
}

func TestSession_OpenFailure(t *testing.T) {
	openErr := errors.New("permission denied")
	cfg := newTestConfig(t, nil, WithOpener(func(string, int) (link.Transport, error) {
		return nil, openErr
	}))

	_, err := Start(context.Background(), cfg)
	assert.ErrorIs(t, err, openErr)
	assert.NotErrorIs(t, err, ErrHandshakeFailed)
}

func TestSession_ProtocolErrorThreshold(t *testing.T) {
	ft := newFakeTransport(standardDevice)
	s := startTestSession(t, ft)

	ft.push(";Index:0;Count:2048")
	require.Eventually(t, func() bool {
		return s.Read().Count == 2048
	}, time.Second, time.Millisecond)

	ft.push("ERROR", "ERROR", "ERROR", "ERROR", "ERROR")

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not report reader termination")
	}
	assert.ErrorIs(t, s.Err(), ErrProtocolError)

	// the emitter keeps holding the last position
	assert.Equal(t, int64(2048), s.Read().Count)
	assert.Equal(t, RunningState, s.State())

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Err(), ErrProtocolError)
}

func TestSession_PartialLineAfterHandshake(t *testing.T) {
	tr, dev := newPipeDevice(t, standardDevice)
	dev.trailer[codec.ReadVersion] = ";Index:1;Cou"
	cfg := newTestConfig(t, tr)

	type result struct {
		s   *Session
		err error
	}
	started := make(chan result, 1)
	go func() {
		s, err := Start(context.Background(), cfg)
		started <- result{s, err}
	}()

	var s *Session
	select {
	case res := <-started:
		require.NoError(t, res.err)
		s = res.s
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return with a partial line buffered")
	}
	t.Cleanup(func() { _ = s.Stop() })

	dev.send("nt:5\r\n")
	require.Eventually(t, func() bool {
		r := s.Read()
		return r.Index == 1 && r.Count == 5
	}, time.Second, time.Millisecond)
}

func TestSession_ReaderPanicIsSurfaced(t *testing.T) {
	tr, _ := newPipeDevice(t, standardDevice)
	pt := &panicTransport{Transport: tr}
	ml := logger.NewMockLogger().AllowAll()

	s, err := Start(context.Background(), newTestConfig(t, pt, WithLogger(ml)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	pt.armed.Store(true)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not report the reader panic")
	}
	assert.ErrorIs(t, s.Err(), ErrReaderFault)
	ml.AssertCalled(t, "Error", "telemetry reader terminated", mock.Anything)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Err(), ErrReaderFault)
	assert.False(t, tr.IsOpen())
}

func TestSession_RemoteCloseIsSurfaced(t *testing.T) {
	tr, dev := newPipeDevice(t, standardDevice)

	s, err := Start(context.Background(), newTestConfig(t, tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	dev.send(";Index:2;Count:100\r\n")
	require.Eventually(t, func() bool {
		return s.Read().Count == 100
	}, time.Second, time.Millisecond)

	require.NoError(t, dev.conn.Close())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not report the closed link")
	}
	assert.ErrorIs(t, s.Err(), link.ErrClosed)
	assert.Equal(t, int64(100), s.Read().Count)
}

func TestSession_StopWithBlockedReader(t *testing.T) {
	ft := newFakeTransport(standardDevice)
	joinTimeout := 100 * time.Millisecond
	s := startTestSession(t, ft, WithJoinTimeout(joinTimeout))

	ft.block.Store(true)
	// let the reader enter a blocking read
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	err := s.Stop()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.Less(t, elapsed, 3*joinTimeout)
	assert.False(t, ft.IsOpen())

	require.True(t, s.reader.Wait(time.Second), "reader must exit once the transport is closed")
	assert.NoError(t, s.Err())
}

func TestSession_Subscribe(t *testing.T) {
	ft := newFakeTransport(standardDevice)
	s := startTestSession(t, ft, WithSubscriberBuffer(4))

	ch, unsubscribe := s.Subscribe()
	ft.push(";Index:1;Count:1000")

	require.Eventually(t, func() bool {
		select {
		case r := <-ch:
			return r.Count == 1000
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	unsubscribe()
	unsubscribe()
	for range ch {
	}

	ch2, _ := s.Subscribe()
	require.NoError(t, s.Stop())
	for range ch2 {
	}

	ch3, _ := s.Subscribe()
	_, ok := <-ch3
	assert.False(t, ok, "subscription after Stop must be closed")
}

func TestSubscription_LatestWins(t *testing.T) {
	sub := &subscription{ch: make(chan Reading, 2)}

	assert.False(t, sub.offer(Reading{Count: 1}))
	assert.False(t, sub.offer(Reading{Count: 2}))
	assert.True(t, sub.offer(Reading{Count: 3}))

	assert.Equal(t, int64(2), (<-sub.ch).Count)
	assert.Equal(t, int64(3), (<-sub.ch).Count)

	sub.close()
	sub.close()
	assert.False(t, sub.offer(Reading{Count: 4}))
}

func TestSession_Nudge(t *testing.T) {
	ft := newFakeTransport(standardDevice)
	s := startTestSession(t, ft, WithNudgeAfter(3))

	require.Eventually(t, func() bool {
		return s.Metrics().Nudges.Load() > 0
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Read().RawLine == ";Index:0;Count:0"
	}, time.Second, time.Millisecond)
}
