package server

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trackgate/internal/forwarder"
	"trackgate/internal/protocol/tk103"
)

func startTCP(t *testing.T, deps Deps) (*TCPServer, func()) {
	t.Helper()
	srv := NewTCPServer("127.0.0.1:0", tk103.Protocol{}, testOptions(), deps)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	return srv, func() {
		cancel()
		<-done
	}
}

func TestTCPServerSplitWrites(t *testing.T) {
	sink := &recordingSink{}
	deps := testDeps(sink)
	srv, stop := startTCP(t, deps)
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("(123456789012"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte("345CMD somevalue)"))
	require.NoError(t, err)

	packets := sink.waitFor(t, 1)
	require.Len(t, packets, 1)
	p := packets[0]
	assert.Equal(t, "tk103", p.Protocol)
	assert.Equal(t, "123456789012345", p.DeviceID)
	assert.Equal(t, "CMD", p.Command)
	assert.Equal(t, "somevalue", p.Payload)
	assert.Equal(t, "(123456789012345CMD somevalue)", string(p.Raw))
	assert.False(t, p.RequiresAck)

	assert.Equal(t, uint64(1), deps.Stats.ConnectionsAccepted.Load())
}

func TestTCPServerHandshakeAck(t *testing.T) {
	deps := testDeps(&recordingSink{})
	srv, stop := startTCP(t, deps)
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("(123456789012345BP00HSO)"))
	require.NoError(t, err)

	want := "(123456789012345AP01HSO)"
	got := make([]byte, len(want))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestTCPServerStopClosesSessions(t *testing.T) {
	deps := testDeps(&recordingSink{})
	srv, stop := startTCP(t, deps)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return deps.Stats.ConnectionsActive.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	assert.Zero(t, deps.Stats.ConnectionsActive.Load())
	assert.Equal(t, uint64(1), deps.Stats.ConnectionsClosed.Load())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestTCPServerForwardsToSink(t *testing.T) {
	var mu sync.Mutex
	var requests []*http.Request
	var bodies []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, r)
		bodies = append(bodies, string(b))
		mu.Unlock()
	}))
	defer upstream.Close()

	deps := testDeps(nil)
	fwd := forwarder.New(forwarder.Config{
		URL:         upstream.URL,
		Workers:     2,
		QueueSize:   16,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		Timeout:     time.Second,
	}, forwarder.StaticToken("upstream-token"), nil, deps.Stats, nil, zap.NewNop())
	deps.Sink = fwd

	ctx, cancel := context.WithCancel(context.Background())
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		_ = fwd.Run(ctx)
	}()
	defer func() {
		cancel()
		<-fwdDone
	}()

	srv, stop := startTCP(t, deps)
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	frame := "(123456789012345CMD somevalue)"
	_, err = conn.Write([]byte(frame[:10]))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = conn.Write([]byte(frame[10:]))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return deps.Stats.FramesForwarded.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 1)
	assert.Equal(t, hex.EncodeToString([]byte(frame)), bodies[0])
	assert.Equal(t, "Bearer upstream-token", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "tk103", requests[0].Header.Get(forwarder.HeaderProtocol))
	assert.Equal(t, "123456789012345", requests[0].Header.Get(forwarder.HeaderDeviceID))
	assert.Equal(t, "CMD", requests[0].Header.Get(forwarder.HeaderCommand))
}

// erroringListener fails every Accept until closed.
type erroringListener struct {
	calls  atomic.Int32
	once   sync.Once
	closed chan struct{}
}

func newErroringListener() *erroringListener {
	return &erroringListener{closed: make(chan struct{})}
}

func (l *erroringListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
		return nil, errors.New("accept: too many open files")
	}
}

func (l *erroringListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *erroringListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestTCPServerBacksOffOnAcceptErrors(t *testing.T) {
	l := newErroringListener()
	srv := NewTCPServer("127.0.0.1:0", tk103.Protocol{}, testOptions(), testDeps(&recordingSink{}))
	srv.listener = l

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	// 5ms, 10ms, 20ms, 40ms ... leaves room for only a handful of attempts.
	assert.LessOrEqual(t, l.calls.Load(), int32(10))
}

func TestAcceptBackoffIsCapped(t *testing.T) {
	b := newAcceptBackoff()
	assert.Equal(t, minAcceptDelay, b.NextBackOff())
	assert.Equal(t, 2*minAcceptDelay, b.NextBackOff())
	for i := 0; i < 20; i++ {
		b.NextBackOff()
	}
	assert.Equal(t, maxAcceptDelay, b.NextBackOff())

	b.Reset()
	assert.Equal(t, minAcceptDelay, b.NextBackOff())
}
