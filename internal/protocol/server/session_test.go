package server

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackgate/internal/core/model"
)

func TestSessionWritesAckBeforeForwarding(t *testing.T) {
	log := &eventLog{}
	sink := &recordingSink{log: log}
	deps := testDeps(sink)

	server, client := net.Pipe()
	defer client.Close()
	s := newSession(recordingConn{Conn: server, log: log}, testPipeline(t, "gt06", deps), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	_, err := client.Write(gt06Login)
	require.NoError(t, err)

	reply := make([]byte, len(gt06LoginAck))
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	assert.Equal(t, gt06LoginAck, reply)

	packets := sink.waitFor(t, 1)
	assert.Equal(t, []string{"ack", "forward"}, log.all())

	p := packets[0]
	assert.Equal(t, "gt06", p.Protocol)
	assert.Equal(t, "123456789012345", p.DeviceID)
	assert.Equal(t, "01", p.Command)
	assert.Equal(t, gt06Login, p.Raw)
	assert.True(t, p.RequiresAck)
	assert.Equal(t, gt06LoginAck, p.Ack)
	assert.Equal(t, s.ID, p.SessionID)
	assert.Equal(t, model.TransportTCP, p.Transport)
	assert.Equal(t, uint64(1), deps.Stats.AcksSent.Load())

	client.Close()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionLearnsDeviceID(t *testing.T) {
	sink := &recordingSink{}
	deps := testDeps(sink)

	server, client := net.Pipe()
	defer client.Close()
	go func() { _, _ = io.Copy(io.Discard, client) }()

	s := newSession(server, testPipeline(t, "gt06", deps), testOptions())
	require.NoError(t, s.feed(append(append([]byte{}, gt06Login...), gt06Status...)))

	packets := sink.Packets()
	require.Len(t, packets, 2)
	assert.Equal(t, "13", packets[1].Command)
	assert.Equal(t, "123456789012345", packets[1].DeviceID)
	assert.Equal(t, "123456789012345", s.deviceID())
}

func TestSessionDeviceIDAfterServe(t *testing.T) {
	deps := testDeps(&recordingSink{})

	server, client := net.Pipe()
	s := newSession(server, testPipeline(t, "gt06", deps), testOptions())

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	_, err := client.Write(gt06Login)
	require.NoError(t, err)
	reply := make([]byte, len(gt06LoginAck))
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after peer close")
	}
	assert.Equal(t, "123456789012345", s.deviceID())
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionSplitReads(t *testing.T) {
	sink := &recordingSink{}
	deps := testDeps(sink)

	server, client := net.Pipe()
	defer client.Close()
	s := newSession(server, testPipeline(t, "tk103", deps), testOptions())

	frame := "(123456789012345BR00220618A2232.9806N11404.9355E000.1101241323.8700000000L000450AC)"
	for i := 0; i < len(frame); i += 7 {
		end := min(i+7, len(frame))
		require.NoError(t, s.feed([]byte(frame[i:end])))
	}

	packets := sink.Packets()
	require.Len(t, packets, 1)
	assert.Equal(t, frame, string(packets[0].Raw))
	assert.Equal(t, "BR00", packets[0].Command)
	assert.Zero(t, s.Buffered())
}

func TestSessionOverflowClearsBuffer(t *testing.T) {
	sink := &recordingSink{}
	deps := testDeps(sink)

	server, client := net.Pipe()
	defer client.Close()
	opts := testOptions()
	s := newSession(server, testPipeline(t, "tk103", deps), opts)

	// an opening parenthesis that never closes
	junk := "(" + strings.Repeat("9", opts.MaxFrameSize)
	for i := 0; i < len(junk); i += 16 {
		end := min(i+16, len(junk))
		require.NoError(t, s.feed([]byte(junk[i:end])))
		assert.LessOrEqual(t, s.Buffered(), opts.MaxFrameSize)
	}

	assert.Equal(t, uint64(1), deps.Stats.BufferOverflows.Load())
	assert.Equal(t, uint64(len(junk)), deps.Stats.BytesDiscarded.Load())
	assert.Zero(t, s.Buffered())

	require.NoError(t, s.feed([]byte("(123456789012345CMD somevalue)")))
	packets := sink.Packets()
	require.Len(t, packets, 1)
	assert.Equal(t, "somevalue", packets[0].Payload)
}

func TestSessionCountsGarbageAndMalformed(t *testing.T) {
	sink := &recordingSink{}
	deps := testDeps(sink)

	server, client := net.Pipe()
	defer client.Close()
	s := newSession(server, testPipeline(t, "tk103", deps), testOptions())

	require.NoError(t, s.feed([]byte("noise(12)(123456789012345CMD x)")))

	assert.Equal(t, uint64(5), deps.Stats.BytesDiscarded.Load())
	assert.Equal(t, uint64(1), deps.Stats.FramesMalformed.Load())
	assert.Equal(t, uint64(1), deps.Stats.Snapshot().FramesParsed["tk103"])
	assert.Len(t, sink.Packets(), 1)
}

func TestSessionIdleTimeout(t *testing.T) {
	deps := testDeps(&recordingSink{})

	server, client := net.Pipe()
	defer client.Close()
	opts := testOptions()
	opts.IdleTimeout = 20 * time.Millisecond
	s := newSession(server, testPipeline(t, "h02", deps), opts)

	start := time.Now()
	require.NoError(t, s.Serve(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), opts.IdleTimeout)
	assert.Equal(t, StateClosed, s.State())

	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionClosedOnShutdown(t *testing.T) {
	deps := testDeps(&recordingSink{})

	server, client := net.Pipe()
	defer client.Close()
	s := newSession(server, testPipeline(t, "h02", deps), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "closed", StateClosed.String())
}
