package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trackgate/internal/ack"
	"trackgate/internal/core/model"
	"trackgate/internal/protocol/registry"
	"trackgate/internal/stats"
)

var (
	gt06Login = []byte{
		0x78, 0x78, 0x0D, 0x01,
		0x01, 0x23, 0x45, 0x67, 0x89, 0x01, 0x23, 0x45,
		0x00, 0x01, 0x8C, 0xDD, 0x0D, 0x0A,
	}
	gt06LoginAck = []byte{0x78, 0x78, 0x05, 0x01, 0x00, 0x01, 0xD9, 0xDC, 0x0D, 0x0A}
	gt06Status   = []byte{
		0x78, 0x78, 0x0A, 0x13,
		0x44, 0x04, 0x04, 0x00, 0x01,
		0x00, 0x02, 0x12, 0x34, 0x0D, 0x0A,
	}
)

// eventLog records the order in which acks and forwards happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recordingSink struct {
	mu      sync.Mutex
	packets []*model.ParsedPacket
	log     *eventLog
}

func (s *recordingSink) Enqueue(p *model.ParsedPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, p)
	if s.log != nil {
		s.log.add("forward")
	}
	return nil
}

func (s *recordingSink) Packets() []*model.ParsedPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.ParsedPacket(nil), s.packets...)
}

func (s *recordingSink) waitFor(t *testing.T, n int) []*model.ParsedPacket {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Packets()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return s.Packets()
}

type recordingConn struct {
	net.Conn
	log *eventLog
}

func (c recordingConn) Write(b []byte) (int, error) {
	c.log.add("ack")
	return c.Conn.Write(b)
}

func testDeps(sink Sink) Deps {
	return Deps{
		Responder: ack.NewResponder(),
		Sink:      sink,
		Stats:     stats.New(registry.Names()...),
		Logger:    zap.NewNop(),
	}
}

func testOptions() Options {
	return Options{
		MaxFrameSize:   64,
		ReadBufferSize: 16,
		IdleTimeout:    time.Second,
	}
}

func testPipeline(t *testing.T, name string, deps Deps) *pipeline {
	t.Helper()
	proto, err := registry.Lookup(name)
	require.NoError(t, err)
	return &pipeline{proto: proto, deps: deps}
}
