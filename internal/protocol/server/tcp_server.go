package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"trackgate/internal/protocol"
)

// Delay bounds between failed Accept calls. The delay resets after the next
// accepted connection.
var (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// TCPServer accepts device connections for one protocol and runs a Session
// per connection.
type TCPServer struct {
	addr     string
	pipeline *pipeline
	opts     Options
	logger   *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

func NewTCPServer(addr string, proto protocol.Protocol, opts Options, deps Deps) *TCPServer {
	return &TCPServer{
		addr:     addr,
		pipeline: &pipeline{proto: proto, deps: deps},
		opts:     opts,
		logger:   deps.Logger.With(zap.String("protocol", proto.Name()), zap.String("transport", "tcp")),
	}
}

// Listen binds the socket so Addr is known before Serve starts.
func (s *TCPServer) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}
	s.listener = l
	s.logger.Info("tcp listener bound", zap.String("addr", l.Addr().String()))
	return nil
}

func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close releases a socket bound by Listen.
func (s *TCPServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Serve accepts connections until ctx is cancelled, then closes the listener
// and waits for every session to end.
func (s *TCPServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()
	defer s.wg.Wait()

	retry := newAcceptBackoff()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("tcp listener stopped")
				return nil
			}
			delay := retry.NextBackOff()
			s.logger.Error("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
			continue
		}
		retry.Reset()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func newAcceptBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minAcceptDelay
	b.MaxInterval = maxAcceptDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	st := s.pipeline.deps.Stats
	st.ConnectionOpened()
	defer st.ConnectionClosed()

	_ = newSession(conn, s.pipeline, s.opts).Serve(ctx)
}
