package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trackgate/internal/core/model"
	"trackgate/internal/core/util"
)

const writeTimeout = 10 * time.Second

type State int32

const (
	StateOpen State = iota
	StateReceiving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options bound the resources of one session.
type Options struct {
	MaxFrameSize   int
	ReadBufferSize int
	IdleTimeout    time.Duration
}

// Session owns one device connection and its receive buffer. Only the
// goroutine running Serve touches the buffer.
type Session struct {
	ID         string
	RemoteAddr string

	conn     net.Conn
	pipeline *pipeline
	opts     Options
	logger   *zap.Logger

	origin       origin
	buf          []byte
	state        atomic.Int32
	lastActivity atomic.Int64
}

func newSession(conn net.Conn, p *pipeline, opts Options) *Session {
	id := util.GenerateID()
	remote := conn.RemoteAddr().String()

	s := &Session{
		ID:         id,
		RemoteAddr: remote,
		conn:       conn,
		pipeline:   p,
		opts:       opts,
		logger: p.deps.Logger.With(
			zap.String("session_id", id),
			zap.String("protocol", p.proto.Name()),
			zap.String("remote_addr", remote)),
		origin: origin{
			sessionID:  id,
			remoteAddr: remote,
			transport:  model.TransportTCP,
		},
	}
	s.touch()
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// deviceID is the identifier learned from the connection's login frame. It
// is written by the Serve goroutine, so other goroutines may only read it
// after Serve has returned.
func (s *Session) deviceID() string { return s.origin.deviceID }

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// Serve reads until the peer closes, an I/O error occurs, the idle timeout
// passes or ctx is cancelled. The connection is closed on return.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.close()

	s.logger.Info("device connected")

	size := s.opts.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	chunk := make([]byte, size)

	for {
		if s.opts.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}

		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.touch()
			s.state.Store(int32(StateReceiving))
			s.pipeline.deps.Stats.BytesReceived.Add(uint64(n))
			if ferr := s.feed(chunk[:n]); ferr != nil {
				s.logger.Warn("closing session after write failure", zap.Error(ferr))
				return ferr
			}
			s.state.Store(int32(StateOpen))
		}
		if err != nil {
			return s.readError(ctx, err)
		}
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("device disconnected")
		return nil
	case ctx.Err() != nil:
		s.logger.Info("session closed by shutdown")
		return nil
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("closing idle session", zap.Duration("idle_timeout", s.opts.IdleTimeout))
		return nil
	}
	s.logger.Warn("read failed", zap.Error(err))
	return err
}

// feed appends data to the buffer and extracts every complete frame. A
// buffer still larger than MaxFrameSize afterwards holds no frame start
// worth waiting for and is cleared.
func (s *Session) feed(data []byte) error {
	s.buf = append(s.buf, data...)

	consumed, err := s.pipeline.extract(s.buf, &s.origin, s.reply, s.logger)
	if consumed > 0 {
		n := copy(s.buf, s.buf[consumed:])
		s.buf = s.buf[:n]
	}
	if err != nil {
		return err
	}

	if s.opts.MaxFrameSize > 0 && len(s.buf) > s.opts.MaxFrameSize {
		s.logger.Warn("receive buffer overflow, discarding",
			zap.Int("bytes", len(s.buf)),
			zap.Int("max_frame_size", s.opts.MaxFrameSize))
		s.pipeline.deps.Stats.BufferOverflows.Add(1)
		s.pipeline.deps.Stats.Discarded(len(s.buf))
		s.buf = s.buf[:0]
	}
	return nil
}

func (s *Session) reply(b []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}

// Buffered reports how many bytes wait for the rest of a frame.
func (s *Session) Buffered() int { return len(s.buf) }

func (s *Session) close() {
	s.state.Store(int32(StateClosed))
	_ = s.conn.Close()
}
