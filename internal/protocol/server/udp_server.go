package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"trackgate/internal/core/model"
	"trackgate/internal/protocol"
)

const maxDatagramSize = 64 << 10

// UDPServer frames each datagram on its own. Frames never span datagrams,
// so bytes left after the last complete frame are discarded.
type UDPServer struct {
	addr     string
	pipeline *pipeline
	logger   *zap.Logger

	conn net.PacketConn
}

func NewUDPServer(addr string, proto protocol.Protocol, deps Deps) *UDPServer {
	return &UDPServer{
		addr:     addr,
		pipeline: &pipeline{proto: proto, deps: deps},
		logger:   deps.Logger.With(zap.String("protocol", proto.Name()), zap.String("transport", "udp")),
	}
}

func (s *UDPServer) Listen() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}
	s.conn = conn
	s.logger.Info("udp listener bound", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPServer) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *UDPServer) Serve(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("udp listener stopped")
				return nil
			}
			s.logger.Warn("udp read failed", zap.Error(err))
			continue
		}
		s.handleDatagram(buf[:n], addr)
	}
}

func (s *UDPServer) handleDatagram(data []byte, addr net.Addr) {
	st := s.pipeline.deps.Stats
	st.DatagramsReceived.Add(1)
	st.BytesReceived.Add(uint64(len(data)))

	o := &origin{remoteAddr: addr.String(), transport: model.TransportUDP}
	logger := s.logger.With(zap.String("remote_addr", o.remoteAddr))
	reply := func(b []byte) error {
		_, err := s.conn.WriteTo(b, addr)
		return err
	}

	consumed, err := s.pipeline.extract(data, o, reply, logger)
	if err != nil {
		logger.Warn("udp ack failed", zap.Error(err))
	}
	if rest := len(data) - consumed; rest > 0 {
		st.Discarded(rest)
		logger.Debug("discarded incomplete datagram tail", zap.Int("bytes", rest))
	}
}
