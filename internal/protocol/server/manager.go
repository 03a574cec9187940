package server

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackgate/internal/protocol/registry"
)

var ErrNoListeners = errors.New("no listeners configured")

// Endpoint is where one protocol listens. An empty address disables that
// transport.
type Endpoint struct {
	Protocol string
	TCPAddr  string
	UDPAddr  string
}

type listener interface {
	Listen() error
	Serve(ctx context.Context) error
	Addr() net.Addr
	Close() error
}

// Manager runs the TCP and UDP listeners of every configured protocol.
type Manager struct {
	tcp       map[string]*TCPServer
	udp       map[string]*UDPServer
	listeners []listener
	logger    *zap.Logger
}

func NewManager(endpoints []Endpoint, opts Options, deps Deps) (*Manager, error) {
	m := &Manager{
		tcp:    make(map[string]*TCPServer),
		udp:    make(map[string]*UDPServer),
		logger: deps.Logger,
	}
	for _, ep := range endpoints {
		proto, err := registry.Lookup(ep.Protocol)
		if err != nil {
			return nil, err
		}
		if ep.TCPAddr != "" {
			s := NewTCPServer(ep.TCPAddr, proto, opts, deps)
			m.tcp[ep.Protocol] = s
			m.listeners = append(m.listeners, s)
		}
		if ep.UDPAddr != "" {
			s := NewUDPServer(ep.UDPAddr, proto, deps)
			m.udp[ep.Protocol] = s
			m.listeners = append(m.listeners, s)
		}
	}
	return m, nil
}

// Listen binds every socket. On failure the sockets bound so far are
// released.
func (m *Manager) Listen() error {
	for i, l := range m.listeners {
		if err := l.Listen(); err != nil {
			for _, bound := range m.listeners[:i] {
				_ = bound.Close()
			}
			return err
		}
	}
	return nil
}

// TCPAddr returns the bound TCP address of protocol, or nil.
func (m *Manager) TCPAddr(protocol string) net.Addr {
	if s, ok := m.tcp[protocol]; ok {
		return s.Addr()
	}
	return nil
}

// UDPAddr returns the bound UDP address of protocol, or nil.
func (m *Manager) UDPAddr(protocol string) net.Addr {
	if s, ok := m.udp[protocol]; ok {
		return s.Addr()
	}
	return nil
}

// Run serves every listener until ctx is cancelled or one of them fails.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.listeners) == 0 {
		return ErrNoListeners
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range m.listeners {
		g.Go(func() error {
			return l.Serve(gctx)
		})
	}
	m.logger.Info("listeners running", zap.Int("count", len(m.listeners)))
	return g.Wait()
}
