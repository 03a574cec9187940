// Package ack builds the replies trackers expect for frames that must be
// acknowledged. Devices that miss an expected reply retransmit or drop the
// connection.
package ack

import (
	"trackgate/internal/protocol"
	"trackgate/internal/protocol/gt06"
	"trackgate/internal/protocol/teltonika"
	"trackgate/internal/protocol/tk103"
)

// Builder returns the reply bytes for one frame.
type Builder func(h protocol.Header, frame []byte) []byte

// Responder maps protocol and command code to a Builder. Register before the
// listeners start; Respond is safe for concurrent use afterwards.
type Responder struct {
	builders map[string]map[string]Builder
}

// NewResponder returns a Responder loaded with the built-in table.
func NewResponder() *Responder {
	r := &Responder{builders: make(map[string]map[string]Builder)}

	gt06Reply := func(_ protocol.Header, frame []byte) []byte { return gt06.Response(frame) }
	for _, cmd := range []string{gt06.CommandLogin, gt06.CommandStatus, gt06.CommandAlarm, gt06.CommandHeartbeat} {
		r.Register(gt06.Name, cmd, gt06Reply)
	}

	r.Register(tk103.Name, tk103.CommandHandshake, func(h protocol.Header, _ []byte) []byte {
		return tk103.HandshakeResponse(h.DeviceID)
	})
	r.Register(tk103.Name, tk103.CommandLogin, func(h protocol.Header, _ []byte) []byte {
		return tk103.LoginResponse(h.DeviceID)
	})

	r.Register(teltonika.Name, teltonika.CommandIMEI, func(protocol.Header, []byte) []byte {
		return teltonika.IMEIAccepted
	})
	r.Register(teltonika.Name, teltonika.CommandAVL, func(_ protocol.Header, frame []byte) []byte {
		return teltonika.RecordsAccepted(frame)
	})

	return r
}

// Register sets the builder for command frames of protocol proto, replacing
// any previous one.
func (r *Responder) Register(proto, command string, b Builder) {
	cmds, ok := r.builders[proto]
	if !ok {
		cmds = make(map[string]Builder)
		r.builders[proto] = cmds
	}
	cmds[command] = b
}

// Respond returns the reply for frame and whether one is required.
func (r *Responder) Respond(proto string, h protocol.Header, frame []byte) ([]byte, bool) {
	b, ok := r.builders[proto][h.Command]
	if !ok {
		return nil, false
	}
	reply := b(h, frame)
	if len(reply) == 0 {
		return nil, false
	}
	return reply, true
}
