package server

import (
	"bytes"
	"time"

	"go.uber.org/zap"

	"trackgate/internal/ack"
	"trackgate/internal/core/model"
	"trackgate/internal/protocol"
	"trackgate/internal/stats"
)

// Sink takes ownership of parsed packets without blocking.
type Sink interface {
	Enqueue(p *model.ParsedPacket) error
}

// Deps are shared by every listener and session.
type Deps struct {
	Responder *ack.Responder
	Sink      Sink
	Stats     *stats.Stats
	Logger    *zap.Logger
}

// origin describes where frames came from. deviceID is updated from login
// frames and fills in later frames that carry no identifier.
type origin struct {
	sessionID  string
	remoteAddr string
	transport  string
	deviceID   string
}

// pipeline turns frames of one protocol into packets: parse, acknowledge,
// hand off.
type pipeline struct {
	proto protocol.Protocol
	deps  Deps
}

// extract runs the framer over buf and processes every complete frame. It
// returns how many bytes were consumed. Bytes outside frames are counted as
// discarded. A reply error stops extraction and is returned.
func (p *pipeline) extract(buf []byte, o *origin, reply func([]byte) error, logger *zap.Logger) (int, error) {
	off := 0
	for off < len(buf) {
		frame, consumed := p.proto.Extract(buf[off:])
		if consumed == 0 {
			break
		}
		garbage := consumed - len(frame)
		if garbage > 0 {
			p.deps.Stats.Discarded(garbage)
			logger.Debug("discarded bytes outside frame", zap.Int("bytes", garbage))
		}
		off += consumed
		if frame == nil {
			continue
		}
		if err := p.handle(frame, o, reply, logger); err != nil {
			return off, err
		}
	}
	return off, nil
}

func (p *pipeline) handle(frame []byte, o *origin, reply func([]byte) error, logger *zap.Logger) error {
	name := p.proto.Name()

	h, err := p.proto.Parse(frame)
	if err != nil {
		p.deps.Stats.FramesMalformed.Add(1)
		logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(frame)))
		return nil
	}
	p.deps.Stats.FrameParsed(name)

	if h.DeviceID != "" {
		o.deviceID = h.DeviceID
	} else {
		h.DeviceID = o.deviceID
	}

	packet := &model.ParsedPacket{
		Protocol:   name,
		DeviceID:   h.DeviceID,
		Command:    h.Command,
		Payload:    h.Payload,
		Raw:        bytes.Clone(frame),
		SessionID:  o.sessionID,
		RemoteAddr: o.remoteAddr,
		Transport:  o.transport,
		ReceivedAt: time.Now(),
	}
	packet.Ack, packet.RequiresAck = p.deps.Responder.Respond(name, h, frame)

	if packet.RequiresAck {
		if err := reply(packet.Ack); err != nil {
			p.deps.Stats.AckFailures.Add(1)
			return err
		}
		p.deps.Stats.AcksSent.Add(1)
	}

	logger.Debug("frame received",
		zap.String("device_id", packet.DeviceID),
		zap.String("command", packet.Command),
		zap.Int("bytes", len(packet.Raw)),
		zap.Bool("ack", packet.RequiresAck))

	if err := p.deps.Sink.Enqueue(packet); err != nil {
		logger.Warn("frame not queued for forwarding",
			zap.String("device_id", packet.DeviceID),
			zap.String("command", packet.Command),
			zap.Error(err))
	}
	return nil
}
