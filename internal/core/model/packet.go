package model

import (
	"encoding/hex"
	"time"
)

const (
	TransportTCP = "tcp"
	TransportUDP = "udp"
)

// ParsedPacket is one complete device frame on its way to the sink. Raw holds
// exactly the frame's bytes. Values are never modified after construction.
type ParsedPacket struct {
	Protocol    string
	DeviceID    string
	Command     string
	Payload     string
	Raw         []byte
	RequiresAck bool
	Ack         []byte

	SessionID  string
	RemoteAddr string
	Transport  string
	ReceivedAt time.Time
}

// HexRaw is the transport-safe form of Raw sent to the sink.
func (p *ParsedPacket) HexRaw() string {
	return hex.EncodeToString(p.Raw)
}

// ShardKey groups packets that must be delivered in order.
func (p *ParsedPacket) ShardKey() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.Protocol + "/" + p.RemoteAddr
}
