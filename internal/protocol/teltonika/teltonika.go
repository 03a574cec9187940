// Package teltonika frames the two message kinds a Teltonika FMxxxx device
// sends over a connection: the IMEI handshake and AVL data packets.
//
//	IMEI:  <uint16 length=15><15 ASCII digits>
//	AVL:   <0x00000000><uint32 data length><data><uint32 CRC>
//	data:  <codec id><record count><records...><record count>
package teltonika

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"trackgate/internal/protocol"
)

const (
	Name = "teltonika"

	CommandIMEI = "imei"
	CommandAVL  = "avl"

	imeiLength    = 15
	imeiFrameSize = 2 + imeiLength

	avlHeaderSize  = 8
	avlCRCSize     = 4
	minAVLDataSize = 3
	maxAVLDataSize = 1280
)

// IMEIAccepted is the single byte a server sends to accept a handshake.
var IMEIAccepted = []byte{0x01}

// Protocol implements protocol.Protocol for Teltonika.
type Protocol struct{}

var _ protocol.Protocol = Protocol{}

func (Protocol) Name() string { return Name }

type candidate int

const (
	invalid candidate = iota
	needMore
	imeiFrame
	avlFrame
)

// Extract returns the first handshake or AVL packet in buf. Both start with
// a zero byte, so bytes up to the next zero that cannot begin a frame are
// discarded.
func (Protocol) Extract(buf []byte) ([]byte, int) {
	skipped := 0
	for {
		rest := buf[skipped:]
		start := bytes.IndexByte(rest, 0x00)
		if start < 0 {
			return nil, len(buf)
		}
		skipped += start
		rest = rest[start:]

		kind, total := classify(rest)
		switch kind {
		case needMore:
			return nil, skipped
		case invalid:
			skipped++
			continue
		}
		return rest[:total], skipped + total
	}
}

// classify inspects a buffer starting with 0x00.
func classify(buf []byte) (candidate, int) {
	if len(buf) < 2 {
		return needMore, 0
	}

	switch buf[1] {
	case imeiLength:
		for i := 2; i < len(buf) && i < imeiFrameSize; i++ {
			if buf[i] < '0' || buf[i] > '9' {
				return invalid, 0
			}
		}
		if len(buf) < imeiFrameSize {
			return needMore, 0
		}
		return imeiFrame, imeiFrameSize

	case 0x00:
		for i := 2; i < len(buf) && i < 4; i++ {
			if buf[i] != 0x00 {
				return invalid, 0
			}
		}
		if len(buf) < avlHeaderSize {
			return needMore, 0
		}
		n := binary.BigEndian.Uint32(buf[4:8])
		if n < minAVLDataSize || n > maxAVLDataSize {
			return invalid, 0
		}
		total := avlHeaderSize + int(n) + avlCRCSize
		if len(buf) < total {
			return needMore, 0
		}
		return avlFrame, total
	}
	return invalid, 0
}

// Parse identifies the frame kind. Handshakes carry the IMEI; AVL packets
// carry the codec id as payload and must repeat their record count.
func (Protocol) Parse(frame []byte) (protocol.Header, error) {
	if len(frame) == imeiFrameSize && frame[0] == 0x00 && frame[1] == imeiLength {
		imei := string(frame[2:])
		if !protocol.IsDigits(imei) {
			return protocol.Header{}, fmt.Errorf("%w: invalid Teltonika IMEI %q", protocol.ErrMalformedFrame, imei)
		}
		return protocol.Header{DeviceID: imei, Command: CommandIMEI}, nil
	}

	if len(frame) < avlHeaderSize+minAVLDataSize+avlCRCSize {
		return protocol.Header{}, fmt.Errorf("%w: Teltonika frame too short: %d bytes", protocol.ErrMalformedFrame, len(frame))
	}
	if binary.BigEndian.Uint32(frame[0:4]) != 0 {
		return protocol.Header{}, fmt.Errorf("%w: missing Teltonika preamble", protocol.ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint32(frame[4:8]))
	if avlHeaderSize+n+avlCRCSize != len(frame) {
		return protocol.Header{}, fmt.Errorf("%w: Teltonika data length %d does not match frame", protocol.ErrMalformedFrame, n)
	}

	data := frame[avlHeaderSize : avlHeaderSize+n]
	if data[1] != data[len(data)-1] {
		return protocol.Header{}, fmt.Errorf("%w: Teltonika record counts differ: %d and %d", protocol.ErrMalformedFrame, data[1], data[len(data)-1])
	}
	return protocol.Header{Command: CommandAVL, Payload: fmt.Sprintf("%02x", data[0])}, nil
}

// RecordCount returns the number of records an AVL packet declares.
func RecordCount(frame []byte) int {
	if len(frame) <= avlHeaderSize+1 {
		return 0
	}
	return int(frame[avlHeaderSize+1])
}

// RecordsAccepted acknowledges an AVL packet with its record count.
func RecordsAccepted(frame []byte) []byte {
	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, uint32(RecordCount(frame)))
	return ack
}
