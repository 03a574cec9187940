package gt06

import (
	"encoding/binary"
	"fmt"
	"strings"

	"trackgate/internal/protocol"
)

// Protocol implements protocol.Protocol for GT06.
type Protocol struct{}

var _ protocol.Protocol = Protocol{}

func (Protocol) Name() string { return Name }

func isStartByte(b byte) bool {
	return b == startByteShort || b == startByteLong
}

// headerSize returns start(2) + length field(1 or 2).
func headerSize(start byte) int {
	if start == startByteLong {
		return 4
	}
	return 3
}

// Extract returns the first complete GT06 frame in buf.
func (Protocol) Extract(buf []byte) ([]byte, int) {
	skipped := 0
	for {
		rest := buf[skipped:]
		start := indexStart(rest)
		if start < 0 {
			drop := len(rest)
			if drop > 0 && isStartByte(rest[drop-1]) {
				drop--
			}
			return nil, skipped + drop
		}
		skipped += start
		rest = rest[start:]

		hdr := headerSize(rest[0])
		if len(rest) < hdr {
			return nil, skipped
		}

		var n int
		if hdr == 4 {
			n = int(binary.BigEndian.Uint16(rest[2:4]))
		} else {
			n = int(rest[2])
		}
		if n < minContentLength || n > maxContentLength {
			skipped++
			continue
		}

		total := hdr + n + stopSize
		if len(rest) < total {
			return nil, skipped
		}
		if rest[total-2] != stopByte1 || rest[total-1] != stopByte2 {
			// false start marker inside unrelated bytes
			skipped++
			continue
		}
		return rest[:total], skipped + total
	}
}

// indexStart finds the first 0x7878 or 0x7979 marker.
func indexStart(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if isStartByte(buf[i]) && buf[i+1] == buf[i] {
			return i
		}
	}
	return -1
}

// Parse reads the protocol number and, for login frames, the BCD IMEI.
func (Protocol) Parse(frame []byte) (protocol.Header, error) {
	if len(frame) < 3 || !isStartByte(frame[0]) || frame[1] != frame[0] {
		return protocol.Header{}, fmt.Errorf("%w: invalid GT06 start marker", protocol.ErrMalformedFrame)
	}
	hdr := headerSize(frame[0])
	if len(frame) < hdr+minContentLength+stopSize {
		return protocol.Header{}, fmt.Errorf("%w: GT06 frame too short: %d bytes", protocol.ErrMalformedFrame, len(frame))
	}

	msgType := frame[hdr]
	h := protocol.Header{Command: fmt.Sprintf("%02x", msgType)}

	if msgType == loginMsg {
		body := frame[hdr+1 : len(frame)-stopSize-4]
		if len(body) < imeiLength {
			return protocol.Header{}, fmt.Errorf("%w: GT06 login without IMEI", protocol.ErrMalformedFrame)
		}
		h.DeviceID = decodeIMEI(body[:imeiLength])
	}
	return h, nil
}

// decodeIMEI turns 8 BCD bytes into the 15-digit IMEI, dropping the pad nibble.
func decodeIMEI(b []byte) string {
	imei := fmt.Sprintf("%x", b)
	return strings.TrimPrefix(imei, "0")
}

// Serial returns the 2-byte information serial number that precedes the CRC.
func Serial(frame []byte) uint16 {
	if len(frame) < 6 {
		return 0
	}
	return binary.BigEndian.Uint16(frame[len(frame)-6 : len(frame)-4])
}
