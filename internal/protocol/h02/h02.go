// Package h02 frames the comma separated text protocol of H02 trackers:
//
//	*HQ,<imei>,<command>,<field>,...,<field>#
package h02

import (
	"bytes"
	"fmt"
	"strings"

	"trackgate/internal/protocol"
)

const (
	Name = "h02"

	prefix     = "*HQ,"
	terminator = '#'

	minIMEILength = 10
	maxIMEILength = 16
)

var prefixBytes = []byte(prefix)

// Protocol implements protocol.Protocol for H02.
type Protocol struct{}

var _ protocol.Protocol = Protocol{}

func (Protocol) Name() string { return Name }

// Extract returns the first "*HQ," ... "#" frame. A new prefix appearing
// before the terminator drops the unterminated fragment in front of it.
func (Protocol) Extract(buf []byte) ([]byte, int) {
	start, drop := protocol.IndexOrTail(buf, prefixBytes)
	if start < 0 {
		return nil, drop
	}
	for {
		rest := buf[start:]
		end := bytes.IndexByte(rest[len(prefix):], terminator)
		next := bytes.Index(rest[1:], prefixBytes)
		if next >= 0 && (end < 0 || next+1 < end+len(prefix)) {
			start += next + 1
			continue
		}
		if end < 0 {
			return nil, start
		}
		total := len(prefix) + end + 1
		return rest[:total], start + total
	}
}

// Parse splits the frame into IMEI, command and the remaining fields.
func (Protocol) Parse(frame []byte) (protocol.Header, error) {
	s := string(frame)
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, string(terminator)) {
		return protocol.Header{}, fmt.Errorf("%w: H02 frame must be wrapped in %q and %q", protocol.ErrMalformedFrame, prefix, terminator)
	}
	fields := strings.SplitN(s[len(prefix):len(s)-1], ",", 3)
	if len(fields) < 2 {
		return protocol.Header{}, fmt.Errorf("%w: H02 frame has %d fields", protocol.ErrMalformedFrame, len(fields))
	}

	imei, command := fields[0], fields[1]
	if len(imei) < minIMEILength || len(imei) > maxIMEILength || !protocol.IsDigits(imei) {
		return protocol.Header{}, fmt.Errorf("%w: invalid H02 IMEI %q", protocol.ErrMalformedFrame, imei)
	}
	if command == "" {
		return protocol.Header{}, fmt.Errorf("%w: empty H02 command", protocol.ErrMalformedFrame)
	}

	h := protocol.Header{DeviceID: imei, Command: command}
	if len(fields) == 3 {
		h.Payload = fields[2]
	}
	return h, nil
}
