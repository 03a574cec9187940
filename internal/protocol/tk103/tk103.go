// Package tk103 frames the parenthesis-delimited text protocol spoken by
// TK103/GPS103 style trackers:
//
//	(<15-digit identifier><command><data>)
//
// The command is two to four letters followed by up to two digits (BP05,
// BR00, AP01). A single space between command and data is tolerated.
package tk103

import (
	"bytes"
	"fmt"
	"regexp"

	"trackgate/internal/protocol"
)

const (
	Name = "tk103"

	frameOpen  = '('
	frameClose = ')'

	CommandHandshake = "BP00"
	CommandLogin     = "BP05"
)

var grammar = regexp.MustCompile(`(?s)^\((\d{15})([A-Za-z]{2,4}\d{0,2}) ?(.*)\)$`)

// Protocol implements protocol.Protocol for TK103.
type Protocol struct{}

var _ protocol.Protocol = Protocol{}

func (Protocol) Name() string { return Name }

// Extract returns the text between the first '(' and its closing ')'.
// An opening parenthesis seen again before the close marks the earlier
// fragment as broken and it is discarded.
func (Protocol) Extract(buf []byte) ([]byte, int) {
	open := bytes.IndexByte(buf, frameOpen)
	if open < 0 {
		return nil, len(buf)
	}
	for {
		rest := buf[open:]
		end := bytes.IndexByte(rest, frameClose)
		next := bytes.IndexByte(rest[1:], frameOpen) + 1
		if next > 0 && (end < 0 || next < end) {
			open += next
			continue
		}
		if end < 0 {
			return nil, open
		}
		return rest[:end+1], open + end + 1
	}
}

// Parse validates the frame against the field grammar.
func (Protocol) Parse(frame []byte) (protocol.Header, error) {
	m := grammar.FindSubmatch(frame)
	if m == nil {
		return protocol.Header{}, fmt.Errorf("%w: %q does not match tk103 grammar", protocol.ErrMalformedFrame, frame)
	}
	return protocol.Header{
		DeviceID: string(m[1]),
		Command:  string(m[2]),
		Payload:  string(m[3]),
	}, nil
}

// HandshakeResponse answers a BP00 handshake.
func HandshakeResponse(deviceID string) []byte {
	return []byte("(" + deviceID + "AP01HSO)")
}

// LoginResponse answers a BP05 login.
func LoginResponse(deviceID string) []byte {
	return []byte("(" + deviceID + "AP05)")
}
