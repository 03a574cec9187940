// Package protocol defines the contract every tracker wire protocol implements.
//
// A protocol is two pure functions over bytes: Extract finds the boundary of
// the first complete frame in an accumulated buffer, and Parse pulls the
// routing metadata (device identifier, command code) out of one frame.
// Neither keeps state between calls, so the same value is shared by every
// session of that protocol.
package protocol

import (
	"bytes"
	"errors"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
)

// Header is the routing metadata of a single frame.
type Header struct {
	DeviceID string
	Command  string
	Payload  string
}

// Framer scans buf for the first complete frame.
//
// consumed == 0 means buf holds no complete frame yet and must be kept whole.
// frame == nil with consumed > 0 means the first consumed bytes can never be
// part of a frame and are discarded. Otherwise frame is the first complete
// frame and consumed covers any discarded leading bytes plus the frame.
type Framer interface {
	Extract(buf []byte) (frame []byte, consumed int)
}

type Protocol interface {
	Framer
	Name() string
	Parse(frame []byte) (Header, error)
}

// IndexOrTail returns the index of the first occurrence of marker in buf and
// the number of bytes before it. When marker is absent the index is -1 and
// the count covers every byte except a trailing partial marker.
func IndexOrTail(buf, marker []byte) (int, int) {
	if i := bytes.Index(buf, marker); i >= 0 {
		return i, i
	}
	keep := 0
	for k := min(len(marker)-1, len(buf)); k > 0; k-- {
		if bytes.HasSuffix(buf, marker[:k]) {
			keep = k
			break
		}
	}
	return -1, len(buf) - keep
}

// IsDigits reports whether s is non-empty and made of ASCII digits only.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
