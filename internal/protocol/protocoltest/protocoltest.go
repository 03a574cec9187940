// Package protocoltest holds helpers shared by the framer tests.
package protocoltest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"trackgate/internal/protocol"
)

// Feed appends chunks to a buffer one read at a time and extracts every
// frame the framer yields after each read, the way a session does.
func Feed(f protocol.Framer, chunks [][]byte) (frames [][]byte, consumed int, leftover []byte) {
	var buf []byte
	for _, c := range chunks {
		buf = append(buf, c...)
		for {
			frame, n := f.Extract(buf)
			if n == 0 {
				break
			}
			if frame != nil {
				frames = append(frames, bytes.Clone(frame))
			}
			consumed += n
			buf = buf[n:]
		}
	}
	return frames, consumed, buf
}

// SplitAt cuts data into two reads at offset at.
func SplitAt(data []byte, at int) [][]byte {
	return [][]byte{data[:at], data[at:]}
}

// Chunk cuts data into reads of size bytes.
func Chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

// RequireReassembly concatenates frames and checks that every split point and
// every small read size yields exactly the input frames, in order, with no
// leftover and every byte consumed.
func RequireReassembly(t *testing.T, f protocol.Framer, frames [][]byte) {
	t.Helper()

	stream := bytes.Join(frames, nil)
	check := func(label string, chunks [][]byte) {
		got, consumed, leftover := Feed(f, chunks)
		require.Len(t, got, len(frames), label)
		for i := range frames {
			require.Equal(t, frames[i], got[i], "%s: frame %d", label, i)
		}
		require.Empty(t, leftover, label)
		require.Equal(t, len(stream), consumed, label)
	}

	for at := 0; at <= len(stream); at++ {
		check("split", SplitAt(stream, at))
	}
	for size := 1; size <= 7; size++ {
		check("chunk", Chunk(stream, size))
	}
}
