package gt06

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRCITU(t *testing.T) {
	assert.Equal(t, uint16(0x906E), CRCITU([]byte("123456789")))
	assert.Equal(t, uint16(0xD9DC), CRCITU([]byte{0x05, 0x01, 0x00, 0x01}))
}

func TestResponse(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{
			name:  "login",
			frame: loginFrame,
			want:  []byte{0x78, 0x78, 0x05, 0x01, 0x00, 0x01, 0xD9, 0xDC, 0x0D, 0x0A},
		},
		{
			name:  "status echoes serial",
			frame: heartbeatFrame,
			want: func() []byte {
				crc := CRCITU([]byte{0x05, 0x13, 0x00, 0x03})
				return []byte{0x78, 0x78, 0x05, 0x13, 0x00, 0x03, byte(crc >> 8), byte(crc), 0x0D, 0x0A}
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Response(tt.frame))
		})
	}
}
