package h02

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackgate/internal/protocol/protocoltest"
)

var (
	infoFrame      = []byte("*HQ,123456789012345,V1,121300,A,2237.7514,N,11408.6214,E,6,2,151022,FFFFFBFF#")
	heartbeatFrame = []byte("*HQ,123456789012345,HTBT,100#")
	linkFrame      = []byte("*HQ,4210051415,LINK,130305,15,0,97,0,0,291214,FFFFFBFF#")
)

func TestExtract(t *testing.T) {
	p := Protocol{}

	tests := []struct {
		name         string
		buf          string
		wantFrame    string
		wantConsumed int
	}{
		{name: "empty", buf: "", wantFrame: "", wantConsumed: 0},
		{name: "one frame", buf: "*HQ,1,V1#", wantFrame: "*HQ,1,V1#", wantConsumed: 9},
		{name: "frame then partial", buf: "*HQ,1,V1#*HQ", wantFrame: "*HQ,1,V1#", wantConsumed: 9},
		{name: "garbage before prefix", buf: "\r\n*HQ,1,V1#", wantFrame: "*HQ,1,V1#", wantConsumed: 11},
		{name: "no terminator yet", buf: "*HQ,1,V1", wantFrame: "", wantConsumed: 0},
		{name: "garbage only", buf: "hello", wantFrame: "", wantConsumed: 5},
		{name: "garbage keeps partial prefix", buf: "xx*H", wantFrame: "", wantConsumed: 2},
		{name: "unterminated fragment", buf: "*HQ,1,V*HQ,2,V1#", wantFrame: "*HQ,2,V1#", wantConsumed: 16},
		{name: "unterminated fragment waiting", buf: "*HQ,1*HQ,2", wantFrame: "", wantConsumed: 5},
		{name: "stray terminator", buf: "#*HQ,1,V1#", wantFrame: "*HQ,1,V1#", wantConsumed: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, consumed := p.Extract([]byte(tt.buf))
			assert.Equal(t, tt.wantFrame, string(frame))
			assert.Equal(t, tt.wantConsumed, consumed)
		})
	}
}

func TestReassembly(t *testing.T) {
	p := Protocol{}

	protocoltest.RequireReassembly(t, p, [][]byte{infoFrame})
	protocoltest.RequireReassembly(t, p, [][]byte{infoFrame, heartbeatFrame, linkFrame})
}

func TestParse(t *testing.T) {
	p := Protocol{}

	tests := []struct {
		name        string
		frame       []byte
		wantDevice  string
		wantCommand string
		wantPayload string
		wantErr     bool
	}{
		{
			name:        "position report",
			frame:       infoFrame,
			wantDevice:  "123456789012345",
			wantCommand: "V1",
			wantPayload: "121300,A,2237.7514,N,11408.6214,E,6,2,151022,FFFFFBFF",
		},
		{
			name:        "heartbeat",
			frame:       heartbeatFrame,
			wantDevice:  "123456789012345",
			wantCommand: "HTBT",
			wantPayload: "100",
		},
		{
			name:        "ten digit id",
			frame:       linkFrame,
			wantDevice:  "4210051415",
			wantCommand: "LINK",
			wantPayload: "130305,15,0,97,0,0,291214,FFFFFBFF",
		},
		{
			name:        "command without fields",
			frame:       []byte("*HQ,123456789012345,V4#"),
			wantDevice:  "123456789012345",
			wantCommand: "V4",
		},
		{name: "missing command", frame: []byte("*HQ,123456789012345#"), wantErr: true},
		{name: "non numeric imei", frame: []byte("*HQ,12345678901234A,V1,x#"), wantErr: true},
		{name: "short imei", frame: []byte("*HQ,1234,V1,x#"), wantErr: true},
		{name: "empty command", frame: []byte("*HQ,123456789012345,,x#"), wantErr: true},
		{name: "no terminator", frame: []byte("*HQ,123456789012345,V1"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := p.Parse(tt.frame)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, h.DeviceID)
			assert.Equal(t, tt.wantCommand, h.Command)
			assert.Equal(t, tt.wantPayload, h.Payload)
		})
	}
}
