package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"trackgate/internal/protocol/gt06"
	"trackgate/internal/protocol/h02"
	"trackgate/internal/protocol/teltonika"
	"trackgate/internal/protocol/tk103"
)

// sampleFrames returns the session a device of the given protocol would
// open with: an identifying frame followed by a few data frames.
func sampleFrames(proto, imei string) ([][]byte, error) {
	switch proto {
	case gt06.Name:
		login, err := gt06LoginFrame(imei, 1)
		if err != nil {
			return nil, err
		}
		return [][]byte{
			login,
			gt06Frame(0x12, 2, []byte{
				0x17, 0x0A, 0x0F, 0x0C, 0x22, 0x38, // date and time
				0xC8,                   // satellites
				0x02, 0x6C, 0x10, 0x63, // latitude
				0x0C, 0x38, 0xF8, 0x55, // longitude
				0x28,       // speed
				0x14, 0x4C, // course and status
			}),
			gt06Frame(0x23, 3, []byte{0x44, 0x04, 0x04, 0x00, 0x01}),
		}, nil

	case tk103.Name:
		return [][]byte{
			[]byte(fmt.Sprintf("(%sBP00%sHSO)", imei, imei)),
			[]byte(fmt.Sprintf("(%sBP05%s231015A2237.7514N11408.6214E000.0120000000.0000000000L00000000)", imei, imei)),
			[]byte(fmt.Sprintf("(%sBR00231015A2237.7514N11408.6214E000.0120000000.0000000000L00000000)", imei)),
		}, nil

	case h02.Name:
		return [][]byte{
			[]byte(fmt.Sprintf("*HQ,%s,V1,120000,A,2237.7514,N,11408.6214,E,0.00,0,151023,FFFFFBFF#", imei)),
			[]byte(fmt.Sprintf("*HQ,%s,XT,1,100#", imei)),
		}, nil

	case teltonika.Name:
		handshake := make([]byte, 2, 2+len(imei))
		binary.BigEndian.PutUint16(handshake, uint16(len(imei)))
		handshake = append(handshake, imei...)
		return [][]byte{
			handshake,
			teltonikaAVLFrame(0x08, 1),
		}, nil
	}
	return nil, fmt.Errorf("no sample frames for protocol %q", proto)
}

func gt06LoginFrame(imei string, serial uint16) ([]byte, error) {
	padded := imei
	if len(padded)%2 != 0 {
		padded = "0" + padded
	}
	bcd, err := hex.DecodeString(padded)
	if err != nil || len(bcd) != 8 {
		return nil, fmt.Errorf("gt06 login needs a 15 or 16 digit IMEI, got %q", imei)
	}
	return gt06Frame(0x01, serial, bcd), nil
}

// gt06Frame wraps content in a short 0x7878 frame with a valid CRC-ITU.
func gt06Frame(msgType byte, serial uint16, content []byte) []byte {
	body := []byte{byte(1 + len(content) + 4), msgType}
	body = append(body, content...)
	body = binary.BigEndian.AppendUint16(body, serial)
	body = binary.BigEndian.AppendUint16(body, gt06.CRCITU(body))

	frame := append([]byte{0x78, 0x78}, body...)
	return append(frame, 0x0D, 0x0A)
}

// teltonikaAVLFrame builds an AVL packet with zero-filled placeholder records.
func teltonikaAVLFrame(codec byte, records int) []byte {
	data := []byte{codec, byte(records)}
	data = append(data, make([]byte, 4*records)...)
	data = append(data, byte(records))

	frame := make([]byte, 8, 8+len(data)+4)
	binary.BigEndian.PutUint32(frame[4:], uint32(len(data)))
	frame = append(frame, data...)
	return binary.BigEndian.AppendUint32(frame, 0)
}

func formatFrame(frame []byte) string {
	if isPrintable(frame) {
		return string(frame)
	}
	return strings.ToUpper(hex.EncodeToString(frame))
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return len(b) > 0
}
