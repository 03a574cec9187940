package gt06

// Response builds the server reply a GT06 device expects for frame:
//
//	Start(2) + Length(1) + ProtocolNo(1) + Serial(2) + CRC(2) + Stop(2)
//
// The protocol number and serial are echoed from the received frame.
func Response(frame []byte) []byte {
	if len(frame) < 4 {
		return nil
	}
	msgType := frame[headerSize(frame[0])]
	serial := Serial(frame)

	resp := make([]byte, 0, 10)
	resp = append(resp, startByteShort, startByteShort)
	resp = append(resp, 0x05)
	resp = append(resp, msgType)
	resp = append(resp, byte(serial>>8), byte(serial))

	crc := CRCITU(resp[2:])
	resp = append(resp, byte(crc>>8), byte(crc))

	resp = append(resp, stopByte1, stopByte2)
	return resp
}
