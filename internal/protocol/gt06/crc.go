package gt06

// CRCITU computes the CRC-ITU (CRC-16/X-25) checksum GT06 devices use over
// the bytes from the length field to the serial number.
func CRCITU(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
