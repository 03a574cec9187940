// Package gt06 frames the GT06 binary tracker protocol
package gt06

// Protocol constants
const (
	Name = "gt06"

	startByteShort = 0x78 // 0x7878: 1-byte length field
	startByteLong  = 0x79 // 0x7979: 2-byte length field
	stopByte1      = 0x0D
	stopByte2      = 0x0A

	stopSize = 2

	// protocol number(1) + serial(2) + crc(2)
	minContentLength = 5
	// longest content a device sends; larger declared lengths are noise
	maxContentLength = 1024
	imeiLength       = 8

	// Message types
	loginMsg     = 0x01
	locationMsg  = 0x12
	statusMsg    = 0x13
	alarmMsg     = 0x16
	heartbeatMsg = 0x23
)

// Command codes as they appear in Header.Command
const (
	CommandLogin     = "01"
	CommandLocation  = "12"
	CommandStatus    = "13"
	CommandAlarm     = "16"
	CommandHeartbeat = "23"
)
