package mcu

import "bytes"

// Note numbers from the MCU surface map. Live mirrors these back as input
// when it acts on them, which is why the EchoGuard exists.
const (
	NotePlay   = 0x5E
	NoteStop   = 0x5D
	NoteRecord = 0x5F

	NoteBankLeft  = 0x2E
	NoteBankRight = 0x2F

	// Fader touch for channel strip n is NoteFaderTouch+n.
	NoteFaderTouch = 0x68
)

const (
	// ChannelsPerBank is how many channel strips one bank exposes.
	ChannelsPerBank = 8

	// ccVolume is the control-change number carrying channel volume.
	ccVolume = 7

	// Each channel strip owns 7 cells of the upper LCD line.
	lcdCellsPerChannel = 7
	// lcdUpperLineMax is the last offset still on the upper (track name) line.
	lcdUpperLineMax = 0x37
)

// Fixed sysex byte sequences. These must match the device byte-for-byte.
var (
	deviceQuery  = []byte{0x7E, 0x7F, 0x06, 0x01}
	hostResponse = []byte{0x7E, 0x00, 0x06, 0x02, 0x00, 0x20, 0x32, 0x41, 0x00, 0x00, 0x00, 0x00}
	pingHeader   = []byte{0x00, 0x00, 0x66, 0x14, 0x20}
	pingAck      = []byte{0x00, 0x00, 0x66, 0x14, 0x21, 0x00, 0x01}
	lcdHeader    = []byte{0x00, 0x00, 0x66, 0x14, 0x12}
	lcdClose     = []byte{0x00, 0x00, 0x66, 0x14, 0x61}
)

func sysexEvent(payload []byte) Event {
	return Event{Type: SysEx, Data: append([]byte(nil), payload...)}
}

// lcdWrite builds an LCD text frame for the given cell offset.
func lcdWrite(offset int, text string) Event {
	data := make([]byte, 0, len(lcdHeader)+1+len(text))
	data = append(data, lcdHeader...)
	data = append(data, byte(offset))
	data = append(data, text...)
	return Event{Type: SysEx, Data: data}
}

// lcdRequest asks the device to repaint the text region at offset.
func lcdRequest(offset int) Event {
	return lcdWrite(offset, "")
}

func isPing(data []byte) bool {
	return bytes.HasPrefix(data, pingHeader)
}

func isLCDFrame(data []byte) bool {
	return len(data) > len(lcdHeader) && bytes.HasPrefix(data, lcdHeader)
}
