package mcu

import "strings"

// decodeLCD extracts the channel index and cleaned track name from an LCD
// update frame (payload after F0, before F7). ok is false for frames outside
// the upper display line and for text too short to be a real track name;
// such frames are expected flicker and are dropped without logging.
func decodeLCD(data []byte) (channel int, name string, ok bool) {
	if !isLCDFrame(data) {
		return 0, "", false
	}
	offset := int(data[len(lcdHeader)])
	if offset > lcdUpperLineMax {
		// Lower line carries parameter values, not names.
		return 0, "", false
	}
	channel = offset / lcdCellsPerChannel

	var b strings.Builder
	for _, c := range data[len(lcdHeader)+1:] {
		if c == 0 || c >= 0x80 {
			continue
		}
		b.WriteByte(c)
	}
	name = strings.TrimSpace(b.String())
	if len(name) <= 1 {
		// Single characters show up transiently while Live repaints.
		return 0, "", false
	}
	return channel, name, true
}
