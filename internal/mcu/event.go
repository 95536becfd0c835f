package mcu

// EventType identifies the MIDI message kind carried by an Event.
type EventType int

const (
	NoteOn EventType = iota
	NoteOff
	ControlChange
	PitchBend
	SysEx
)

func (t EventType) String() string {
	switch t {
	case NoteOn:
		return "note_on"
	case NoteOff:
		return "note_off"
	case ControlChange:
		return "control_change"
	case PitchBend:
		return "pitch_bend"
	case SysEx:
		return "sysex"
	default:
		return "unknown"
	}
}

// Event is one parsed MIDI message. Only the fields relevant to its Type
// carry meaning; an Event is never mutated after construction.
type Event struct {
	Type       EventType
	Channel    uint8
	Note       uint8
	Velocity   uint8
	Controller uint8
	Value      uint8
	Bend       int16  // signed, 0 is centre
	Data       []byte // SysEx payload without the F0/F7 framing bytes
}

// Sender delivers events to the MIDI device. Implementations must preserve
// call order; a failure is reported to the caller, never dropped.
type Sender interface {
	Send(Event) error
}
