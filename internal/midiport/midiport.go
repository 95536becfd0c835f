package midiport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/lunaweb/mcu-bridge/internal/mcu"
)

// Manager owns the bridge's MIDI input and output ports. Its Send method
// satisfies mcu.Sender, so the engine can be handed a Manager directly.
type Manager struct {
	mu       sync.RWMutex
	portName string
	in       drivers.In
	out      drivers.Out
	send     func(midi.Message) error
	stop     func()
	log      logrus.FieldLogger
}

// NewManager creates a new MIDI port manager.
func NewManager(log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{log: log}
}

// InPorts returns the names of available MIDI input ports.
func (m *Manager) InPorts() []string {
	ins := midi.GetInPorts()
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

// OutPorts returns the names of available MIDI output ports.
func (m *Manager) OutPorts() []string {
	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}

// matchPort resolves a configured port name against the system's port list.
// Exact matches win; otherwise the first case-insensitive substring match is
// taken, so "fader-mcu" finds "IAC Driver fader-mcu".
func matchPort(want string, have []string) (string, bool) {
	for _, name := range have {
		if name == want {
			return name, true
		}
	}
	lower := strings.ToLower(want)
	for _, name := range have {
		if strings.Contains(strings.ToLower(name), lower) {
			return name, true
		}
	}
	return "", false
}

// Open connects the named port pair. The output port is required; a missing
// input port degrades to send-only operation with a warning, since the
// bridge can still drive the transport blind.
func (m *Manager) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	outName, ok := matchPort(name, m.OutPorts())
	if !ok {
		return fmt.Errorf("output port not found: %s (available: %s)", name, strings.Join(m.OutPorts(), ", "))
	}
	out, err := midi.FindOutPort(outName)
	if err != nil {
		return fmt.Errorf("output port %s: %w", outName, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}

	m.out = out
	m.send = send
	m.portName = outName
	m.log.WithField("port", outName).Info("MIDI output connected")

	if inName, ok := matchPort(name, m.InPorts()); ok {
		in, err := midi.FindInPort(inName)
		if err != nil {
			return fmt.Errorf("input port %s: %w", inName, err)
		}
		m.in = in
		m.log.WithField("port", inName).Info("MIDI input connected")
	} else {
		m.log.WithField("port", name).Warn("no matching input port, feedback disabled")
	}
	return nil
}

// Listen starts delivering decoded events from the input port to handler.
// Events arrive on the driver's callback goroutine one at a time, which is
// the ordering the engine's dispatch contract needs.
func (m *Manager) Listen(handler func(mcu.Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.in == nil {
		return fmt.Errorf("no MIDI input port open")
	}
	stop, err := midi.ListenTo(m.in, func(msg midi.Message, timestampms int32) {
		if ev, ok := toEvent(msg); ok {
			handler(ev)
		}
	}, midi.UseSysEx())
	if err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}
	m.stop = stop
	return nil
}

// Send delivers one engine event to the output port.
func (m *Manager) Send(ev mcu.Event) error {
	m.mu.RLock()
	send := m.send
	m.mu.RUnlock()

	if send == nil {
		return fmt.Errorf("MIDI output not connected")
	}
	msg, err := toMessage(ev)
	if err != nil {
		return err
	}
	return send(msg)
}

// PortName returns the resolved output port name, empty when disconnected.
func (m *Manager) PortName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portName
}

// Connected reports whether an output port is open.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.send != nil
}

// Close stops the listener and cleans up the MIDI driver.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.send = nil
	m.in = nil
	m.out = nil
	m.portName = ""
	m.mu.Unlock()

	midi.CloseDriver()
}

// toEvent decodes a wire message into the engine's event form. Unhandled
// message kinds report false and are dropped at the edge.
func toEvent(msg midi.Message) (mcu.Event, bool) {
	var (
		channel, key, velocity uint8
		controller, value      uint8
		relative               int16
		absolute               uint16
		data                   []byte
	)
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		return mcu.Event{Type: mcu.NoteOn, Channel: channel, Note: key, Velocity: velocity}, true
	case msg.GetNoteOff(&channel, &key, &velocity):
		return mcu.Event{Type: mcu.NoteOff, Channel: channel, Note: key}, true
	case msg.GetControlChange(&channel, &controller, &value):
		return mcu.Event{Type: mcu.ControlChange, Channel: channel, Controller: controller, Value: value}, true
	case msg.GetPitchBend(&channel, &relative, &absolute):
		return mcu.Event{Type: mcu.PitchBend, Channel: channel, Bend: relative}, true
	case msg.GetSysEx(&data):
		return mcu.Event{Type: mcu.SysEx, Data: data}, true
	}
	return mcu.Event{}, false
}

// toMessage encodes an engine event for the wire.
func toMessage(ev mcu.Event) (midi.Message, error) {
	switch ev.Type {
	case mcu.NoteOn:
		return midi.NoteOn(ev.Channel, ev.Note, ev.Velocity), nil
	case mcu.NoteOff:
		return midi.NoteOff(ev.Channel, ev.Note), nil
	case mcu.ControlChange:
		return midi.ControlChange(ev.Channel, ev.Controller, ev.Value), nil
	case mcu.PitchBend:
		return midi.Pitchbend(ev.Channel, ev.Bend), nil
	case mcu.SysEx:
		return midi.SysEx(ev.Data), nil
	}
	return nil, fmt.Errorf("unsupported event type: %s", ev.Type)
}
