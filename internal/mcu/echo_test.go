package mcu

import (
	"math/rand"
	"testing"
	"time"
)

func TestEchoGuardSilenceWindowDropsEverything(t *testing.T) {
	base := time.Unix(0, 0)
	g := NewEchoGuard(200*time.Millisecond, 500*time.Millisecond)
	g.Observe(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, base)

	events := []Event{
		{Type: NoteOn, Note: NoteStop, Velocity: 127},
		{Type: NoteOff, Note: NotePlay},
		{Type: ControlChange, Controller: 7, Value: 64},
		{Type: SysEx, Data: []byte{0x00, 0x00, 0x66, 0x14, 0x12, 0x00, 'a', 'b'}},
		{Type: PitchBend, Bend: 100},
	}
	for i := 0; i < 200; i++ {
		at := base.Add(time.Duration(rand.Int63n(int64(200 * time.Millisecond))))
		ev := events[i%len(events)]
		if g.ShouldProcess(ev, at) {
			t.Fatalf("event %v at +%v processed inside silence window", ev.Type, at.Sub(base))
		}
	}
}

func TestEchoGuardDebounceOutlivesSilence(t *testing.T) {
	base := time.Unix(0, 0)
	g := NewEchoGuard(200*time.Millisecond, 500*time.Millisecond)
	g.Observe(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, base)

	// Past the blanket window but inside the debounce: the echoed note is
	// still dropped while an unrelated note passes.
	at := base.Add(300 * time.Millisecond)
	if g.ShouldProcess(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, at) {
		t.Fatal("command echo processed inside debounce window")
	}
	if !g.ShouldProcess(Event{Type: NoteOn, Note: NoteStop, Velocity: 127}, at) {
		t.Fatal("unrelated note dropped outside silence window")
	}

	// Past the debounce the same note is genuine input again.
	at = base.Add(501 * time.Millisecond)
	if !g.ShouldProcess(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, at) {
		t.Fatal("note dropped after debounce expired")
	}
}

func TestEchoGuardOpenSilenceNeverShortens(t *testing.T) {
	base := time.Unix(0, 0)
	g := NewEchoGuard(200*time.Millisecond, 500*time.Millisecond)
	g.OpenSilence(3*time.Second, base)
	g.Observe(Event{Type: SysEx, Data: []byte{0x01}}, base.Add(time.Second))

	if g.ShouldProcess(Event{Type: NoteOn, Note: NoteStop}, base.Add(2500*time.Millisecond)) {
		t.Fatal("extended silence window was shortened by a later send")
	}
	if !g.ShouldProcess(Event{Type: NoteOn, Note: NoteStop}, base.Add(3001*time.Millisecond)) {
		t.Fatal("event dropped after extended window expired")
	}
}

func TestEchoGuardReset(t *testing.T) {
	base := time.Unix(0, 0)
	g := NewEchoGuard(200*time.Millisecond, 500*time.Millisecond)
	g.Observe(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, base)
	g.Reset()
	if !g.ShouldProcess(Event{Type: NoteOn, Note: NotePlay, Velocity: 127}, base.Add(time.Millisecond)) {
		t.Fatal("event dropped after guard reset")
	}
}
