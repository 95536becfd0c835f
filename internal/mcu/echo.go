package mcu

import "time"

// EchoGuard drops inbound events that are reflections of the engine's own
// traffic. Live's MCU implementation mirrors outgoing transport and bank
// commands back as input; the guard layers a blanket post-send silence
// window under a longer per-note debounce so neither path can self-trigger.
type EchoGuard struct {
	lastSentNote int
	lastSentAt   time.Time
	silenceUntil time.Time
	silence      time.Duration
	debounce     time.Duration
}

// NewEchoGuard returns a guard with no suppression active.
func NewEchoGuard(silence, debounce time.Duration) *EchoGuard {
	return &EchoGuard{lastSentNote: -1, silence: silence, debounce: debounce}
}

// Observe records an outgoing event and opens the blanket silence window.
// Note-on commands additionally arm the per-note debounce.
func (g *EchoGuard) Observe(ev Event, now time.Time) {
	if ev.Type == NoteOn {
		g.lastSentNote = int(ev.Note)
		g.lastSentAt = now
	}
	if until := now.Add(g.silence); until.After(g.silenceUntil) {
		g.silenceUntil = until
	}
}

// OpenSilence extends the blanket window, never shortening it. Used to
// swallow the LCD flood that follows a handshake reset.
func (g *EchoGuard) OpenSilence(d time.Duration, now time.Time) {
	if until := now.Add(d); until.After(g.silenceUntil) {
		g.silenceUntil = until
	}
}

// ShouldProcess reports whether an inbound event is genuine device input.
func (g *EchoGuard) ShouldProcess(ev Event, now time.Time) bool {
	if now.Before(g.silenceUntil) {
		return false
	}
	if ev.Type == NoteOn && g.lastSentNote >= 0 && int(ev.Note) == g.lastSentNote &&
		now.Sub(g.lastSentAt) < g.debounce {
		return false
	}
	return true
}

// Reset clears all suppression state.
func (g *EchoGuard) Reset() {
	g.lastSentNote = -1
	g.lastSentAt = time.Time{}
	g.silenceUntil = time.Time{}
}
