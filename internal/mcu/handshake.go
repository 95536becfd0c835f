package mcu

import (
	"fmt"
	"strings"
)

// Phase reports handshake progress.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseQuerying
	PhaseNegotiated
)

func (p Phase) String() string {
	switch p {
	case PhaseQuerying:
		return "querying"
	case PhaseNegotiated:
		return "negotiated"
	default:
		return "uninitialized"
	}
}

// Phase returns the handshake phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Handshake performs the initial device negotiation and LCD refresh
// sequence. Blocks until the sequence completes or fails.
func (e *Engine) Handshake() error {
	var opErr error
	if err := e.enqueueWait("handshake", func() { opErr = e.runHandshake() }); err != nil {
		return err
	}
	return opErr
}

// ResetHandshake re-runs the reset sequence, dropping every discovery fact
// the engine has accumulated.
func (e *Engine) ResetHandshake() error {
	var opErr error
	if err := e.enqueueWait("handshake reset", func() { opErr = e.runReset() }); err != nil {
		return err
	}
	return opErr
}

func (e *Engine) runHandshake() error {
	e.setPhase(PhaseQuerying)
	if err := e.queryResponsePair(); err != nil {
		return err
	}
	for ch := 0; ch < ChannelsPerBank; ch++ {
		if err := e.refreshChannelLCD(uint8(ch)); err != nil {
			return fmt.Errorf("lcd refresh channel %d: %w", ch, err)
		}
	}
	// A bank round-trip forces Live to repaint the whole display.
	if err := e.stepRight(); err != nil {
		return err
	}
	if err := e.stepLeft(); err != nil {
		return err
	}
	e.setPhase(PhaseNegotiated)
	e.log.Info("handshake negotiated")
	return nil
}

func (e *Engine) queryResponsePair() error {
	if err := e.send(sysexEvent(deviceQuery)); err != nil {
		return fmt.Errorf("device query: %w", err)
	}
	// Give the device time to digest the query before the response lands.
	e.sleep(e.cfg.HandshakeDelay)
	if err := e.send(sysexEvent(hostResponse)); err != nil {
		return fmt.Errorf("host response: %w", err)
	}
	return nil
}

// refreshChannelLCD pins down one channel strip's mapping and forces its
// text region to repaint: fader touch pulse, centred pitch bend, clear,
// re-request.
func (e *Engine) refreshChannelLCD(ch uint8) error {
	if err := e.send(Event{Type: NoteOn, Note: NoteFaderTouch + ch, Velocity: 127}); err != nil {
		return err
	}
	if err := e.send(Event{Type: NoteOff, Note: NoteFaderTouch + ch}); err != nil {
		return err
	}
	if err := e.send(Event{Type: PitchBend, Channel: ch, Bend: 0}); err != nil {
		return err
	}
	offset := int(ch) * lcdCellsPerChannel
	if err := e.send(lcdWrite(offset, strings.Repeat(" ", lcdCellsPerChannel))); err != nil {
		return err
	}
	if err := e.send(lcdRequest(offset)); err != nil {
		return err
	}
	e.sleep(e.cfg.RequestDelay)
	return nil
}

// runReset is the full recovery sequence invoked before discovery: clear
// caches, swallow the resulting LCD flood with an extended silence window,
// close and renegotiate the display, and force the view back to bank zero.
func (e *Engine) runReset() error {
	e.mu.Lock()
	e.names = make(map[int]map[int]string)
	e.backing = location{}
	e.guard.Reset()
	e.guard.OpenSilence(e.cfg.ResetSilence, e.now())
	e.mu.Unlock()

	e.setPhase(PhaseQuerying)
	if err := e.send(sysexEvent(lcdClose)); err != nil {
		return fmt.Errorf("lcd close: %w", err)
	}
	if err := e.queryResponsePair(); err != nil {
		return err
	}

	// Walk the view towards bank zero, bounded. There is no bank read-back,
	// so afterwards the counter is forced to zero regardless of how many
	// steps ran: local state wins over uncertain device state.
	for i := 0; i < resetNavSteps && e.bank() > 0; i++ {
		if err := e.stepLeft(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.currentBank = 0
	e.mu.Unlock()

	e.setPhase(PhaseNegotiated)

	// Sit out the extended window so the post-reset LCD flood cannot be
	// mistaken for fresh track names.
	e.sleep(e.cfg.ResetSilence)
	e.log.Info("handshake reset complete")
	return nil
}
