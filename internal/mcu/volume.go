package mcu

import (
	"fmt"
	"math"
	"strings"
)

// VolumeResult reports where a volume command landed.
type VolumeResult struct {
	Bank    int
	Channel int
}

// VolumeStatus is a snapshot of the volume bookkeeping. Bank and Channel are
// -1 until discovery completes.
type VolumeStatus struct {
	LastKnownVolume float64
	Discovered      bool
	Bank            int
	Channel         int
}

// SetTrackVolume moves the fader for the discovered track. A non-empty
// track name replaces the sought target; changing it invalidates a previous
// discovery. When no discovery has completed, a cycle is started in the
// background and ErrNotReady is returned instead of blocking.
func (e *Engine) SetTrackVolume(track string, fraction float64) (VolumeResult, error) {
	if fraction < 0 || fraction > 1 {
		return VolumeResult{}, fmt.Errorf("volume %v out of range [0, 1]", fraction)
	}
	e.retarget(track)
	loc, ok := e.located()
	if !ok {
		e.TriggerDiscovery()
		return VolumeResult{}, ErrNotReady
	}
	var opErr error
	if err := e.enqueueWait("set volume", func() { opErr = e.runSetVolume(loc, fraction) }); err != nil {
		return VolumeResult{}, err
	}
	if opErr != nil {
		return VolumeResult{}, opErr
	}
	return VolumeResult{Bank: loc.bank, Channel: loc.channel}, nil
}

// retarget swaps the sought track name, dropping a completed discovery only
// when the name actually changed.
func (e *Engine) retarget(track string) {
	if track == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.EqualFold(track, e.matcher.Target) {
		return
	}
	e.matcher = NewNameMatcher(track)
	e.backing = location{}
}

// runSetVolume navigates to the track's bank if needed, emits the volume
// change, and restores the prior bank. Runs on the operation queue, so no
// other bank-moving caller can interleave.
func (e *Engine) runSetVolume(loc location, fraction float64) error {
	start := e.bank()
	moved := start != loc.bank
	if moved {
		if err := e.navigateTo(loc.bank); err != nil {
			if rerr := e.navigateTo(start); rerr != nil {
				e.log.WithError(rerr).Warn("could not restore bank after failed navigation")
			}
			return err
		}
	}
	value := uint8(math.Round(fraction * 127))
	sendErr := e.send(Event{Type: ControlChange, Channel: uint8(loc.channel), Controller: ccVolume, Value: value})
	if moved {
		if err := e.navigateTo(start); err != nil {
			if sendErr == nil {
				sendErr = err
			} else {
				e.log.WithError(err).Warn("could not restore bank after volume send")
			}
		}
	}
	return sendErr
}

// handleVolumeFeedback tracks the DAW's own fader position reports. Only
// events on the discovered channel, while the discovered bank is showing,
// may update the belief; anything else is another track's fader.
func (e *Engine) handleVolumeFeedback(ev Event) {
	if ev.Controller != ccVolume {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.backing.found || int(ev.Channel) != e.backing.channel || e.currentBank != e.backing.bank {
		return
	}
	e.lastVolume = float64(ev.Value) / 127
}

// VolumeState returns the volume bookkeeping snapshot.
func (e *Engine) VolumeState() VolumeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := VolumeStatus{
		LastKnownVolume: e.lastVolume,
		Discovered:      e.backing.found,
		Bank:            -1,
		Channel:         -1,
	}
	if e.backing.found {
		s.Bank = e.backing.bank
		s.Channel = e.backing.channel
	}
	return s
}
