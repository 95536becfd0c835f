package mcu

import "fmt"

// The bank counter is the engine's local belief, not device truth: the
// protocol subset has no bank read-back, so an externally originated bank
// change (a hand on the physical surface) goes unseen and the belief can
// drift. The handshake reset's forced re-zeroing is the recovery path.

// stepLeft pulses the bank-left command. The counter clamps at zero even
// though the pulse is still sent.
func (e *Engine) stepLeft() error {
	if err := e.pulse(NoteBankLeft); err != nil {
		return err
	}
	e.mu.Lock()
	if e.currentBank > 0 {
		e.currentBank--
	}
	e.mu.Unlock()
	e.sleep(e.cfg.StepDelay)
	return nil
}

// stepRight pulses the bank-right command; the counter is unbounded upward.
func (e *Engine) stepRight() error {
	if err := e.pulse(NoteBankRight); err != nil {
		return err
	}
	e.mu.Lock()
	e.currentBank++
	e.mu.Unlock()
	e.sleep(e.cfg.StepDelay)
	return nil
}

// navigateTo walks the view one bank at a time until the counter matches
// target. The iteration bound guarantees termination under state drift.
func (e *Engine) navigateTo(target int) error {
	if target < 0 {
		return fmt.Errorf("bank target %d out of range", target)
	}
	for i := 0; i < e.cfg.MaxNavSteps; i++ {
		cur := e.bank()
		if cur == target {
			return nil
		}
		var err error
		if cur < target {
			err = e.stepRight()
		} else {
			err = e.stepLeft()
		}
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("bank navigation to %d gave up after %d steps", target, e.cfg.MaxNavSteps)
}
