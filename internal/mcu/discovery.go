package mcu

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TriggerDiscovery starts a background scan for the target track. It is
// single-flight: a second trigger while a cycle runs, or after a completed
// one, is a no-op. Returns true when a new cycle was started.
func (e *Engine) TriggerDiscovery() bool {
	e.mu.Lock()
	if e.discovering || e.backing.found {
		e.mu.Unlock()
		return false
	}
	e.discovering = true
	e.mu.Unlock()

	id := uuid.NewString()
	if _, err := e.enqueue("discovery", func() { e.runDiscovery(id) }); err != nil {
		e.mu.Lock()
		e.discovering = false
		e.mu.Unlock()
		return false
	}
	return true
}

// runDiscovery scans banks left to right until the matcher fires, then
// schedules a walk back to the bank the user was looking at. The in-progress
// flag clears on every exit path so a manual retry is always possible.
func (e *Engine) runDiscovery(id string) {
	log := e.log.WithField("cycle", id)

	e.mu.Lock()
	e.originalBank = e.currentBank
	orig := e.originalBank
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.discovering = false
		e.mu.Unlock()
	}()

	log.WithFields(logrus.Fields{"target": e.Target(), "from_bank": orig}).Info("discovery started")

	if err := e.runReset(); err != nil {
		log.WithError(err).Error("handshake reset failed")
		return
	}

	for bank := 0; bank < e.cfg.MaxBanks; bank++ {
		if err := e.scanBank(); err != nil {
			log.WithError(err).WithField("bank", bank).Error("bank scan failed")
			break
		}
		if loc, ok := e.located(); ok {
			log.WithFields(logrus.Fields{"bank": loc.bank, "channel": loc.channel}).Info("discovery complete")
			break
		}
		if bank == e.cfg.MaxBanks-1 {
			break
		}
		if err := e.stepRight(); err != nil {
			log.WithError(err).Error("bank step failed")
			break
		}
	}

	if _, ok := e.located(); !ok {
		// Non-fatal: the view is restored and a manual retrigger stays
		// possible.
		log.WithField("banks_scanned", e.cfg.MaxBanks).Warn("discovery exhausted without a match")
	}

	if e.bank() != orig {
		e.scheduleReturn(orig, log)
	}
}

// scanBank requests each channel's name cell and waits for the decoded LCD
// events to land in the cache.
func (e *Engine) scanBank() error {
	for ch := 0; ch < ChannelsPerBank; ch++ {
		if err := e.send(lcdRequest(ch * lcdCellsPerChannel)); err != nil {
			return err
		}
		e.sleep(e.cfg.RequestDelay)
	}
	e.sleep(e.cfg.LCDSettle)
	return nil
}

// scheduleReturn hands the view back to the user's bank as a follow-up
// operation so discovery completion is not blocked on the walk.
func (e *Engine) scheduleReturn(bank int, log logrus.FieldLogger) {
	if _, err := e.enqueue("bank restore", func() {
		if err := e.navigateTo(bank); err != nil {
			log.WithError(err).Warn("could not restore original bank")
		}
	}); err != nil {
		log.WithError(err).Warn("engine closed before bank restore")
	}
}
