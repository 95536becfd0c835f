package mcu

import (
	"testing"
	"time"
)

func TestDiscoveryFindsTrackAndRestoresBank(t *testing.T) {
	e, daw, _ := newTestEngine(t, Config{Target: "Backing", MaxBanks: 5})
	daw.mu.Lock()
	daw.tracks = map[int]map[int]string{
		0: {0: "Drums", 1: "Bass"},
		1: {0: "Keys", 4: "Lead Vox"},
		2: {3: "Backing Vocals", 5: "FX Return"},
	}
	daw.mu.Unlock()

	if !e.TriggerDiscovery() {
		t.Fatal("discovery did not start")
	}

	waitFor(t, "discovery and bank restore", func() bool {
		st := e.VolumeState()
		return st.Discovered && e.bank() == 0
	})

	st := e.VolumeState()
	if st.Bank != 2 || st.Channel != 3 {
		t.Fatalf("located at bank %d channel %d, want bank 2 channel 3", st.Bank, st.Channel)
	}
	bs := e.BankState()
	if bs.BackingBank != 2 || bs.OriginalBank != 0 || bs.CurrentBank != 0 {
		t.Fatalf("bank state = %+v, want backing 2, original 0, current 0", bs)
	}

	daw.mu.Lock()
	dawBank := daw.bank
	daw.mu.Unlock()
	if dawBank != 0 {
		t.Fatalf("device bank = %d, want restored to 0", dawBank)
	}

	var rights, lefts int
	for _, n := range noteOnSequence(daw.sent()) {
		switch n {
		case NoteBankRight:
			rights++
		case NoteBankLeft:
			lefts++
		}
	}
	// Two steps out to bank 2, two steps back.
	if rights != 2 || lefts != 2 {
		t.Fatalf("bank pulses right=%d left=%d, want 2 and 2", rights, lefts)
	}
}

func TestDiscoveryExhaustsWithoutMatch(t *testing.T) {
	e, daw, _ := newTestEngine(t, Config{Target: "Backing", MaxBanks: 3})
	daw.mu.Lock()
	daw.tracks = map[int]map[int]string{0: {0: "Drums"}}
	daw.mu.Unlock()

	if !e.TriggerDiscovery() {
		t.Fatal("discovery did not start")
	}
	waitFor(t, "discovery to give up and restore the bank", func() bool {
		e.mu.Lock()
		running := e.discovering
		e.mu.Unlock()
		return !running && e.bank() == 0
	})

	if st := e.VolumeState(); st.Discovered {
		t.Fatalf("state = %+v, want undiscovered", st)
	}
	// A failed cycle must not poison the next trigger.
	if !e.TriggerDiscovery() {
		t.Fatal("retrigger after exhausted cycle refused")
	}
}

func TestDiscoverySingleFlight(t *testing.T) {
	// The engine is deliberately not started: the queued cycle cannot run,
	// so the in-progress flag stays set.
	clock := newFakeClock()
	daw := newFakeDAW(clock)
	e := New(daw, Config{Target: "Backing", Logger: quietLogger(), Now: clock.Now, Sleep: clock.Sleep})
	defer e.Close()

	if !e.TriggerDiscovery() {
		t.Fatal("first trigger refused")
	}
	if e.TriggerDiscovery() {
		t.Fatal("second trigger started a concurrent cycle")
	}
}

func TestDiscoveryNoopAfterCompletion(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{Target: "Backing"})
	e.mu.Lock()
	e.backing = location{bank: 1, channel: 0, found: true}
	e.mu.Unlock()

	if e.TriggerDiscovery() {
		t.Fatal("trigger after completed discovery started a cycle")
	}
}

func TestDiscoveryAttributesNamesToScannedBank(t *testing.T) {
	e, daw, _ := newTestEngine(t, Config{Target: "Backing", MaxBanks: 2})
	daw.mu.Lock()
	daw.tracks = map[int]map[int]string{1: {6: "Backing"}}
	daw.mu.Unlock()

	if !e.TriggerDiscovery() {
		t.Fatal("discovery did not start")
	}
	waitFor(t, "match on second bank", func() bool {
		return e.VolumeState().Discovered && e.bank() == 0
	})

	if st := e.VolumeState(); st.Bank != 1 || st.Channel != 6 {
		t.Fatalf("located at bank %d channel %d, want bank 1 channel 6", st.Bank, st.Channel)
	}

	e.mu.Lock()
	cached := e.names[1][6]
	e.mu.Unlock()
	if cached != "Backing" {
		t.Fatalf("cached name = %q, want %q", cached, "Backing")
	}
}

func TestDiscoveryStartsFromNonZeroBank(t *testing.T) {
	e, daw, _ := newTestEngine(t, Config{Target: "Backing", MaxBanks: 3})
	daw.mu.Lock()
	daw.tracks = map[int]map[int]string{0: {2: "Backing Vocals"}}
	daw.bank = 2
	daw.mu.Unlock()
	e.mu.Lock()
	e.currentBank = 2
	e.mu.Unlock()

	if !e.TriggerDiscovery() {
		t.Fatal("discovery did not start")
	}
	// The reset walks the view down to bank zero, the match lands there, and
	// the view returns to where the user was.
	waitFor(t, "discovery and return to bank 2", func() bool {
		return e.VolumeState().Discovered && e.bank() == 2
	})

	bs := e.BankState()
	if bs.BackingBank != 0 || bs.OriginalBank != 2 {
		t.Fatalf("bank state = %+v, want backing 0, original 2", bs)
	}
	daw.mu.Lock()
	dawBank := daw.bank
	daw.mu.Unlock()
	if dawBank != 2 {
		t.Fatalf("device bank = %d, want 2", dawBank)
	}
}

func TestDiscoveryResetOpensExtendedSilence(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{Target: "Backing", MaxBanks: 1})
	if !e.TriggerDiscovery() {
		t.Fatal("discovery did not start")
	}
	waitFor(t, "discovery cycle to finish", func() bool {
		e.mu.Lock()
		running := e.discovering
		e.mu.Unlock()
		return !running
	})

	// Names that arrive after the cycle are still honoured.
	clock.Advance(time.Second)
	e.HandleIncoming(lcdWrite(0, "Backing"))
	if !e.VolumeState().Discovered {
		t.Fatal("post-cycle LCD name ignored")
	}
}
