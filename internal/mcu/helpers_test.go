package mcu

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeClock drives the engine's injected now/sleep pair. Sleep advances the
// clock instantly and optionally fires a hook, which the fake DAW uses to
// deliver queued replies "later".
type fakeClock struct {
	mu      sync.Mutex
	t       time.Time
	onSleep func(time.Duration)
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pendingReply is a device response waiting for its latency to elapse.
type pendingReply struct {
	ev  Event
	due time.Time
}

// fakeDAW records everything the engine sends and simulates the slices of
// Live's MCU behaviour the tests need: it tracks the device-side bank from
// bank pulses and answers LCD name requests for configured tracks after a
// short simulated latency.
type fakeDAW struct {
	mu      sync.Mutex
	clock   *fakeClock
	engine  *Engine
	events  []Event
	tracks  map[int]map[int]string
	bank    int
	pending []pendingReply
	sendErr error
}

// fakeDAWLatency is the simulated device response time. It is longer than
// the post-send silence window so replies arrive as processable input, the
// same ordering the real device's latency produces.
const fakeDAWLatency = time.Second

func newFakeDAW(clock *fakeClock) *fakeDAW {
	d := &fakeDAW{clock: clock, tracks: map[int]map[int]string{}}
	clock.onSleep = func(time.Duration) { d.flush() }
	return d
}

func (d *fakeDAW) Send(ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.events = append(d.events, ev)
	switch {
	case ev.Type == NoteOn && ev.Note == NoteBankRight && ev.Velocity > 0:
		d.bank++
	case ev.Type == NoteOn && ev.Note == NoteBankLeft && ev.Velocity > 0:
		if d.bank > 0 {
			d.bank--
		}
	case ev.Type == SysEx && isLCDFrame(ev.Data) && len(ev.Data) == len(lcdHeader)+1:
		offset := int(ev.Data[len(lcdHeader)])
		ch := offset / lcdCellsPerChannel
		if name, ok := d.tracks[d.bank][ch]; ok {
			d.pending = append(d.pending, pendingReply{
				ev:  lcdWrite(offset, name),
				due: d.clock.Now().Add(fakeDAWLatency),
			})
		}
	}
	return nil
}

// flush delivers replies whose simulated latency has elapsed.
func (d *fakeDAW) flush() {
	d.mu.Lock()
	now := d.clock.Now()
	var due []Event
	var rest []pendingReply
	for _, p := range d.pending {
		if !p.due.After(now) {
			due = append(due, p.ev)
		} else {
			rest = append(rest, p)
		}
	}
	d.pending = rest
	eng := d.engine
	d.mu.Unlock()
	if eng == nil {
		return
	}
	for _, ev := range due {
		eng.HandleIncoming(ev)
	}
}

func (d *fakeDAW) sent() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *fakeDAW) clear() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

// noteOnSequence extracts the note numbers of all note-on events, the
// easiest way to assert on emitted command order.
func noteOnSequence(events []Event) []uint8 {
	var notes []uint8
	for _, ev := range events {
		if ev.Type == NoteOn {
			notes = append(notes, ev.Note)
		}
	}
	return notes
}

var errSinkDown = errors.New("sink down")

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// newTestEngine wires an engine to a fake DAW and fake clock with timing
// short enough for tests and returns both.
func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeDAW, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	daw := newFakeDAW(clock)
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	cfg.Now = clock.Now
	cfg.Sleep = clock.Sleep
	e := New(daw, cfg)
	daw.mu.Lock()
	daw.engine = e
	daw.mu.Unlock()
	e.Start()
	t.Cleanup(e.Close)
	return e, daw, clock
}

// waitFor polls cond until it holds or the deadline passes. The fake clock
// makes engine operations effectively instant, so this converges quickly.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
