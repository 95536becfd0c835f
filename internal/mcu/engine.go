package mcu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults for the engine's timing knobs. The device needs real settle time
// between commands; values come from what Live's MCU implementation tolerates.
const (
	DefaultSilenceWindow  = 200 * time.Millisecond
	DefaultDebounceWindow = 500 * time.Millisecond
	DefaultResetSilence   = 3 * time.Second
	DefaultLCDSettle      = 1200 * time.Millisecond
	DefaultStepDelay      = 150 * time.Millisecond
	DefaultRequestDelay   = 50 * time.Millisecond
	DefaultHandshakeDelay = 100 * time.Millisecond
	DefaultMaxBanks       = 10
	DefaultMaxNavSteps    = 32
	DefaultTarget         = "Backing"
)

// resetNavSteps bounds the walk back to bank zero during a handshake reset.
const resetNavSteps = 10

var (
	// ErrNotReady reports a volume command issued before discovery has
	// located the target track. A discovery cycle is started in the
	// background instead of blocking the caller.
	ErrNotReady = errors.New("target track not discovered yet")

	// ErrClosed reports an operation submitted after Close.
	ErrClosed = errors.New("engine closed")
)

// Config carries the engine's tunables. Zero values take the defaults above.
type Config struct {
	Target        string
	TargetAliases []string

	SilenceWindow  time.Duration
	DebounceWindow time.Duration
	ResetSilence   time.Duration
	LCDSettle      time.Duration
	StepDelay      time.Duration
	RequestDelay   time.Duration
	HandshakeDelay time.Duration

	MaxBanks    int
	MaxNavSteps int

	Logger logrus.FieldLogger

	// Now and Sleep exist so tests can run the timing logic against a fake
	// clock. Production leaves them nil.
	Now   func() time.Time
	Sleep func(time.Duration)
}

func (c *Config) applyDefaults() {
	if c.Target == "" {
		c.Target = DefaultTarget
		if c.TargetAliases == nil {
			// Truncated spellings one LCD rendering is known to produce.
			c.TargetAliases = []string{"Backin", "Bckng"}
		}
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = DefaultSilenceWindow
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.ResetSilence <= 0 {
		c.ResetSilence = DefaultResetSilence
	}
	if c.LCDSettle <= 0 {
		c.LCDSettle = DefaultLCDSettle
	}
	if c.StepDelay <= 0 {
		c.StepDelay = DefaultStepDelay
	}
	if c.RequestDelay <= 0 {
		c.RequestDelay = DefaultRequestDelay
	}
	if c.HandshakeDelay <= 0 {
		c.HandshakeDelay = DefaultHandshakeDelay
	}
	if c.MaxBanks <= 0 {
		c.MaxBanks = DefaultMaxBanks
	}
	if c.MaxNavSteps <= 0 {
		c.MaxNavSteps = DefaultMaxNavSteps
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
}

// location is a discovered (bank, channel) pair.
type location struct {
	bank    int
	channel int
	found   bool
}

// Engine speaks the MCU control-surface subset to a DAW through an abstract
// Sender. Every bank-moving sequence runs on a single operation queue so the
// save/navigate/restore contract can never interleave with another caller;
// inbound events are dispatched one at a time, in arrival order, by
// HandleIncoming and never mutate the bank counter.
type Engine struct {
	sink  Sender
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
	sleep func(time.Duration)

	mu           sync.Mutex
	guard        *EchoGuard
	phase        Phase
	isPlaying    bool
	currentBank  int
	originalBank int
	names        map[int]map[int]string
	matcher      NameMatcher
	backing      location
	discovering  bool
	lastVolume   float64

	ops       chan queuedOp
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type queuedOp struct {
	name string
	fn   func()
	done chan struct{}
}

// New builds an engine around sink. Call Start before use and Close when done.
func New(sink Sender, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		sink:    sink,
		cfg:     cfg,
		log:     cfg.Logger,
		now:     cfg.Now,
		sleep:   cfg.Sleep,
		guard:   NewEchoGuard(cfg.SilenceWindow, cfg.DebounceWindow),
		names:   make(map[int]map[int]string),
		matcher: NewNameMatcher(cfg.Target, cfg.TargetAliases...),
		ops:     make(chan queuedOp, 64),
		quit:    make(chan struct{}),
	}
}

// Start launches the operation worker.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runOps()
}

// Close stops the worker. Pending waiters are released with ErrClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	e.wg.Wait()
}

func (e *Engine) runOps() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case op := <-e.ops:
			op.fn()
			close(op.done)
		}
	}
}

func (e *Engine) enqueue(name string, fn func()) (<-chan struct{}, error) {
	op := queuedOp{name: name, fn: fn, done: make(chan struct{})}
	select {
	case e.ops <- op:
		return op.done, nil
	case <-e.quit:
		return nil, ErrClosed
	}
}

func (e *Engine) enqueueWait(name string, fn func()) error {
	done, err := e.enqueue(name, fn)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.quit:
		return ErrClosed
	}
}

// send delivers one event and updates the echo guard first, so even an
// instantly mirrored command is covered by the silence window.
func (e *Engine) send(ev Event) error {
	e.mu.Lock()
	e.guard.Observe(ev, e.now())
	e.mu.Unlock()
	if err := e.sink.Send(ev); err != nil {
		return fmt.Errorf("midi send: %w", err)
	}
	return nil
}

// pulse emulates a button press as the surface hardware would emit it.
func (e *Engine) pulse(note uint8) error {
	if err := e.send(Event{Type: NoteOn, Note: note, Velocity: 127}); err != nil {
		return err
	}
	return e.send(Event{Type: NoteOff, Note: note})
}

// HandleIncoming processes one event from the device. The caller must
// deliver events one at a time, in receipt order.
func (e *Engine) HandleIncoming(ev Event) {
	if ev.Type == SysEx && isPing(ev.Data) {
		// Pings outrank the silence window: a missed ack stalls the
		// device heartbeat.
		if err := e.sink.Send(sysexEvent(pingAck)); err != nil {
			e.log.WithError(err).Warn("ping ack failed")
		}
		return
	}

	e.mu.Lock()
	ok := e.guard.ShouldProcess(ev, e.now())
	e.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Type {
	case NoteOn:
		switch ev.Note {
		case NotePlay:
			e.applyTransport(true, "device")
		case NoteStop:
			e.applyTransport(false, "device")
		}
	case ControlChange:
		e.handleVolumeFeedback(ev)
	case SysEx:
		e.handleLCD(ev.Data)
	}
}

// handleLCD folds a decoded track name into the cache, attributed to the
// bank the engine currently believes is showing, and runs the match check.
func (e *Engine) handleLCD(data []byte) {
	ch, name, ok := decodeLCD(data)
	if !ok {
		return
	}
	e.mu.Lock()
	bank := e.currentBank
	if e.names[bank] == nil {
		e.names[bank] = make(map[int]string)
	}
	e.names[bank][ch] = name
	matched := !e.backing.found && e.matcher.Match(name)
	if matched {
		e.backing = location{bank: bank, channel: ch, found: true}
	}
	e.mu.Unlock()
	if matched {
		e.log.WithFields(logrus.Fields{
			"name": name, "bank": bank, "channel": ch,
		}).Info("target track located")
	}
}

// TransportResult reports the outcome of a transport request.
type TransportResult struct {
	IsPlaying bool
	Action    string
}

// SetTransport brings the DAW transport to the requested state. When it is
// already there nothing is sent and the action reads "no_change".
func (e *Engine) SetTransport(play bool) (TransportResult, error) {
	var res TransportResult
	var opErr error
	err := e.enqueueWait("transport", func() {
		e.mu.Lock()
		cur := e.isPlaying
		e.mu.Unlock()
		if cur == play {
			res = TransportResult{IsPlaying: cur, Action: "no_change"}
			return
		}
		note, action := uint8(NoteStop), "stop"
		if play {
			note, action = uint8(NotePlay), "play"
		}
		if err := e.pulse(note); err != nil {
			opErr = err
			res = TransportResult{IsPlaying: cur}
			return
		}
		e.applyTransport(play, "local")
		res = TransportResult{IsPlaying: play, Action: action}
	})
	if err != nil {
		return res, err
	}
	return res, opErr
}

// applyTransport is the single transition point for transport state. Both
// local commands and device-reported transport notes go through it.
func (e *Engine) applyTransport(playing bool, source string) bool {
	e.mu.Lock()
	changed := e.isPlaying != playing
	e.isPlaying = playing
	e.mu.Unlock()
	if changed {
		e.log.WithFields(logrus.Fields{"playing": playing, "source": source}).Info("transport changed")
	}
	return changed
}

// TransportPlaying reports the engine's view of the DAW transport.
func (e *Engine) TransportPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPlaying
}

// Target returns the track name discovery is looking for.
func (e *Engine) Target() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.Target
}

// BankStatus is a snapshot of the engine's bank bookkeeping. BackingBank is
// -1 until discovery completes.
type BankStatus struct {
	CurrentBank  int
	OriginalBank int
	BackingBank  int
}

// BankState returns the current bank bookkeeping.
func (e *Engine) BankState() BankStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := BankStatus{
		CurrentBank:  e.currentBank,
		OriginalBank: e.originalBank,
		BackingBank:  -1,
	}
	if e.backing.found {
		s.BackingBank = e.backing.bank
	}
	return s
}

func (e *Engine) located() (location, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backing, e.backing.found
}

func (e *Engine) bank() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentBank
}
