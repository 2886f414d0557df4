package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is a breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings tunes a breaker. Zero fields take defaults: one half-open probe,
// one minute for both Interval and Timeout, tripping after more than five
// consecutive failures.
type Settings struct {
	// MaxRequests bounds half-open probes and the successes needed to close.
	MaxRequests uint32
	// Interval clears closed-state counts. Negative disables clearing.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	ReadyToTrip   func(counts Counts) bool
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from State, to State)
	Now           func() time.Time
}

// Counts tracks results within the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker guards calls to one origin.
type Breaker struct {
	name string
	cfg  Settings

	mu       sync.Mutex
	state    State
	gen      uint64
	counts   Counts
	deadline time.Time // zero while half-open or when Interval < 0
}

// New returns a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	b := &Breaker{name: name, cfg: settings}
	b.reset(settings.Now())
	return b
}

func (b *Breaker) Name() string { return b.name }

// State reports the position after applying any elapsed deadline.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(b.cfg.Now())
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs fn unless the breaker rejects it, and returns fn's error
// as is. A panic in fn counts as a failure and is re-raised.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if !ok {
			b.record(gen, false)
		}
	}()

	err = fn()
	ok = true
	b.record(gen, b.cfg.IsSuccessful(err))
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(b.cfg.Now())
	switch {
	case b.state == StateOpen:
		return 0, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		return 0, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.gen, nil
}

func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	b.tick(now)
	if gen != b.gen {
		return
	}

	if success {
		b.counts.success()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.moveTo(StateClosed, now)
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.moveTo(StateOpen, now)
	case StateClosed:
		b.counts.failure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.moveTo(StateOpen, now)
		}
	}
}

// tick applies deadline-driven changes: an open breaker goes half-open
// once Timeout passes, a closed one starts a fresh generation each Interval.
func (b *Breaker) tick(now time.Time) {
	if b.deadline.IsZero() || !now.After(b.deadline) {
		return
	}
	switch b.state {
	case StateOpen:
		b.moveTo(StateHalfOpen, now)
	case StateClosed:
		b.reset(now)
	}
}

func (b *Breaker) moveTo(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.reset(now)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) reset(now time.Time) {
	b.gen++
	b.counts = Counts{}
	b.deadline = time.Time{}
	switch {
	case b.state == StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	case b.state == StateClosed && b.cfg.Interval > 0:
		b.deadline = now.Add(b.cfg.Interval)
	}
}
