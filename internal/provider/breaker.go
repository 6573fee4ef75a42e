package provider

import (
	"sync"
	"time"
)

// BreakerState is the health state of one carrier's circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	defaultWindowSize       = 20
	defaultMinSamples       = 5
	defaultFailureThreshold = 0.5
	defaultResetTimeout     = 30 * time.Second
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	WindowSize       int           // outcomes kept in the rolling window
	MinSamples       int           // calls required before the rate can trip
	FailureThreshold float64       // error rate that opens the breaker
	ResetTimeout     time.Duration // open duration before one half-open trial
	OnStateChange    func(name string, from, to BreakerState)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaultMinSamples
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	return c
}

// Breaker tracks one carrier's health. All state lives behind a single
// mutex, so breaker accounting is serialized regardless of how many
// workers report outcomes. Timeouts count as failures.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	window   []bool // true = failure
	idx      int
	count    int
	failures int
	openedAt time.Time

	now func() time.Time // swappable for tests
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  BreakerClosed,
		window: make([]bool, cfg.WindowSize),
		now:    time.Now,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state, promoting open to half_open
// when the reset timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. In the open state it permits
// exactly one trial call once the reset timeout has elapsed, moving to
// half_open; while that trial is in flight every other caller is denied.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.setState(BreakerHalfOpen)
			return true
		}
		return false
	case BreakerHalfOpen:
		// The single trial is already out.
		return false
	}
	return false
}

// RecordSuccess feeds a successful call into the window. A half-open
// trial success closes the breaker and clears the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.reset()
		b.setState(BreakerClosed)
		return
	}
	b.record(false)
}

// RecordFailure feeds a failed call into the window and opens the breaker
// when the rolling error rate reaches the threshold. A half-open trial
// failure reopens immediately and restarts the reset timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
		return
	}
	if b.state == BreakerOpen {
		return
	}

	b.record(true)
	if b.count >= b.cfg.MinSamples && b.failureRate() >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.reset()
		b.setState(BreakerOpen)
	}
}

// record pushes one outcome into the ring, evicting the oldest once full.
func (b *Breaker) record(failed bool) {
	if b.count == len(b.window) {
		if b.window[b.idx] {
			b.failures--
		}
	} else {
		b.count++
	}
	b.window[b.idx] = failed
	if failed {
		b.failures++
	}
	b.idx = (b.idx + 1) % len(b.window)
}

func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

func (b *Breaker) reset() {
	for i := range b.window {
		b.window[i] = false
	}
	b.idx = 0
	b.count = 0
	b.failures = 0
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		// Callback runs outside breaker-critical work but still under the
		// lock; handlers must not call back into the breaker.
		b.cfg.OnStateChange(b.name, from, to)
	}
}
