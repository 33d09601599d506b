// Package breaker implements the per-upstream circuit breaker
package breaker

import (
	"sync"
	"time"

	"go-apigateway/internal/errors"

	"github.com/sirupsen/logrus"
)

// State is the breaker position
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// EventKind names a transition notification
type EventKind string

const (
	EventOpen     EventKind = "open"
	EventHalfOpen EventKind = "half_open"
	EventClose    EventKind = "close"
	EventReject   EventKind = "reject"
)

// Event is delivered to subscribers on transitions and rejections
type Event struct {
	Kind EventKind
	From State
	To   State
	Time time.Time
}

// Listener receives breaker events
type Listener func(event Event)

// Config tunes one breaker
type Config struct {
	FailureThreshold int           // failures within a full window that open the circuit
	SuccessThreshold int           // consecutive half-open successes that close it
	WindowSize       int           // sliding outcome window length
	Timeout          time.Duration // open-state cool-off before half-open
}

type outcome struct {
	success bool
	at      time.Time
}

// Counters aggregates lifetime totals
type Counters struct {
	Total     int64 `json:"total"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Rejected  int64 `json:"rejected"`
}

// Breaker is a CLOSED/OPEN/HALF_OPEN machine over a sliding window of
// recent outcomes. It has a single writer (the worker recording outcomes);
// reads may observe a momentarily stale state, which at worst lets one
// request through at the instant the circuit flips.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	logger *logrus.Logger

	state            State
	window           []outcome
	consecSuccesses  int
	consecFailures   int
	halfOpenAttempts int
	halfOpenGen      int64
	nextHalfOpen     time.Time

	counters  Counters
	listeners map[EventKind][]Listener
}

// New creates a closed breaker
func New(name string, config Config, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Breaker{
		name:      name,
		config:    config,
		logger:    logger,
		state:     StateClosed,
		window:    make([]outcome, 0, config.WindowSize),
		listeners: make(map[EventKind][]Listener),
	}
}

// Subscribe registers a listener for one event kind
func (b *Breaker) Subscribe(kind EventKind, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], listener)
}

// State returns the current position
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counters returns lifetime totals
func (b *Breaker) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// Execute runs fn behind the breaker gate. In OPEN state the call is
// rejected immediately; in HALF_OPEN at most SuccessThreshold probes are
// admitted. Outcomes from a previous half-open generation are discarded
// once the breaker has reopened.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	if callErr != nil {
		b.recordFailure(gen)
		return callErr
	}
	b.recordSuccess(gen)
	return nil
}

func (b *Breaker) admit() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.nextHalfOpen) {
			b.counters.Rejected++
			b.emitLocked(EventReject, b.state, b.state)
			return 0, errors.CircuitOpenError(b.name)
		}
		b.transitionLocked(StateHalfOpen)
		b.halfOpenAttempts = 0
		b.consecSuccesses = 0
		fallthrough
	case StateHalfOpen:
		if b.halfOpenAttempts >= b.config.SuccessThreshold {
			b.counters.Rejected++
			b.emitLocked(EventReject, b.state, b.state)
			return 0, errors.CircuitOpenError(b.name)
		}
		b.halfOpenAttempts++
		return b.halfOpenGen, nil
	default:
		return b.halfOpenGen, nil
	}
}

// RecordSuccess feeds an externally observed success (passive health mode)
func (b *Breaker) RecordSuccess() {
	b.recordSuccess(b.generation())
}

// RecordFailure feeds an externally observed failure
func (b *Breaker) RecordFailure() {
	b.recordFailure(b.generation())
}

func (b *Breaker) generation() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halfOpenGen
}

func (b *Breaker) recordSuccess(gen int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.halfOpenGen {
		return
	}

	b.counters.Total++
	b.counters.Successes++
	b.pushOutcome(true)
	b.consecSuccesses++
	b.consecFailures = 0

	if b.state == StateHalfOpen && b.consecSuccesses >= b.config.SuccessThreshold {
		b.transitionLocked(StateClosed)
		b.window = b.window[:0]
		b.halfOpenAttempts = 0
	}
}

func (b *Breaker) recordFailure(gen int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.halfOpenGen {
		return
	}

	b.counters.Total++
	b.counters.Failures++
	b.pushOutcome(false)
	b.consecFailures++
	b.consecSuccesses = 0

	switch b.state {
	case StateHalfOpen:
		b.openLocked()
	case StateClosed:
		if len(b.window) >= b.config.WindowSize && b.windowFailures() >= b.config.FailureThreshold {
			b.openLocked()
		}
	}
}

func (b *Breaker) openLocked() {
	b.transitionLocked(StateOpen)
	b.nextHalfOpen = time.Now().Add(b.config.Timeout)
	b.halfOpenGen++
	b.halfOpenAttempts = 0
}

func (b *Breaker) pushOutcome(success bool) {
	if len(b.window) >= b.config.WindowSize {
		copy(b.window, b.window[1:])
		b.window = b.window[:len(b.window)-1]
	}
	b.window = append(b.window, outcome{success: success, at: time.Now()})
}

func (b *Breaker) windowFailures() int {
	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	return failures
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.WithFields(logrus.Fields{
		"breaker": b.name,
		"from":    string(from),
		"to":      string(to),
	}).Info("Circuit breaker transition")

	switch to {
	case StateOpen:
		b.emitLocked(EventOpen, from, to)
	case StateHalfOpen:
		b.emitLocked(EventHalfOpen, from, to)
	case StateClosed:
		b.emitLocked(EventClose, from, to)
	}
}

func (b *Breaker) emitLocked(kind EventKind, from, to State) {
	event := Event{Kind: kind, From: from, To: to, Time: time.Now()}
	for _, listener := range b.listeners[kind] {
		listener(event)
	}
}

// ForceState pins the breaker to a state. Test hook.
func (b *Breaker) ForceState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(state)
	if state == StateOpen {
		b.nextHalfOpen = time.Now().Add(b.config.Timeout)
	}
}

// Reset clears all counters and returns the breaker to CLOSED
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.window = b.window[:0]
	b.consecSuccesses = 0
	b.consecFailures = 0
	b.halfOpenAttempts = 0
	b.nextHalfOpen = time.Time{}
	b.counters = Counters{}
}
