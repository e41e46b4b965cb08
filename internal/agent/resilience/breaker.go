package resilience

import (
	"sync"
	"time"

	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls without trying them.
	CircuitOpen
	// CircuitHalfOpen admits a single trial call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default 3.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial. Default 30s.
	RecoveryTimeout time.Duration
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to CircuitState)
}

// CircuitBreaker guards one remote operation. Transitions happen under a mutex, so
// concurrent callers never see two trials admitted in half-open.
//
//	permit, err := cb.Allow()
//	if err != nil {
//	    return err // errx.ErrCircuitOpen
//	}
//	err = call()
//	cb.Record(permit, outcome)
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu            sync.Mutex
	state         CircuitState
	generation    uint64
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// BreakerStats is a snapshot for logs and tests.
type BreakerStats struct {
	Name     string
	State    CircuitState
	Failures int
	OpenedAt time.Time
}

// Permit ties a Record to the breaker state its call was admitted under. Results
// carried by a permit from an earlier state are dropped.
type Permit struct {
	generation uint64
	trial      bool
}

// Trial reports whether the permit is the single half-open trial.
func (p Permit) Trial() bool {
	return p.trial
}

func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reserves permission for one call. It returns errx.ErrCircuitOpen (wrapped) when
// the call must not be attempted. Every nil error must be followed by Record with the
// returned permit.
func (cb *CircuitBreaker) Allow() (Permit, error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.mu.Unlock()
			return Permit{}, errx.New(errx.ErrCircuitOpen, errx.KindUnavailable, cb.name)
		}
		cb.setStateLocked(CircuitHalfOpen)
		cb.trialInFlight = true
	case CircuitHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			return Permit{}, errx.New(errx.ErrCircuitOpen, errx.KindUnavailable, cb.name)
		}
		cb.trialInFlight = true
	}
	to := cb.state
	permit := Permit{generation: cb.generation, trial: to == CircuitHalfOpen}
	cb.mu.Unlock()

	cb.notify(from, to)
	return permit, nil
}

// Outcome is what a call that passed Allow reports back.
type Outcome int

const (
	// OutcomeSuccess closes a half-open circuit and resets the failure count.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts toward opening; it reopens a half-open circuit.
	OutcomeFailure
	// OutcomeIgnored releases a trial without changing state (quota, cancellation, bad request).
	OutcomeIgnored
)

// Record reports the result of a call admitted by Allow. Only the trial permit can
// close or reopen a half-open circuit; a permit issued before the last transition is
// ignored.
func (cb *CircuitBreaker) Record(permit Permit, outcome Outcome) {
	cb.mu.Lock()
	from := cb.state
	if permit.generation == cb.generation {
		if permit.trial {
			cb.recordTrialLocked(outcome)
		} else {
			cb.recordClosedLocked(outcome)
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) recordTrialLocked(outcome Outcome) {
	if cb.state != CircuitHalfOpen {
		return
	}
	cb.trialInFlight = false
	switch outcome {
	case OutcomeSuccess:
		cb.failures = 0
		cb.setStateLocked(CircuitClosed)
	case OutcomeFailure:
		cb.openedAt = cb.now()
		cb.setStateLocked(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordClosedLocked(outcome Outcome) {
	if cb.state != CircuitClosed {
		return
	}
	switch outcome {
	case OutcomeSuccess:
		cb.failures = 0
	case OutcomeFailure:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.setStateLocked(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(to CircuitState) {
	if cb.state != to {
		cb.state = to
		cb.generation++
	}
}

// State returns the current state. An open circuit past its recovery timeout still
// reports open until the next Allow moves it to half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Name:     cb.name,
		State:    cb.state,
		Failures: cb.failures,
		OpenedAt: cb.openedAt,
	}
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = CircuitClosed
	cb.generation++
	cb.failures = 0
	cb.trialInFlight = false
	cb.mu.Unlock()

	cb.notify(from, CircuitClosed)
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}
