package fetcher

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryState is a state of the per-request retry machine:
//
//	Idle -> Attempting -> Succeeded
//	             |  ^
//	             v  |
//	         BackingOff -> Exhausted
type RetryState int

const (
	StateIdle RetryState = iota
	StateAttempting
	StateBackingOff
	StateSucceeded
	StateExhausted
)

func (s RetryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateBackingOff:
		return "backing_off"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// maxRetryAfter caps server supplied Retry-After hints.
const maxRetryAfter = 2 * time.Minute

// Retrier drives one request through the retry states. It does no I/O itself,
// the caller performs attempts and sleeps for Wait() while backing off.
type Retrier struct {
	maxAttempts int
	backoff     backoff.BackOff

	state    RetryState
	attempts int
	wait     time.Duration
	lastErr  error
}

func NewRetrier(maxAttempts int, b backoff.BackOff) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if b == nil {
		b = &backoff.ZeroBackOff{}
	}
	b.Reset()

	return &Retrier{
		maxAttempts: maxAttempts,
		backoff:     b,
		state:       StateIdle,
	}
}

// Begin starts the first attempt.
func (r *Retrier) Begin() RetryState {
	if r.state == StateIdle {
		r.state = StateAttempting
		r.attempts = 1
	}
	return r.state
}

// Report records the outcome of the current attempt. A nil err succeeds; a
// permanent error or an exhausted budget ends in Exhausted; anything else
// moves to BackingOff. retryAfter is honoured when longer than the backoff delay.
func (r *Retrier) Report(err error, retryAfter time.Duration) RetryState {
	if r.state != StateAttempting {
		return r.state
	}

	if err == nil {
		r.state = StateSucceeded
		r.lastErr = nil
		return r.state
	}

	r.lastErr = err
	if permanent(err) || r.attempts >= r.maxAttempts {
		r.state = StateExhausted
		return r.state
	}

	next := r.backoff.NextBackOff()
	if next == backoff.Stop {
		r.state = StateExhausted
		return r.state
	}

	r.wait = max(next, min(retryAfter, maxRetryAfter))
	r.state = StateBackingOff
	return r.state
}

// Resume leaves BackingOff and starts the next attempt.
func (r *Retrier) Resume() RetryState {
	if r.state == StateBackingOff {
		r.state = StateAttempting
		r.attempts++
		r.wait = 0
	}
	return r.state
}

func (r *Retrier) State() RetryState { return r.state }
func (r *Retrier) Attempts() int { return r.attempts }
func (r *Retrier) Wait() time.Duration { return r.wait }
func (r *Retrier) Err() error { return r.lastErr }

func permanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}

func newExponentialBackOff(initial, maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
