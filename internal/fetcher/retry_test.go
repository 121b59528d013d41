package fetcher

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

var errReset = errors.New("connection reset by peer")

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(3, backoff.NewConstantBackOff(time.Second))

	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, StateAttempting, r.Begin())
	assert.Equal(t, StateSucceeded, r.Report(nil, 0))
	assert.Equal(t, 1, r.Attempts())
	assert.NoError(t, r.Err())
}

func TestRetrier_BacksOffThenSucceeds(t *testing.T) {
	r := NewRetrier(3, backoff.NewConstantBackOff(250*time.Millisecond))
	r.Begin()

	assert.Equal(t, StateBackingOff, r.Report(errReset, 0))
	assert.Equal(t, 250*time.Millisecond, r.Wait())
	assert.Equal(t, StateAttempting, r.Resume())
	assert.Equal(t, 2, r.Attempts())
	assert.Equal(t, StateSucceeded, r.Report(nil, 0))
}

func TestRetrier_ExhaustsBudget(t *testing.T) {
	r := NewRetrier(3, &backoff.ZeroBackOff{})
	r.Begin()

	for i := 1; i < 3; i++ {
		assert.Equal(t, StateBackingOff, r.Report(errReset, 0), "attempt %d", i)
		r.Resume()
	}

	assert.Equal(t, StateExhausted, r.Report(errReset, 0))
	assert.Equal(t, 3, r.Attempts())
	assert.ErrorIs(t, r.Err(), errReset)
}

func TestRetrier_PermanentStopsImmediately(t *testing.T) {
	r := NewRetrier(5, &backoff.ZeroBackOff{})
	r.Begin()

	err := &FetchError{URL: "https://shop.test/missing", Kind: Permanent, StatusCode: 404}
	assert.Equal(t, StateExhausted, r.Report(err, 0))
	assert.Equal(t, 1, r.Attempts())
}

func TestRetrier_HonoursRetryAfter(t *testing.T) {
	r := NewRetrier(3, backoff.NewConstantBackOff(100*time.Millisecond))
	r.Begin()

	r.Report(&FetchError{Kind: Transient, StatusCode: 429}, 3*time.Second)
	assert.Equal(t, 3*time.Second, r.Wait())

	r.Resume()
	r.Report(&FetchError{Kind: Transient, StatusCode: 429}, time.Hour)
	assert.Equal(t, maxRetryAfter, r.Wait(), "hint is capped")
}

func TestRetrier_IgnoresOutOfOrderCalls(t *testing.T) {
	r := NewRetrier(3, &backoff.ZeroBackOff{})

	assert.Equal(t, StateIdle, r.Report(errReset, 0), "report before begin")
	assert.Equal(t, StateIdle, r.Resume())

	r.Begin()
	r.Report(nil, 0)
	assert.Equal(t, StateSucceeded, r.Resume())
	assert.Equal(t, StateSucceeded, r.Begin())
}
