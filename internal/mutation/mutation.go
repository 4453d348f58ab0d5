// Package mutation provides a generic runner for user-initiated async
// actions: a status state machine, optimistic apply with rollback, a
// correlation-token commit discipline that discards stale completions, and
// configurable retry with exponential backoff.
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Status is the lifecycle state of the most recent call.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrClosed is returned by Mutate after the runner has been torn down.
var ErrClosed = errors.New("mutation: runner closed")

// State is the observable state of a runner. Exactly one terminal resolution
// commits per logical call; superseded calls never commit.
type State[V, D any] struct {
	Status       Status
	Data         D
	Err          error
	AttemptCount int
	Variables    V
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Rollback restores shared state to the snapshot captured by OnMutate.
type Rollback func()

// DelayFunc computes the wait before a retry. attempt is the zero-based
// retry index.
type DelayFunc func(attempt int, err error) time.Duration

// Options configures a runner.
type Options[V, D any] struct {
	// Fn is the async action. Required.
	Fn func(ctx context.Context, vars V) (D, error)

	// OnMutate applies the optimistic mutation synchronously before Fn runs
	// and returns the rollback that restores the captured snapshot. It runs
	// once per logical call, never on retries.
	OnMutate func(vars V) (Rollback, error)

	// OnSuccess runs after a committed success.
	OnSuccess func(data D, vars V)

	// OnError runs after a committed failure, after rollback.
	OnError func(err error, vars V)

	// OnSettled runs after either committed outcome.
	OnSettled func(data D, err error, vars V)

	// Retry decides whether a failed attempt is retried. Zero value means no
	// retries.
	Retry RetryPolicy

	// Delay overrides the default exponential backoff between attempts.
	Delay DelayFunc
}

// Runner executes calls for one logical mutation. Only the most recently
// issued call may commit its result; earlier in-flight calls are abandoned
// when superseded.
type Runner[V, D any] struct {
	mu     sync.Mutex
	opts   Options[V, D]
	state  State[V, D]
	latest uuid.UUID
	closed bool
}

// New creates a runner in the idle state.
func New[V, D any](opts Options[V, D]) *Runner[V, D] {
	r := &Runner[V, D]{opts: opts}
	r.state.Status = StatusIdle
	return r
}

// State returns a copy of the current state.
func (r *Runner[V, D]) State() State[V, D] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset returns the runner to idle from any state. In-flight calls are
// abandoned: their completions no longer match the latest token.
func (r *Runner[V, D]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = uuid.UUID{}
	r.state = State[V, D]{Status: StatusIdle}
}

// Close tears the runner down; subsequent calls fail with ErrClosed and
// in-flight completions are discarded.
func (r *Runner[V, D]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.latest = uuid.UUID{}
}

// Call is the handle for one Mutate invocation. Ignoring it is the explicit
// fire-and-forget choice; the runner state still records the outcome.
type Call[D any] struct {
	done chan struct{}
	data D
	err  error
}

// Done is closed when the call has resolved.
func (c *Call[D]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call resolves or ctx is cancelled.
func (c *Call[D]) Wait(ctx context.Context) (D, error) {
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		var zero D
		return zero, ctx.Err()
	}
}

func (c *Call[D]) resolve(data D, err error) {
	c.data = data
	c.err = err
	close(c.done)
}

// Mutate starts a new logical call. The optimistic mutation (if any) is
// applied synchronously before this returns; the action itself runs
// asynchronously. The returned handle resolves with the action's own result
// even when the call is superseded and its state commit discarded.
func (r *Runner[V, D]) Mutate(ctx context.Context, vars V) *Call[D] {
	call := &Call[D]{done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		var zero D
		call.resolve(zero, ErrClosed)
		return call
	}
	token := uuid.New()
	r.latest = token
	r.state = State[V, D]{
		Status:       StatusPending,
		Variables:    vars,
		AttemptCount: 0,
		StartedAt:    time.Now(),
	}
	r.mu.Unlock()

	// Optimistic apply happens once, synchronously, before the first attempt.
	var rollback Rollback
	if r.opts.OnMutate != nil {
		rb, err := r.opts.OnMutate(vars)
		if err != nil {
			r.commitError(token, vars, nil, err)
			var zero D
			call.resolve(zero, err)
			return call
		}
		rollback = rb
	}

	go r.run(ctx, token, vars, rollback, call)
	return call
}

// run executes the attempts for one logical call.
func (r *Runner[V, D]) run(ctx context.Context, token uuid.UUID, vars V, rollback Rollback, call *Call[D]) {
	delay := r.opts.Delay
	var next backoff.BackOff
	if delay == nil {
		next = newDefaultBackoff()
	}

	failures := 0
	for {
		r.bumpAttempt(token)

		data, err := r.opts.Fn(ctx, vars)
		if err == nil {
			r.commitSuccess(token, vars, data)
			call.resolve(data, nil)
			return
		}

		failures++
		if !r.opts.Retry.shouldRetry(failures, err) {
			r.commitError(token, vars, rollback, err)
			var zero D
			call.resolve(zero, err)
			return
		}

		var wait time.Duration
		if delay != nil {
			wait = delay(failures-1, err)
		} else {
			wait = next.NextBackOff()
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err := ctx.Err()
			r.commitError(token, vars, rollback, err)
			var zero D
			call.resolve(zero, err)
			return
		}
	}
}

// bumpAttempt increments AttemptCount if the call is still current.
func (r *Runner[V, D]) bumpAttempt(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == token {
		r.state.AttemptCount++
	}
}

// commitSuccess commits a success if the call is still the latest one.
func (r *Runner[V, D]) commitSuccess(token uuid.UUID, vars V, data D) {
	r.mu.Lock()
	if r.closed || r.latest != token {
		r.mu.Unlock()
		return
	}
	r.state.Status = StatusSuccess
	r.state.Data = data
	r.state.Err = nil
	r.state.CompletedAt = time.Now()
	r.mu.Unlock()

	if r.opts.OnSuccess != nil {
		r.opts.OnSuccess(data, vars)
	}
	if r.opts.OnSettled != nil {
		r.opts.OnSettled(data, nil, vars)
	}
}

// commitError commits a failure if the call is still the latest one, running
// the rollback first so observers of the error see pre-mutation state.
func (r *Runner[V, D]) commitError(token uuid.UUID, vars V, rollback Rollback, err error) {
	r.mu.Lock()
	if r.closed || r.latest != token {
		r.mu.Unlock()
		return
	}
	r.state.Status = StatusError
	r.state.Err = err
	r.state.CompletedAt = time.Now()
	r.mu.Unlock()

	if rollback != nil {
		rollback()
	}
	if r.opts.OnError != nil {
		r.opts.OnError(err, vars)
	}
	if r.opts.OnSettled != nil {
		var zero D
		r.opts.OnSettled(zero, err, vars)
	}
}

// newDefaultBackoff builds the default retry schedule: 1s doubling per
// attempt, capped at 30s, no jitter so the schedule is exact.
func newDefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Multiplier = 2.0
	b.Reset()
	return b
}
