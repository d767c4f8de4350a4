// Package retry wraps provider calls in bounded exponential backoff.
//
// A call is attempted up to Policy.MaxAttempts times. Failures the policy
// classifies as fatal are returned at once; any other failure is retried
// after a delay that doubles from BaseDelay up to MaxDelay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("retry")
	if err != nil {
		debugLog.Warnf("Failed to initialize retry logger, using stderr fallback: %v", err)
	}
}

const (
	DefaultMaxAttempts = 4                // DefaultMaxAttempts is the total number of tries, including the first.
	DefaultBaseDelay   = time.Second      // DefaultBaseDelay is the wait before the first retry.
	DefaultMaxDelay    = 30 * time.Second // DefaultMaxDelay caps the doubled delay.
)

// Policy describes how failed calls are retried.
type Policy struct {
	// IsFatal reports errors that must not be retried. Nil means llm.IsFatal.
	IsFatal     func(error) bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the standard provider retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		IsFatal:     llm.IsFatal,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// exponential builds the delay schedule: BaseDelay doubling up to MaxDelay,
// without jitter or an elapsed-time limit. A zero MaxDelay means no cap.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// schedule limits the delay schedule to MaxAttempts-1 retries and stops it
// when ctx ends.
func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxAttempts > 1 {
		b = backoff.WithMaxRetries(p.exponential(), uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sleepTimer drives backoff's wait through a Sleeper. When the sleeper
// fails it records the error and cancels the call so the wait ends.
type sleepTimer struct {
	ctx    context.Context
	cancel context.CancelFunc
	sleep  Sleeper
	c      chan time.Time
	err    atomic.Value
}

func (t *sleepTimer) Start(d time.Duration) {
	c := make(chan time.Time, 1)
	t.c = c
	go func() {
		if err := t.sleep(t.ctx, d); err != nil {
			t.err.Store(err)
			t.cancel()
			return
		}
		c <- time.Now()
	}()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

func (t *sleepTimer) failure() error {
	err, _ := t.err.Load().(error)
	return err
}

// Stats counts invoker activity.
type Stats struct {
	Calls   int64
	Retries int64
	Failed  int64
}

// Invoker runs calls under a Policy. It is safe for concurrent use.
type Invoker struct {
	sleep   Sleeper
	onRetry func(attempt int, err error)
	policy  Policy
	calls   atomic.Int64
	retries atomic.Int64
	failed  atomic.Int64
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(i *Invoker) {
		i.policy = p
	}
}

// WithSleeper replaces the backoff sleep, typically with a recording no-op in tests.
func WithSleeper(s Sleeper) Option {
	return func(i *Invoker) {
		i.sleep = s
	}
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(i *Invoker) {
		i.onRetry = fn
	}
}

// New creates an Invoker.
func New(opts ...Option) *Invoker {
	i := &Invoker{
		policy: DefaultPolicy(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.policy.MaxAttempts < 1 {
		i.policy.MaxAttempts = 1
	}
	if i.policy.IsFatal == nil {
		i.policy.IsFatal = llm.IsFatal
	}
	return i
}

// Policy returns the active policy.
func (i *Invoker) Policy() Policy {
	return i.policy
}

// Call runs fn until it succeeds, fails fatally, the context ends or the
// attempts run out.
func (i *Invoker) Call(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	i.calls.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := &sleepTimer{ctx: ctx, cancel: cancel, sleep: i.sleep}

	var (
		out       string
		attempt   int
		permanent bool
	)
	operation := func() error {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			debugLog.Debugf("Attempt %d/%d succeeded", attempt, i.policy.MaxAttempts)
			out = res
			return nil
		}

		debugLog.Warnf("Attempt %d/%d failed: %v", attempt, i.policy.MaxAttempts, err)

		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			permanent = true
			return backoff.Permanent(err)
		case i.policy.IsFatal(err):
			permanent = true
			debugLog.Errorf("Fatal error, not retrying: %v", err)
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		if i.onRetry != nil {
			i.onRetry(attempt, err)
		}
		i.retries.Add(1)
		debugLog.Debugf("Retrying in %s", delay)
	}

	err := backoff.RetryNotifyWithTimer(operation, i.policy.schedule(ctx), notify, timer)
	if err == nil {
		return out, nil
	}

	i.failed.Add(1)
	if serr := timer.failure(); serr != nil {
		return "", serr
	}
	if !permanent && ctx.Err() == nil && attempt >= i.policy.MaxAttempts {
		return "", &ExhaustedError{Attempts: attempt, Err: err}
	}
	return "", err
}

// Generate calls provider.Generate through Call and returns the full response.
func (i *Invoker) Generate(ctx context.Context, provider llm.Provider, req *llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	_, err := i.Call(ctx, func(ctx context.Context) (string, error) {
		r, err := provider.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		resp = r
		return r.Content, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns a snapshot of the counters.
func (i *Invoker) Stats() Stats {
	return Stats{
		Calls:   i.calls.Load(),
		Retries: i.retries.Load(),
		Failed:  i.failed.Load(),
	}
}
