package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/llm/llmtest"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSleeper captures requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
	mu     sync.Mutex
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// failingFn fails with err for the first n calls, then returns "ok".
func failingFn(n int, err error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= n {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func TestCallRetriesTransientFailures(t *testing.T) {
	transient := &llm.TransientError{Err: errors.New("503"), StatusCode: 503}

	for k := 1; k <= DefaultMaxAttempts; k++ {
		t.Run(fmt.Sprintf("success on attempt %d", k), func(t *testing.T) {
			rec := &recordingSleeper{}
			inv := New(WithSleeper(rec.sleep))
			fn, calls := failingFn(k-1, transient)

			out, err := inv.Call(context.Background(), fn)
			require.NoError(t, err)
			assert.Equal(t, "ok", out)
			assert.Equal(t, k, *calls)
			assert.Len(t, rec.delays, k-1)
			assert.EqualValues(t, k-1, inv.Stats().Retries)
		})
	}
}

func TestCallExhausted(t *testing.T) {
	rec := &recordingSleeper{}
	inv := New(WithSleeper(rec.sleep))
	cause := &llm.TransientError{Err: errors.New("timeout")}
	fn, calls := failingFn(100, cause)

	_, err := inv.Call(context.Background(), fn)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, DefaultMaxAttempts, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	assert.EqualValues(t, 1, inv.Stats().Failed)
}

func TestCallFatalIsNotRetried(t *testing.T) {
	rec := &recordingSleeper{}
	inv := New(WithSleeper(rec.sleep))
	quota := &llm.FatalError{Err: errors.New("quota"), StatusCode: 429, Code: llm.CodeInsufficientQuota}
	fn, calls := failingFn(100, quota)

	_, err := inv.Call(context.Background(), fn)
	require.Error(t, err)
	assert.True(t, llm.IsQuotaExhausted(err))
	assert.Equal(t, 1, *calls)
	assert.Empty(t, rec.delays)
	assert.EqualValues(t, 0, inv.Stats().Retries)
}

func TestCallCustomFatalPredicate(t *testing.T) {
	stop := errors.New("stop")
	inv := New(
		WithSleeper((&recordingSleeper{}).sleep),
		WithPolicy(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, IsFatal: func(err error) bool { return errors.Is(err, stop) }}),
	)
	fn, calls := failingFn(100, stop)

	_, err := inv.Call(context.Background(), fn)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, *calls)
}

func TestCallHonoursContextDuringBackoff(t *testing.T) {
	inv := New(WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())

	fn := func(context.Context) (string, error) {
		cancel()
		return "", &llm.TransientError{Err: errors.New("503")}
	}

	start := time.Now()
	_, err := inv.Call(ctx, fn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestCallLogsEveryAttempt(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := debugLog
	debugLog = logging.NewWithCore("retry", core)
	t.Cleanup(func() { debugLog = prev })

	inv := New(WithSleeper((&recordingSleeper{}).sleep))

	fn, _ := failingFn(0, nil)
	_, err := inv.Call(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Attempt 1/4 succeeded").Len())

	fn, _ = failingFn(1, errors.New("flaky"))
	_, err = inv.Call(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Attempt 1/4 failed: flaky").Len())
	assert.Equal(t, 1, logs.FilterMessage("Attempt 2/4 succeeded").Len())
}

func TestCallReturnsSleeperError(t *testing.T) {
	broken := errors.New("clock broken")
	inv := New(WithSleeper(func(context.Context, time.Duration) error { return broken }))
	fn, calls := failingFn(100, errors.New("flaky"))

	_, err := inv.Call(context.Background(), fn)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 1, *calls)
	assert.EqualValues(t, 1, inv.Stats().Failed)
}

func TestCallRetryHook(t *testing.T) {
	var attempts []int
	inv := New(
		WithSleeper((&recordingSleeper{}).sleep),
		WithRetryHook(func(attempt int, _ error) { attempts = append(attempts, attempt) }),
	)
	fn, _ := failingFn(2, errors.New("flaky"))

	_, err := inv.Call(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 40, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.attempt))
		})
	}
}

func TestGenerate(t *testing.T) {
	provider := new(llmtest.MockProvider)
	req := &llm.Request{Model: "gpt-4"}
	provider.On("Generate", mock.Anything, req).Return(nil, &llm.TransientError{Err: errors.New("502")}).Once()
	provider.On("Generate", mock.Anything, req).Return(&llm.Response{Content: "hello", Usage: llm.Usage{TotalTokens: 9}}, nil).Once()

	inv := New(WithSleeper((&recordingSleeper{}).sleep))
	resp, err := inv.Generate(context.Background(), provider, req)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
	provider.AssertNumberOfCalls(t, "Generate", 2)
}

func TestNewClampsAttempts(t *testing.T) {
	inv := New(WithPolicy(Policy{MaxAttempts: 0}))
	assert.Equal(t, 1, inv.Policy().MaxAttempts)
	assert.NotNil(t, inv.Policy().IsFatal)
}
