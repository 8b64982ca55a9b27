package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-engine/internal/action"
)

type fakeRemediator struct {
	scrolled  int
	dismissed int
}

func (f *fakeRemediator) ScrollTargetIntoView(context.Context, action.Action) error {
	f.scrolled++
	return nil
}

func (f *fakeRemediator) DismissModals(context.Context) error {
	f.dismissed++
	return nil
}

func newTestEngine(cfg Config, rem Remediator) (*Engine, *[]time.Duration) {
	e := NewEngine(cfg, rem, nil, zerolog.Nop())
	slept := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return e, slept
}

func clickAction(index int) action.Action {
	return action.Action{Kind: action.KindClick, Click: &action.ClickParams{Index: index}}
}

func TestAttemptRecoversOnFirstRetry(t *testing.T) {
	rem := &fakeRemediator{}
	e, slept := newTestEngine(Config{RetryDelay: 100 * time.Millisecond, BackoffMultiplier: 2}, rem)

	retry := func(context.Context, action.Action) action.Result {
		return action.Result{Success: true}
	}
	out := e.Attempt(context.Background(), clickAction(3), ElementNotFound, retry)

	require.True(t, out.Recovered)
	assert.Equal(t, []Strategy{StrategyScrollIntoView}, out.StrategiesTried)
	assert.Equal(t, 1, rem.scrolled)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, *slept)
}

func TestAttemptEscalatesToWaitAndRetryWithBackoff(t *testing.T) {
	rem := &fakeRemediator{}
	e, slept := newTestEngine(Config{MaxRetries: 3, RetryDelay: 100 * time.Millisecond, BackoffMultiplier: 2}, rem)

	calls := 0
	retry := func(context.Context, action.Action) action.Result {
		calls++
		if calls < 2 {
			return action.Result{Success: false, Error: "element not found"}
		}
		return action.Result{Success: true}
	}
	out := e.Attempt(context.Background(), clickAction(3), ElementNotFound, retry)

	require.True(t, out.Recovered)
	assert.Equal(t, []Strategy{StrategyScrollIntoView, StrategyWaitAndRetry}, out.StrategiesTried)
	// Second try sleeps retryDelay x multiplier^1.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
	assert.Equal(t, 1, rem.scrolled, "scroll-into-view runs only on the first attempt")
}

func TestAttemptExhaustsRetries(t *testing.T) {
	e, slept := newTestEngine(Config{MaxRetries: 3, RetryDelay: 50 * time.Millisecond, BackoffMultiplier: 2}, nil)

	calls := 0
	retry := func(context.Context, action.Action) action.Result {
		calls++
		return action.Result{Success: false, Error: "timeout exceeded"}
	}
	out := e.Attempt(context.Background(), clickAction(1), Timeout, retry)

	assert.False(t, out.Recovered)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []Strategy{StrategyWaitAndRetry, StrategyWaitAndRetry, StrategyWaitAndRetry}, out.StrategiesTried)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestAttemptDismissesModalForNotInteractable(t *testing.T) {
	rem := &fakeRemediator{}
	e, _ := newTestEngine(Config{}, rem)

	retry := func(context.Context, action.Action) action.Result {
		return action.Result{Success: true}
	}
	out := e.Attempt(context.Background(), clickAction(2), ElementNotInteractable, retry)

	require.True(t, out.Recovered)
	assert.Equal(t, []Strategy{StrategyDismissModal}, out.StrategiesTried)
	assert.Equal(t, 1, rem.dismissed)
}

func TestAttemptReclassifiesBetweenTries(t *testing.T) {
	rem := &fakeRemediator{}
	e, _ := newTestEngine(Config{MaxRetries: 2}, rem)

	calls := 0
	retry := func(context.Context, action.Action) action.Result {
		calls++
		if calls == 1 {
			// Failure mode shifts: next attempt should pick the modal strategy.
			return action.Result{Success: false, Error: "element intercepts pointer events"}
		}
		return action.Result{Success: true}
	}
	out := e.Attempt(context.Background(), clickAction(5), ElementNotFound, retry)

	require.True(t, out.Recovered)
	assert.Equal(t, []Strategy{StrategyScrollIntoView, StrategyDismissModal}, out.StrategiesTried)
	assert.Equal(t, 1, rem.dismissed)
}

type recordingNotifier struct {
	kinds []Kind
}

func (r *recordingNotifier) NotifyIntervention(_ context.Context, kind Kind, _ string) {
	r.kinds = append(r.kinds, kind)
}

func TestAttemptNotifiesForBlockingKinds(t *testing.T) {
	notifier := &recordingNotifier{}
	e := NewEngine(Config{MaxRetries: 1, InterventionWait: time.Minute}, nil, notifier, zerolog.Nop())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	retry := func(context.Context, action.Action) action.Result {
		return action.Result{Success: true}
	}
	out := e.Attempt(context.Background(), clickAction(1), CaptchaDetected, retry)

	require.True(t, out.Recovered)
	assert.Equal(t, []Strategy{StrategyHumanIntervention}, out.StrategiesTried)
	assert.Equal(t, []Kind{CaptchaDetected}, notifier.kinds)
}

func TestAttemptStopsWhenContextCancelled(t *testing.T) {
	e := NewEngine(Config{MaxRetries: 3}, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	retry := func(context.Context, action.Action) action.Result {
		calls++
		return action.Result{Success: false, Error: "x"}
	}
	out := e.Attempt(ctx, clickAction(1), Unknown, retry)

	assert.False(t, out.Recovered)
	assert.Zero(t, calls, "cancelled context stops before the first retry")
}
