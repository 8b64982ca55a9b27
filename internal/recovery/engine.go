package recovery

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/action"
)

// Strategy names one remediation attempt.
type Strategy string

const (
	StrategyScrollIntoView    Strategy = "scroll-into-view"
	StrategyWaitAndRetry      Strategy = "wait-and-retry"
	StrategyDismissModal      Strategy = "dismiss-modal"
	StrategyHumanIntervention Strategy = "human-intervention"
	StrategyBackoffRetry      Strategy = "backoff-retry"
)

// Remediator performs the side-effecting repairs strategies need. The
// orchestrator binds it to the browser and the failing action's element.
type Remediator interface {
	// ScrollTargetIntoView scrolls the action's referenced element into view.
	ScrollTargetIntoView(ctx context.Context, act action.Action) error
	// DismissModals tries common dismiss selectors on open overlays.
	DismissModals(ctx context.Context) error
}

// InterventionNotifier signals that a human needs to clear a blocking
// condition (captcha, rate limit) before execution can continue.
type InterventionNotifier interface {
	NotifyIntervention(ctx context.Context, kind Kind, message string)
}

// RetryFunc re-executes the original action. Recovery never mutates the
// action; every retry runs it verbatim.
type RetryFunc func(ctx context.Context, act action.Action) action.Result

// Config bounds the engine.
type Config struct {
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	InterventionWait  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 2
	}
	if c.InterventionWait <= 0 {
		c.InterventionWait = 60 * time.Second
	}
}

// Outcome reports one recovery run.
type Outcome struct {
	Recovered       bool
	StrategiesTried []Strategy
	Result          action.Result
}

// Engine applies deterministic, kind-selected strategies with exponential
// backoff between tries.
type Engine struct {
	cfg      Config
	rem      Remediator
	notifier InterventionNotifier
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewEngine(cfg Config, rem Remediator, notifier InterventionNotifier, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		rem:      rem,
		notifier: notifier,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Attempt retries the failed action up to MaxRetries times, choosing the
// strategy deterministically from the classified kind and sleeping
// retryDelay × backoffMultiplier^attempt between tries. Exhaustion leaves
// the caller to record a permanent ExecutionError.
func (e *Engine) Attempt(ctx context.Context, act action.Action, kind Kind, retry RetryFunc) Outcome {
	out := Outcome{}
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		strategy := e.strategyFor(kind, attempt)
		out.StrategiesTried = append(out.StrategiesTried, strategy)
		e.logger.Info().
			Str("kind", string(kind)).
			Str("strategy", string(strategy)).
			Int("attempt", attempt+1).
			Msg("attempting recovery")

		if err := e.remediate(ctx, act, kind, strategy); err != nil {
			e.logger.Debug().Err(err).Str("strategy", string(strategy)).Msg("remediation failed")
		}

		delay := time.Duration(float64(e.cfg.RetryDelay) * math.Pow(e.cfg.BackoffMultiplier, float64(attempt)))
		if err := e.sleep(ctx, delay); err != nil {
			return out
		}

		res := retry(ctx, act)
		if res.Success {
			out.Recovered = true
			out.Result = res
			return out
		}
		// Re-classify: the failure mode may shift between attempts.
		kind = Classify(res.Error)
	}
	return out
}

func (e *Engine) strategyFor(kind Kind, attempt int) Strategy {
	switch kind {
	case ElementNotFound, ElementNotVisible:
		if attempt == 0 {
			return StrategyScrollIntoView
		}
		return StrategyWaitAndRetry
	case ElementNotInteractable:
		return StrategyDismissModal
	case Timeout:
		return StrategyWaitAndRetry
	case CaptchaDetected, RateLimited:
		return StrategyHumanIntervention
	default:
		return StrategyBackoffRetry
	}
}

func (e *Engine) remediate(ctx context.Context, act action.Action, kind Kind, strategy Strategy) error {
	switch strategy {
	case StrategyScrollIntoView:
		if e.rem == nil {
			return nil
		}
		return e.rem.ScrollTargetIntoView(ctx, act)
	case StrategyDismissModal:
		if e.rem == nil {
			return nil
		}
		return e.rem.DismissModals(ctx)
	case StrategyHumanIntervention:
		if e.notifier != nil {
			e.notifier.NotifyIntervention(ctx, kind, "blocking condition detected, waiting for manual resolution")
		}
		return e.sleep(ctx, e.cfg.InterventionWait)
	default:
		// Wait-and-retry and generic backoff need no remediation beyond
		// the inter-attempt sleep.
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
