// Package agent owns the task lifecycle: it drives the
// observe-plan-act-verify loop against the browser, consulting the planning
// service for every step and enforcing step and wall-clock budgets.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/confirm"
	"github.com/polzovatel/browser-task-engine/internal/overlay"
	"github.com/polzovatel/browser-task-engine/internal/planner"
	"github.com/polzovatel/browser-task-engine/internal/recovery"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// ErrTaskActive rejects a second ExecuteTask while one is running. One task
// owns the browser at a time.
var ErrTaskActive = errors.New("a task is already active")

// Indexer produces page snapshots.
type Indexer interface {
	Extract(ctx context.Context) (*snapshot.Snapshot, error)
}

// Annotator renders marker overlays. Optional; nil disables annotation.
type Annotator interface {
	Annotate(ctx context.Context, snap *snapshot.Snapshot) (*overlay.Annotation, error)
}

// Executor runs one declared action against the browser.
type Executor interface {
	Execute(ctx context.Context, act action.Action, snap *snapshot.Snapshot, sink action.DataSink) action.Result
}

// ConfirmGate resolves confirmation requests for sensitive actions.
type ConfirmGate interface {
	Request(ctx context.Context, kind confirm.Kind, message string) bool
}

// RecoveryEngine retries a failed action with remediation strategies.
type RecoveryEngine interface {
	Attempt(ctx context.Context, act action.Action, kind recovery.Kind, retry recovery.RetryFunc) recovery.Outcome
}

// ArtifactSink persists per-step evidence. Optional.
type ArtifactSink interface {
	Capture(taskID string, step int, screenshot []byte, snap *snapshot.Snapshot)
}

// Observer receives lifecycle callbacks. All methods may be called from the
// orchestrator goroutine only.
type Observer interface {
	TaskStarted(task *Task)
	StepProposed(task *Task, step int, proposal planner.AgentStep)
	ActionExecuted(task *Task, step int, act action.Action, res action.Result)
	TaskFinished(task *Task)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

func (NoopObserver) TaskStarted(*Task)                                       {}
func (NoopObserver) StepProposed(*Task, int, planner.AgentStep)              {}
func (NoopObserver) ActionExecuted(*Task, int, action.Action, action.Result) {}
func (NoopObserver) TaskFinished(*Task)                                      {}

// Config bounds orchestrator behavior. Zero values pick defaults.
type Config struct {
	MaxSteps int
	Timeout  time.Duration
	// FinalConfidence is the minimum planner confidence for a step marked
	// final to complete the task.
	FinalConfidence float64
	// PaceMin and PaceMax bound a randomized delay between consecutive
	// actions of one step. PaceMax <= 0 disables pacing.
	PaceMin time.Duration
	PaceMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 25
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.FinalConfidence <= 0 {
		c.FinalConfidence = 0.7
	}
}

// Orchestrator executes one task at a time through the step loop. Every call
// returns a terminal Task; run-level problems surface as classified errors on
// the task, never as a panic or a lost task.
type Orchestrator struct {
	cfg       Config
	indexer   Indexer
	annotator Annotator
	executor  Executor
	planner   planner.Service
	gate      ConfirmGate
	engine    RecoveryEngine
	rem       *Remediator
	artifacts ArtifactSink
	observer  Observer
	logger    zerolog.Logger

	active  atomic.Bool
	aborted atomic.Bool
}

// Options carries the collaborators. Annotator, Remediator, Artifacts and
// Observer are optional.
type Options struct {
	Indexer    Indexer
	Annotator  Annotator
	Executor   Executor
	Planner    planner.Service
	Gate       ConfirmGate
	Engine     RecoveryEngine
	Remediator *Remediator
	Artifacts  ArtifactSink
	Observer   Observer
}

func NewOrchestrator(cfg Config, opts Options, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	obs := opts.Observer
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Orchestrator{
		cfg:       cfg,
		indexer:   opts.Indexer,
		annotator: opts.Annotator,
		executor:  opts.Executor,
		planner:   opts.Planner,
		gate:      opts.Gate,
		engine:    opts.Engine,
		rem:       opts.Remediator,
		artifacts: opts.Artifacts,
		observer:  obs,
		logger:    logger,
	}
}

// Abort requests cooperative cancellation of the running task. Checked at
// step boundaries; the in-flight action finishes first.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
}

// Active reports whether a task is currently running.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// ExecuteTask runs the task to a terminal status. The only error return is
// ErrTaskActive; every other failure is recorded on the returned task.
func (o *Orchestrator) ExecuteTask(ctx context.Context, spec TaskSpec) (*Task, error) {
	if !o.active.CompareAndSwap(false, true) {
		return nil, ErrTaskActive
	}
	defer o.active.Store(false)
	o.aborted.Store(false)

	if spec.MaxSteps <= 0 {
		spec.MaxSteps = o.cfg.MaxSteps
	}
	if spec.Timeout <= 0 {
		spec.Timeout = o.cfg.Timeout
	}
	task := newTask(spec)
	log := o.logger.With().Str("task", task.ID).Logger()
	log.Info().Str("objective", spec.Objective).Int("maxSteps", spec.MaxSteps).Dur("timeout", spec.Timeout).Msg("task accepted")

	o.observer.TaskStarted(task)
	defer func() {
		task.FinishedAt = time.Now()
		log.Info().Str("status", string(task.Status)).Int("steps", len(task.History)).Msg("task finished")
		o.observer.TaskFinished(task)
	}()

	if spec.ConfirmStart && o.gate != nil {
		msg := fmt.Sprintf("Start task: %s", spec.Objective)
		if !o.gate.Request(ctx, confirm.KindTaskStart, msg) {
			task.transition(StatusPaused)
			log.Warn().Msg("task start declined")
			return task, nil
		}
	}

	o.run(ctx, task, log)
	return task, nil
}

func (o *Orchestrator) run(ctx context.Context, task *Task, log zerolog.Logger) {
	started := time.Now()
	deadline := started.Add(task.Timeout)

	task.transition(StatusPlanning)

	if task.StartURL != "" {
		nav := action.Action{Kind: action.KindNavigate, Navigate: &action.NavigateParams{URL: task.StartURL}}
		if res := o.executor.Execute(ctx, nav, nil, nil); !res.Success {
			o.failTask(task, recovery.ExecutionError{
				Kind:      recovery.Classify(res.Error),
				Message:   res.Error,
				Action:    nav,
				Timestamp: time.Now(),
			}, log)
			return
		}
	}

	snap, err := o.observe(ctx, task, 0)
	if err != nil {
		o.failTask(task, recovery.ExecutionError{
			Kind:      recovery.Classify(err.Error()),
			Message:   fmt.Sprintf("initial snapshot: %v", err),
			Timestamp: time.Now(),
		}, log)
		return
	}

	plan, err := o.planner.Plan(ctx, planner.PlanRequest{
		Objective:       task.Objective,
		Instructions:    task.Instructions,
		SnapshotSummary: snap.Summary(),
	})
	if err != nil {
		// Planning is advisory; the step loop works without it.
		log.Warn().Err(err).Msg("initial plan unavailable, proceeding step by step")
	} else {
		task.Plan = plan
	}

	task.transition(StatusRunning)

	priorResult := ""
	for step := 1; ; step++ {
		if o.aborted.Load() || ctx.Err() != nil {
			task.transition(StatusAborted)
			log.Warn().Int("step", step).Msg("task aborted")
			return
		}
		if remaining := time.Until(deadline); remaining <= 0 {
			o.failTask(task, recovery.ExecutionError{
				Kind:      recovery.Timeout,
				Message:   fmt.Sprintf("task timeout of %s exceeded", task.Timeout),
				Step:      step,
				Timestamp: time.Now(),
			}, log)
			return
		}
		if step > task.MaxSteps {
			o.failTask(task, recovery.ExecutionError{
				Kind:      recovery.Unknown,
				Message:   "exceeded maximum steps",
				Step:      step,
				Timestamp: time.Now(),
			}, log)
			return
		}

		if step > 1 || snap == nil {
			snap, err = o.observe(ctx, task, step)
			if err != nil {
				o.failTask(task, recovery.ExecutionError{
					Kind:      recovery.Classify(err.Error()),
					Message:   fmt.Sprintf("snapshot: %v", err),
					Step:      step,
					Timestamp: time.Now(),
				}, log)
				return
			}
		}
		if o.rem != nil {
			o.rem.SetSnapshot(snap)
		}

		proposal, err := o.planner.ProposeStep(ctx, planner.StepRequest{
			Objective:       task.Objective,
			StepNumber:      step,
			MaxSteps:        task.MaxSteps,
			RemainingMs:     time.Until(deadline).Milliseconds(),
			MemoryNotes:     recentNotes(task.MemoryNotes, memoryWindow),
			SnapshotSummary: snap.Summary(),
			PriorResult:     priorResult,
		})
		if err != nil {
			log.Warn().Err(err).Int("step", step).Msg("planner unreachable, using default step")
			proposal = planner.DefaultStep()
		}
		if proposal.Memory != "" {
			task.MemoryNotes = append(task.MemoryNotes, proposal.Memory)
		}
		o.observer.StepProposed(task, step, proposal)
		log.Info().
			Int("step", step).
			Int("actions", len(proposal.Actions)).
			Float64("confidence", proposal.Confidence).
			Bool("final", proposal.IsFinal).
			Str("rationale", proposal.Rationale).
			Msg("step proposed")

		entry := HistoryEntry{
			Step:      step,
			Rationale: proposal.Rationale,
			Actions:   proposal.Actions,
			URL:       snap.URL,
			Memory:    proposal.Memory,
			Timestamp: time.Now(),
		}
		stepFailed := false
		paused := false

		for i, act := range proposal.Actions {
			if kind, msg, blocked := o.checkSensitive(ctx, task, act, snap); blocked {
				// A decline pauses the task; remaining actions of this
				// step are skipped.
				log.Warn().Int("step", step).Str("kind", string(kind)).Str("action", msg).Msg("sensitive action declined")
				paused = true
				break
			}

			res := o.executor.Execute(ctx, act, snap, task.Extracted)
			if !res.Success {
				res = o.recover(ctx, task, step, act, snap, res, log)
			}
			entry.Results = append(entry.Results, res)
			o.observer.ActionExecuted(task, step, act, res)
			if !res.Success {
				stepFailed = true
				break
			}
			if i < len(proposal.Actions)-1 {
				o.pace(ctx)
			}
		}

		task.History = append(task.History, entry)
		priorResult = summarizeResults(entry)

		if paused {
			task.transition(StatusPaused)
			return
		}
		if stepFailed {
			task.transition(StatusFailed)
			return
		}
		if proposal.IsFinal && proposal.Confidence >= o.cfg.FinalConfidence {
			task.transition(StatusCompleted)
			log.Info().Int("step", step).Float64("confidence", proposal.Confidence).Msg("task completed")
			return
		}
	}
}

// observe extracts a snapshot, optionally annotates it, and persists the
// per-step artifact. Annotation failures degrade to the bare snapshot.
func (o *Orchestrator) observe(ctx context.Context, task *Task, step int) (*snapshot.Snapshot, error) {
	snap, err := o.indexer.Extract(ctx)
	if err != nil {
		return nil, err
	}
	var shot []byte
	if o.annotator != nil {
		ann, annErr := o.annotator.Annotate(ctx, snap)
		if annErr != nil {
			o.logger.Warn().Err(annErr).Int("step", step).Msg("annotation failed, continuing without markers")
		} else {
			shot = ann.Screenshot
		}
	}
	if o.artifacts != nil {
		o.artifacts.Capture(task.ID, step, shot, snap)
	}
	return snap, nil
}

// checkSensitive gates one action against the task policy. Returns blocked
// when a required confirmation was declined.
func (o *Orchestrator) checkSensitive(ctx context.Context, task *Task, act action.Action, snap *snapshot.Snapshot) (confirm.Kind, string, bool) {
	if o.gate == nil || len(task.Policy) == 0 {
		return "", "", false
	}
	var target *snapshot.IndexedElement
	if idx, ok := act.TargetIndex(); ok {
		target = snap.Element(idx)
	}
	kind, sensitive := confirm.Sensitivity(act, target, snap.URL)
	if !sensitive || !task.Policy.Covers(kind) {
		return "", "", false
	}
	msg := confirm.Describe(kind, act, target)
	if o.gate.Request(ctx, kind, msg) {
		return kind, msg, false
	}
	return kind, msg, true
}

// recover routes a failed action through the recovery engine and records a
// permanent ExecutionError when it stays failed.
func (o *Orchestrator) recover(ctx context.Context, task *Task, step int, act action.Action, snap *snapshot.Snapshot, res action.Result, log zerolog.Logger) action.Result {
	kind := recovery.Classify(res.Error)
	log.Warn().Int("step", step).Str("kind", string(kind)).Str("error", res.Error).Msg("action failed, attempting recovery")

	retry := func(ctx context.Context, a action.Action) action.Result {
		return o.executor.Execute(ctx, a, snap, task.Extracted)
	}
	outcome := o.engine.Attempt(ctx, act, kind, retry)
	if outcome.Recovered {
		log.Info().Int("step", step).Msg("action recovered")
		return outcome.Result
	}

	task.recordError(recovery.ExecutionError{
		Kind:            kind,
		Message:         res.Error,
		Step:            step,
		Action:          act,
		StrategiesTried: outcome.StrategiesTried,
		Timestamp:       time.Now(),
	})
	return res
}

func (o *Orchestrator) failTask(task *Task, execErr recovery.ExecutionError, log zerolog.Logger) {
	task.recordError(execErr)
	if !task.transition(StatusFailed) {
		// Failure before the loop started crosses planning first.
		task.transition(StatusPlanning)
		task.transition(StatusFailed)
	}
	log.Error().Str("kind", string(execErr.Kind)).Str("error", execErr.Message).Msg("task failed")
}

// pace inserts a small randomized delay between consecutive actions.
func (o *Orchestrator) pace(ctx context.Context) {
	if o.cfg.PaceMax <= 0 {
		return
	}
	min := o.cfg.PaceMin
	if min < 0 {
		min = 0
	}
	span := o.cfg.PaceMax - min
	d := min
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// memoryWindow bounds how many accumulated notes each step request carries.
const memoryWindow = 10

func recentNotes(notes []string, window int) []string {
	if len(notes) <= window {
		return notes
	}
	return notes[len(notes)-window:]
}

func summarizeResults(entry HistoryEntry) string {
	if len(entry.Results) == 0 {
		return ""
	}
	okCount := 0
	lastErr := ""
	for _, r := range entry.Results {
		if r.Success {
			okCount++
		} else {
			lastErr = r.Error
		}
	}
	if lastErr != "" {
		return fmt.Sprintf("step %d: %d/%d actions succeeded, last error: %s", entry.Step, okCount, len(entry.Results), lastErr)
	}
	return fmt.Sprintf("step %d: all %d actions succeeded", entry.Step, len(entry.Results))
}
