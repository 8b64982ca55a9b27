package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/confirm"
	"github.com/polzovatel/browser-task-engine/internal/planner"
	"github.com/polzovatel/browser-task-engine/internal/recovery"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

type fakeIndexer struct {
	snap *snapshot.Snapshot
	err  error
}

func (f *fakeIndexer) Extract(context.Context) (*snapshot.Snapshot, error) {
	return f.snap, f.err
}

// fakePlanner hands out queued steps, repeating the last one when drained.
type fakePlanner struct {
	steps   []planner.AgentStep
	stepErr error
	calls   int
}

func (f *fakePlanner) Plan(context.Context, planner.PlanRequest) (planner.Plan, error) {
	return planner.Plan{Understanding: "test"}, nil
}

func (f *fakePlanner) ProposeStep(context.Context, planner.StepRequest) (planner.AgentStep, error) {
	f.calls++
	if f.stepErr != nil {
		return planner.AgentStep{}, f.stepErr
	}
	if len(f.steps) == 0 {
		return planner.AgentStep{}, fmt.Errorf("no steps queued")
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step, nil
}

type fakeExecutor struct {
	executed []action.Action
	results  map[action.Kind]action.Result
}

func (f *fakeExecutor) Execute(_ context.Context, act action.Action, _ *snapshot.Snapshot, _ action.DataSink) action.Result {
	f.executed = append(f.executed, act)
	if res, ok := f.results[act.Kind]; ok {
		return res
	}
	return action.Result{Success: true}
}

type fakeGate struct {
	answers  map[confirm.Kind]bool
	requests []confirm.Kind
}

func (f *fakeGate) Request(_ context.Context, kind confirm.Kind, _ string) bool {
	f.requests = append(f.requests, kind)
	answer, ok := f.answers[kind]
	if !ok {
		return true
	}
	return answer
}

type fakeEngine struct {
	outcome recovery.Outcome
	calls   int
}

func (f *fakeEngine) Attempt(context.Context, action.Action, recovery.Kind, recovery.RetryFunc) recovery.Outcome {
	f.calls++
	return f.outcome
}

func loopSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		URL: "https://shop.example.com/cart",
		Elements: []snapshot.IndexedElement{
			{Index: 1, Role: "button", Name: "Pay now", Purpose: snapshot.PurposePayment, Locator: "#pay", InViewport: true},
			{Index: 2, Role: "link", Name: "Keep shopping", Locator: "#back", InViewport: true},
		},
	}
}

func stepOf(final bool, confidence float64, acts ...action.Action) planner.AgentStep {
	return planner.AgentStep{Rationale: "do it", Actions: acts, Confidence: confidence, IsFinal: final}
}

func clickOn(index int) action.Action {
	return action.Action{Kind: action.KindClick, Click: &action.ClickParams{Index: index}}
}

type testHarness struct {
	orch     *Orchestrator
	planner  *fakePlanner
	executor *fakeExecutor
	gate     *fakeGate
	engine   *fakeEngine
}

func newHarness(cfg Config, steps ...planner.AgentStep) *testHarness {
	h := &testHarness{
		planner:  &fakePlanner{steps: steps},
		executor: &fakeExecutor{results: map[action.Kind]action.Result{}},
		gate:     &fakeGate{answers: map[confirm.Kind]bool{}},
		engine:   &fakeEngine{},
	}
	h.orch = NewOrchestrator(cfg, Options{
		Indexer:  &fakeIndexer{snap: loopSnapshot()},
		Executor: h.executor,
		Planner:  h.planner,
		Gate:     h.gate,
		Engine:   h.engine,
	}, zerolog.Nop())
	return h
}

func baseSpec() TaskSpec {
	return TaskSpec{
		Objective: "buy the thing",
		MaxSteps:  5,
		Timeout:   time.Minute,
	}
}

func TestExecuteTaskCompletes(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(2)))

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	require.Len(t, task.History, 1)
	assert.Len(t, h.executor.executed, 1)
	assert.Empty(t, task.Errors)
	assert.False(t, task.FinishedAt.IsZero())
	assert.Equal(t, "test", task.Plan.Understanding)
}

func TestExecuteTaskFinalNeedsConfidence(t *testing.T) {
	// A final step under the confidence bar keeps the loop going.
	h := newHarness(Config{},
		stepOf(true, 0.2, clickOn(2)),
		stepOf(true, 0.9, clickOn(2)),
	)

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Len(t, task.History, 2)
}

func TestExecuteTaskExceedsMaxSteps(t *testing.T) {
	h := newHarness(Config{}, stepOf(false, 0.5, clickOn(2)))

	spec := baseSpec()
	spec.MaxSteps = 1
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Len(t, task.History, 1, "history never exceeds the step budget")
	require.Len(t, task.Errors, 1)
	assert.Equal(t, "exceeded maximum steps", task.Errors[0].Message)
}

func TestExecuteTaskTimeout(t *testing.T) {
	h := newHarness(Config{}, stepOf(false, 0.5, clickOn(2)))

	spec := baseSpec()
	spec.Timeout = time.Nanosecond
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	require.Len(t, task.Errors, 1)
	assert.Equal(t, recovery.Timeout, task.Errors[0].Kind)
	assert.Zero(t, h.planner.calls, "budget check runs before planning")
}

func TestExecuteTaskRejectsSecondActiveTask(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(2)))
	h.orch.active.Store(true)

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	assert.Nil(t, task)
	assert.ErrorIs(t, err, ErrTaskActive)
}

func TestSensitiveDeclinePausesTask(t *testing.T) {
	h := newHarness(Config{}, stepOf(false, 0.5, clickOn(1), clickOn(2)))
	h.gate.answers[confirm.KindPayment] = false

	spec := baseSpec()
	spec.Confirmation = confirm.NewPolicy(confirm.KindPayment)
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusPaused, task.Status)
	assert.Equal(t, []confirm.Kind{confirm.KindPayment}, h.gate.requests, "exactly one confirmation")
	assert.Empty(t, h.executor.executed, "declined action and the rest of the step are skipped")
	require.Len(t, task.History, 1)
	assert.Empty(t, task.History[0].Results)
}

func TestSensitiveApprovalRunsAction(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(1)))
	h.gate.answers[confirm.KindPayment] = true

	spec := baseSpec()
	spec.Confirmation = confirm.NewPolicy(confirm.KindPayment)
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, []confirm.Kind{confirm.KindPayment}, h.gate.requests)
	assert.Len(t, h.executor.executed, 1)
}

func TestUncoveredKindNeedsNoConfirmation(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(1)))

	// Policy gates deletes only; the payment click passes through.
	spec := baseSpec()
	spec.Confirmation = confirm.NewPolicy(confirm.KindDelete)
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Empty(t, h.gate.requests)
}

func TestUnrecoveredFailureFailsTask(t *testing.T) {
	h := newHarness(Config{}, stepOf(false, 0.5, clickOn(2)))
	h.executor.results[action.KindClick] = action.Result{Success: false, Error: "Element with index 2 not found"}
	h.engine.outcome = recovery.Outcome{
		Recovered:       false,
		StrategiesTried: []recovery.Strategy{recovery.StrategyScrollIntoView, recovery.StrategyWaitAndRetry},
	}

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 1, h.engine.calls)
	require.Len(t, task.Errors, 1)
	assert.Equal(t, recovery.ElementNotFound, task.Errors[0].Kind)
	assert.Equal(t, 1, task.Errors[0].Step)
	assert.Len(t, task.Errors[0].StrategiesTried, 2)
	require.Len(t, task.History, 1)
	require.Len(t, task.History[0].Results, 1)
	assert.False(t, task.History[0].Results[0].Success)
}

func TestRecoveredFailureContinues(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(2)))
	h.executor.results[action.KindClick] = action.Result{Success: false, Error: "timeout exceeded"}
	h.engine.outcome = recovery.Outcome{
		Recovered:       true,
		StrategiesTried: []recovery.Strategy{recovery.StrategyWaitAndRetry},
		Result:          action.Result{Success: true},
	}

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Empty(t, task.Errors, "recovered failures leave no permanent error")
	require.Len(t, task.History, 1)
	assert.True(t, task.History[0].Results[0].Success)
}

func TestAbortStopsAtStepBoundary(t *testing.T) {
	h := newHarness(Config{}, stepOf(false, 0.5, clickOn(2)))
	h.orch.observer = abortingObserver{h.orch}

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusAborted, task.Status)
	assert.Len(t, task.History, 1, "in-flight step finishes before the abort lands")
}

type abortingObserver struct {
	orch *Orchestrator
}

func (a abortingObserver) TaskStarted(*Task)                                       {}
func (a abortingObserver) StepProposed(*Task, int, planner.AgentStep)              { a.orch.Abort() }
func (a abortingObserver) ActionExecuted(*Task, int, action.Action, action.Result) {}
func (a abortingObserver) TaskFinished(*Task)                                      {}

func TestStartConfirmationDeclinedPauses(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(2)))
	h.gate.answers[confirm.KindTaskStart] = false

	spec := baseSpec()
	spec.ConfirmStart = true
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, StatusPaused, task.Status)
	assert.Zero(t, h.planner.calls, "declined start never reaches planning")
	assert.Empty(t, task.History)
}

func TestPlannerErrorDegradesToDefaultStep(t *testing.T) {
	h := newHarness(Config{})
	h.planner.stepErr = fmt.Errorf("connection refused")

	spec := baseSpec()
	spec.MaxSteps = 1
	task, err := h.orch.ExecuteTask(context.Background(), spec)

	require.NoError(t, err)
	require.Len(t, task.History, 1)
	require.Len(t, task.History[0].Actions, 1)
	assert.Equal(t, action.KindWait, task.History[0].Actions[0].Kind, "unreachable planner degrades to a bounded wait")
	assert.Equal(t, StatusFailed, task.Status)
}

func TestSnapshotFailureFailsTask(t *testing.T) {
	h := newHarness(Config{}, stepOf(true, 0.9, clickOn(2)))
	h.orch.indexer = &fakeIndexer{err: fmt.Errorf("page crashed: timeout")}

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	require.Len(t, task.Errors, 1)
	assert.Equal(t, recovery.Timeout, task.Errors[0].Kind)
}

func TestMemoryNotesAccumulate(t *testing.T) {
	first := stepOf(false, 0.5, clickOn(2))
	first.Memory = "cart has one item"
	second := stepOf(true, 0.9, clickOn(2))
	second.Memory = "order placed"
	h := newHarness(Config{}, first, second)

	task, err := h.orch.ExecuteTask(context.Background(), baseSpec())

	require.NoError(t, err)
	assert.Equal(t, []string{"cart has one item", "order placed"}, task.MemoryNotes)
}

func TestTaskTransitionGuardsTerminalStates(t *testing.T) {
	task := newTask(baseSpec())
	assert.Equal(t, StatusPending, task.Status)
	assert.True(t, task.transition(StatusPlanning))
	assert.True(t, task.transition(StatusRunning))
	assert.False(t, task.transition(StatusPlanning), "no going back")
	assert.True(t, task.transition(StatusCompleted))
	assert.False(t, task.transition(StatusFailed), "terminal status is final")
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestDataMap(t *testing.T) {
	m := NewDataMap()
	m.Put("price", "$10")
	m.Put("price", "$12")
	v, ok := m.Get("price")
	require.True(t, ok)
	assert.Equal(t, "$12", v)
	assert.Equal(t, 1, m.Len())

	all := m.All()
	all["price"] = "mutated"
	v, _ = m.Get("price")
	assert.Equal(t, "$12", v, "All returns a copy")
}

func TestDataMapMarshalsContents(t *testing.T) {
	m := NewDataMap()
	m.Put("price", "$12")
	m.Put("title", "Widget")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"$12","title":"Widget"}`, string(data))

	data, err = json.Marshal(NewDataMap())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}
