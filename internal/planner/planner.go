// Package planner defines the planning-service contract the engine consumes
// and a tolerant decoding layer for its responses.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/action"
)

// AgentStep is one proposal from the planning service.
type AgentStep struct {
	Rationale       string          `json:"rationale"`
	Memory          string          `json:"memory,omitempty"`
	Actions         []action.Action `json:"actions"`
	ExpectedOutcome string          `json:"expectedOutcome,omitempty"`
	Confidence      float64         `json:"confidence"`
	IsFinal         bool            `json:"isFinal"`
}

// Plan is the initial high-level plan for a task.
type Plan struct {
	Understanding string         `json:"understanding"`
	Steps         []string       `json:"steps"`
	FirstAction   *action.Action `json:"firstAction,omitempty"`
}

// PlanRequest asks for an initial plan.
type PlanRequest struct {
	Objective       string `json:"objective"`
	Instructions    string `json:"instructions,omitempty"`
	SnapshotSummary string `json:"snapshotSummary"`
}

// StepRequest asks for the next step proposal.
type StepRequest struct {
	Objective       string   `json:"objective"`
	StepNumber      int      `json:"stepNumber"`
	MaxSteps        int      `json:"maxSteps"`
	RemainingMs     int64    `json:"remainingMs"`
	MemoryNotes     []string `json:"memoryNotes,omitempty"`
	SnapshotSummary string   `json:"snapshotSummary"`
	PriorResult     string   `json:"priorResult,omitempty"`
}

// Service is the planning service the orchestrator consults. Implementations
// must treat it as pure request/response; they never act on the browser.
type Service interface {
	Plan(ctx context.Context, req PlanRequest) (Plan, error)
	ProposeStep(ctx context.Context, req StepRequest) (AgentStep, error)
}

// DefaultStep is the safe degradation for malformed planner output: a short
// bounded wait, zero confidence, not final. The task keeps running and the
// next snapshot gives the planner another chance.
func DefaultStep() AgentStep {
	return AgentStep{
		Rationale: "planner output was unusable, waiting before re-observing",
		Actions: []action.Action{{
			Kind: action.KindWait,
			Wait: &action.WaitParams{For: action.WaitDelay, DurationMs: 1000},
		}},
		Confidence: 0,
		IsFinal:    false,
	}
}

// ParseStep decodes raw planner text into an AgentStep. Malformed output is
// logged and replaced with the safe default, never surfaced as an error.
func ParseStep(raw string, logger zerolog.Logger) AgentStep {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		logger.Warn().Err(err).Str("raw", shorten(raw, 200)).Msg("planner step not parseable, using default")
		return DefaultStep()
	}
	var step AgentStep
	if err := json.Unmarshal([]byte(jsonStr), &step); err != nil {
		logger.Warn().Err(err).Str("raw", shorten(jsonStr, 200)).Msg("planner step decode failed, using default")
		return DefaultStep()
	}
	if len(step.Actions) == 0 {
		logger.Warn().Msg("planner step proposed no actions, using default")
		return DefaultStep()
	}
	return step
}

// ParsePlan decodes raw planner text into a Plan, degrading to an empty
// plan on malformed output.
func ParsePlan(raw string, logger zerolog.Logger) Plan {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("plan not parseable, continuing without one")
		return Plan{}
	}
	var plan Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		logger.Warn().Err(err).Msg("plan decode failed, continuing without one")
		return Plan{}
	}
	return plan
}

// extractJSON returns the first balanced top-level JSON object in text,
// tolerating prose around it.
func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json not found")
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
