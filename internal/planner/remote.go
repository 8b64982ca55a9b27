package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxPayloadSize = 200000 // keep requests well under typical body limits
	clientTimeout  = 60 * time.Second
)

// Remote talks to the planning service over HTTP: POST {base}/plan and
// POST {base}/step with JSON bodies, raw text answers decoded tolerantly.
type Remote struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

func NewRemote(baseURL, apiKey string, logger zerolog.Logger) (*Remote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("planner base url required")
	}
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: clientTimeout},
		logger:  logger,
	}, nil
}

func (r *Remote) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	req.SnapshotSummary = clip(req.SnapshotSummary, maxPayloadSize)
	raw, err := r.post(ctx, "/plan", req)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(raw, r.logger), nil
}

func (r *Remote) ProposeStep(ctx context.Context, req StepRequest) (AgentStep, error) {
	req.SnapshotSummary = clip(req.SnapshotSummary, maxPayloadSize)
	raw, err := r.post(ctx, "/step", req)
	if err != nil {
		return AgentStep{}, err
	}
	return ParseStep(raw, r.logger), nil
}

// post sends the request with bounded retry and exponential backoff on
// transport failures and 5xx/429 answers.
func (r *Remote) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal planner request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			r.logger.Info().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying planner call")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("build planner request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("planner request: %w", err)
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read planner response: %w", readErr)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("planner status %d: %s", resp.StatusCode, clip(string(data), 200))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("planner status %d: %s", resp.StatusCode, clip(string(data), 200))
		}
		return string(data), nil
	}
	return "", lastErr
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}
