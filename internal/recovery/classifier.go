// Package recovery classifies execution failures and applies bounded,
// backed-off remediation.
package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/polzovatel/browser-task-engine/internal/action"
)

// Kind is a classified failure category.
type Kind string

const (
	ElementNotFound        Kind = "element-not-found"
	ElementNotVisible      Kind = "element-not-visible"
	ElementNotInteractable Kind = "element-not-interactable"
	Timeout                Kind = "timeout"
	CaptchaDetected        Kind = "captcha-detected"
	RateLimited            Kind = "rate-limited"
	NetworkError           Kind = "network-error"
	NavigationFailed       Kind = "navigation-failed"
	Unknown                Kind = "unknown"
)

// classRule maps message keywords to a kind. Rules are evaluated in order,
// first match wins; anything unmatched is Unknown.
type classRule struct {
	keywords []string
	kind     Kind
}

var classRules = []classRule{
	{[]string{"not found", "no element matches", "no node found", "failed to find element"}, ElementNotFound},
	{[]string{"not visible", "element is hidden", "outside of the viewport"}, ElementNotVisible},
	{[]string{"not interactable", "not clickable", "intercepts pointer events", "element is disabled", "detached from", "element is not attached"}, ElementNotInteractable},
	{[]string{"timeout", "timed out", "deadline exceeded"}, Timeout},
	{[]string{"captcha", "recaptcha", "hcaptcha", "are you a robot", "verify you are human"}, CaptchaDetected},
	{[]string{"rate limit", "too many requests", "429"}, RateLimited},
	{[]string{"net::err", "network error", "connection refused", "connection reset", "dns", "socket hang up"}, NetworkError},
	{[]string{"navigation failed", "navigation interrupted", "err_aborted", "frame was detached"}, NavigationFailed},
}

// Classify maps a failure message onto the fixed, ordered keyword taxonomy.
func Classify(message string) Kind {
	msg := strings.ToLower(message)
	for _, rule := range classRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.kind
			}
		}
	}
	return Unknown
}

// Transient kinds are retried locally with backoff.
func Transient(k Kind) bool {
	switch k {
	case ElementNotFound, ElementNotVisible, ElementNotInteractable, Timeout, NetworkError:
		return true
	}
	return false
}

// Blocking kinds escalate to a bounded human-intervention wait.
func Blocking(k Kind) bool {
	return k == CaptchaDetected || k == RateLimited
}

// ExecutionError is a classified, permanent failure record attached to the
// task after recovery is exhausted.
type ExecutionError struct {
	Kind            Kind          `json:"kind"`
	Message         string        `json:"message"`
	Step            int           `json:"step"`
	Action          action.Action `json:"action"`
	StrategiesTried []Strategy    `json:"strategiesTried,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %d: %s: %s", e.Step, e.Kind, e.Message)
}
