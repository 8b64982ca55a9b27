// Package confirm provides the asynchronous human-in-the-loop approval gate
// for sensitive actions.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind labels what is being confirmed.
type Kind string

const (
	KindTaskStart   Kind = "task-start"
	KindLogin       Kind = "login"
	KindFormSubmit  Kind = "form-submit"
	KindPayment     Kind = "payment"
	KindDelete      Kind = "delete"
	KindFileUpload  Kind = "file-upload"
	KindCrossDomain Kind = "cross-domain-navigation"
)

// Policy is the set of kinds a task wants gated.
type Policy map[Kind]bool

// NewPolicy builds a policy from kind names.
func NewPolicy(kinds ...Kind) Policy {
	p := make(Policy, len(kinds))
	for _, k := range kinds {
		p[k] = true
	}
	return p
}

// Covers reports whether the policy gates the given kind.
func (p Policy) Covers(k Kind) bool {
	return p[k]
}

// Responder delivers a confirmation request to the host. The host answers
// by invoking respond; at most the first invocation counts.
type Responder interface {
	Prompt(kind Kind, message string, respond func(approved bool))
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(kind Kind, message string, respond func(approved bool))

func (f ResponderFunc) Prompt(kind Kind, message string, respond func(approved bool)) {
	f(kind, message, respond)
}

// Config bounds the gate.
type Config struct {
	// Timeout is how long to wait for an answer before failing open.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Gate resolves confirmation requests through an external responder,
// failing open (approving) when no answer arrives within the timeout.
type Gate struct {
	responder Responder
	cfg       Config
	logger    zerolog.Logger
}

func NewGate(responder Responder, cfg Config, logger zerolog.Logger) *Gate {
	cfg.applyDefaults()
	return &Gate{responder: responder, cfg: cfg, logger: logger}
}

// Request blocks until the responder answers, the timeout elapses (approve),
// or the context is cancelled (decline). The prompt is delivered on its own
// goroutine so the timeout stays authoritative even when the responder
// blocks; a responder that answers late or more than once is safe.
func (g *Gate) Request(ctx context.Context, kind Kind, message string) bool {
	if g.responder == nil {
		g.logger.Warn().Str("kind", string(kind)).Msg("no confirmation responder configured, approving")
		return true
	}

	answer := make(chan bool, 1)
	var once sync.Once
	go g.responder.Prompt(kind, message, func(approved bool) {
		once.Do(func() { answer <- approved })
	})

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()

	select {
	case approved := <-answer:
		g.logger.Info().Str("kind", string(kind)).Bool("approved", approved).Msg("confirmation answered")
		return approved
	case <-timer.C:
		g.logger.Warn().
			Str("kind", string(kind)).
			Dur("timeout", g.cfg.Timeout).
			Msg("confirmation unanswered, failing open")
		return true
	case <-ctx.Done():
		return false
	}
}
