package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/browser"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// Remediator gives the recovery engine its side effects: scrolling a failing
// action's element into view and dismissing open modals. The orchestrator
// hands it the current snapshot at each step so locator resolution stays
// aligned with what the failing action saw.
type Remediator struct {
	ctrl   browser.Controller
	logger zerolog.Logger

	mu   sync.Mutex
	snap *snapshot.Snapshot
}

func NewRemediator(ctrl browser.Controller, logger zerolog.Logger) *Remediator {
	return &Remediator{ctrl: ctrl, logger: logger}
}

// SetSnapshot installs the snapshot subsequent remediations resolve against.
func (r *Remediator) SetSnapshot(snap *snapshot.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = snap
}

func (r *Remediator) current() *snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// ScrollTargetIntoView scrolls the action's referenced element into view.
func (r *Remediator) ScrollTargetIntoView(ctx context.Context, act action.Action) error {
	idx, ok := act.TargetIndex()
	if !ok {
		return nil
	}
	snap := r.current()
	if snap == nil {
		return fmt.Errorf("no snapshot available")
	}
	el := snap.Element(idx)
	if el == nil {
		return fmt.Errorf("Element with index %d not found", idx)
	}
	return r.ctrl.ScrollIntoView(ctx, el.Locator)
}

// commonDismissSelectors covers the usual close affordances when the
// snapshot did not identify a dismiss action for a modal.
var commonDismissSelectors = []string{
	`[aria-label="Close"]`,
	`[aria-label="close"]`,
	`button.close`,
	`.modal-close`,
	`[class*="dismiss"]`,
}

// DismissModals closes open overlays: snapshot-identified dismiss actions
// first, then common close selectors, then Escape.
func (r *Remediator) DismissModals(ctx context.Context) error {
	dismissed := false
	if snap := r.current(); snap != nil {
		for _, m := range snap.Modals {
			sel := m.DismissAction
			if sel == "" {
				continue
			}
			if err := r.ctrl.Click(ctx, sel, 2*time.Second); err != nil {
				r.logger.Debug().Err(err).Str("selector", sel).Msg("modal dismiss click failed")
				continue
			}
			dismissed = true
		}
	}
	if !dismissed {
		for _, sel := range commonDismissSelectors {
			if err := r.ctrl.Click(ctx, sel, time.Second); err == nil {
				dismissed = true
				break
			}
		}
	}
	if !dismissed {
		return r.ctrl.Press(ctx, "Escape", nil)
	}
	return nil
}
