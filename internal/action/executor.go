package action

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/browser"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// DataSink receives extraction results keyed by the caller's chosen names.
// The orchestrator passes the task's extracted-data map.
type DataSink interface {
	Put(key string, value any)
}

// Config bounds individual action handlers.
type Config struct {
	ActionTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 10 * time.Second
	}
}

// Executor dispatches one declared action against the browser. Handlers
// resolve indices against the snapshot argument only, never retry, and
// report every failure through the Result.
type Executor struct {
	ctrl   browser.Controller
	cfg    Config
	logger zerolog.Logger
}

func NewExecutor(ctrl browser.Controller, cfg Config, logger zerolog.Logger) *Executor {
	cfg.applyDefaults()
	return &Executor{ctrl: ctrl, cfg: cfg, logger: logger}
}

// Execute runs one action. sink may be nil when the caller discards
// extracted data.
func (e *Executor) Execute(ctx context.Context, act Action, snap *snapshot.Snapshot, sink DataSink) Result {
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	switch act.Kind {
	case KindClick:
		return e.click(ctx, act, snap)
	case KindType:
		return e.typeText(ctx, act, snap)
	case KindScroll:
		return e.scroll(ctx, act)
	case KindNavigate:
		return e.navigate(ctx, act)
	case KindWait:
		return e.wait(ctx, act, snap)
	case KindKeypress:
		return e.keypress(ctx, act)
	case KindHover:
		return e.hover(ctx, act, snap)
	case KindSelect:
		return e.selectOption(ctx, act, snap)
	case KindExtract:
		return e.extract(ctx, act, snap, sink)
	case KindScreenshot:
		return e.screenshot(ctx, act, sink)
	case KindTab:
		return e.tab(ctx, act)
	case KindScript:
		return e.script(ctx, act, sink)
	default:
		return failf("unknown action kind %q", act.Kind)
	}
}

// resolve looks an index up in the current snapshot. A missing index is an
// ordinary failure: indices from older snapshots may no longer exist.
func resolve(snap *snapshot.Snapshot, index int) (*snapshot.IndexedElement, error) {
	if snap == nil {
		return nil, fmt.Errorf("no snapshot available")
	}
	el := snap.Element(index)
	if el == nil {
		return nil, fmt.Errorf("Element with index %d not found", index)
	}
	return el, nil
}

func (e *Executor) click(ctx context.Context, act Action, snap *snapshot.Snapshot) Result {
	if act.Click == nil {
		return failf("click action missing parameters")
	}
	el, err := resolve(snap, act.Click.Index)
	if err != nil {
		return fail(err)
	}
	if err := e.ctrl.Click(ctx, el.Locator, e.cfg.ActionTimeout); err != nil {
		// Click is the only handler with a coordinate fallback: aim at the
		// element's geometric center when the locator no longer resolves.
		center := el.Rect.Center()
		e.logger.Debug().
			Int("index", el.Index).
			Str("locator", el.Locator).
			Float64("x", center.X).
			Float64("y", center.Y).
			Msg("locator click failed, falling back to coordinates")
		if coordErr := e.ctrl.ClickAt(ctx, center); coordErr != nil {
			return fail(err)
		}
	}
	return ok()
}

func (e *Executor) typeText(ctx context.Context, act Action, snap *snapshot.Snapshot) Result {
	if act.Type == nil {
		return failf("type action missing parameters")
	}
	el, err := resolve(snap, act.Type.Index)
	if err != nil {
		return fail(err)
	}
	if act.Type.Clear {
		if err := e.ctrl.Fill(ctx, el.Locator, "", e.cfg.ActionTimeout); err != nil {
			return fail(err)
		}
	}
	if err := e.ctrl.Fill(ctx, el.Locator, act.Type.Text, e.cfg.ActionTimeout); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) scroll(ctx context.Context, act Action) Result {
	if act.Scroll == nil {
		return failf("scroll action missing parameters")
	}
	amount := act.Scroll.Amount
	if amount <= 0 {
		amount = 600
	}
	var err error
	switch act.Scroll.Direction {
	case "up":
		err = e.ctrl.ScrollBy(ctx, 0, -amount)
	case "down", "":
		err = e.ctrl.ScrollBy(ctx, 0, amount)
	case "top":
		_, err = e.ctrl.Evaluate(ctx, `() => window.scrollTo(0, 0)`)
	case "bottom":
		_, err = e.ctrl.Evaluate(ctx, `() => window.scrollTo(0, document.documentElement.scrollHeight)`)
	default:
		return failf("unknown scroll direction %q", act.Scroll.Direction)
	}
	if err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) navigate(ctx context.Context, act Action) Result {
	if act.Navigate == nil || act.Navigate.URL == "" {
		return failf("navigate action missing url")
	}
	// "back" is a navigation target, not an address.
	if act.Navigate.URL == "back" {
		if err := e.ctrl.GoBack(ctx); err != nil {
			return fail(err)
		}
		return ok()
	}
	opts := browser.NavigateOptions{
		WaitPolicy: browser.WaitPolicy(act.Navigate.WaitPolicy),
		Timeout:    time.Duration(act.Navigate.TimeoutMs) * time.Millisecond,
	}
	if err := e.ctrl.Navigate(ctx, act.Navigate.URL, opts); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) wait(ctx context.Context, act Action, snap *snapshot.Snapshot) Result {
	if act.Wait == nil {
		return failf("wait action missing parameters")
	}
	p := act.Wait
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.cfg.ActionTimeout
	}
	switch p.For {
	case WaitDelay, "":
		dur := time.Duration(p.DurationMs) * time.Millisecond
		if dur <= 0 {
			dur = time.Second
		}
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-time.After(dur):
			return ok()
		}
	case WaitVisible, WaitAttached:
		selector := p.Selector
		if selector == "" && p.Index > 0 {
			el, err := resolve(snap, p.Index)
			if err != nil {
				return fail(err)
			}
			selector = el.Locator
		}
		if selector == "" {
			return failf("wait %s requires a selector or index", p.For)
		}
		var err error
		if p.For == WaitVisible {
			err = e.ctrl.WaitForSelector(ctx, selector, timeout)
		} else {
			err = e.ctrl.WaitForAttached(ctx, selector, timeout)
		}
		if err != nil {
			return fail(err)
		}
		return ok()
	case WaitNavigation:
		if err := e.ctrl.WaitForNavigation(ctx, timeout); err != nil {
			return fail(err)
		}
		return ok()
	case WaitIdle:
		if err := e.ctrl.WaitForIdle(ctx, timeout); err != nil {
			return fail(err)
		}
		return ok()
	case WaitPredicateJS:
		if p.Predicate == "" {
			return failf("wait predicate requires a script")
		}
		if err := e.ctrl.WaitForFunction(ctx, p.Predicate, timeout); err != nil {
			return fail(err)
		}
		return ok()
	case WaitURL:
		if p.URLPattern == "" {
			return failf("wait url requires a pattern")
		}
		if err := e.ctrl.WaitForURL(ctx, p.URLPattern, timeout); err != nil {
			return fail(err)
		}
		return ok()
	case WaitText:
		if p.Text == "" {
			return failf("wait text requires text")
		}
		if err := e.ctrl.WaitForText(ctx, p.Text, timeout); err != nil {
			return fail(err)
		}
		return ok()
	default:
		return failf("unknown wait predicate %q", p.For)
	}
}

func (e *Executor) keypress(ctx context.Context, act Action) Result {
	if act.Keypress == nil || act.Keypress.Key == "" {
		return failf("keypress action missing key")
	}
	if err := e.ctrl.Press(ctx, act.Keypress.Key, act.Keypress.Modifiers); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) hover(ctx context.Context, act Action, snap *snapshot.Snapshot) Result {
	if act.Hover == nil {
		return failf("hover action missing parameters")
	}
	el, err := resolve(snap, act.Hover.Index)
	if err != nil {
		return fail(err)
	}
	if err := e.ctrl.Hover(ctx, el.Locator, e.cfg.ActionTimeout); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) selectOption(ctx context.Context, act Action, snap *snapshot.Snapshot) Result {
	if act.Select == nil {
		return failf("select action missing parameters")
	}
	el, err := resolve(snap, act.Select.Index)
	if err != nil {
		return fail(err)
	}
	if err := e.ctrl.SelectOption(ctx, el.Locator, act.Select.Value, e.cfg.ActionTimeout); err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) extract(ctx context.Context, act Action, snap *snapshot.Snapshot, sink DataSink) Result {
	if act.Extract == nil || act.Extract.Key == "" {
		return failf("extract action missing key")
	}
	selector := act.Extract.Selector
	if act.Extract.Index > 0 {
		el, err := resolve(snap, act.Extract.Index)
		if err != nil {
			return fail(err)
		}
		selector = el.Locator
	}
	text, err := e.ctrl.InnerText(ctx, selector)
	if err != nil {
		return fail(err)
	}
	if sink != nil {
		sink.Put(act.Extract.Key, text)
	}
	return okWith(text)
}

func (e *Executor) screenshot(ctx context.Context, act Action, sink DataSink) Result {
	if act.Screenshot == nil || act.Screenshot.Key == "" {
		return failf("screenshot action missing key")
	}
	data, err := e.ctrl.Screenshot(ctx, browser.ScreenshotOptions{FullPage: act.Screenshot.FullPage})
	if err != nil {
		return fail(err)
	}
	if sink != nil {
		sink.Put(act.Screenshot.Key, data)
	}
	return okWith(fmt.Sprintf("%d bytes", len(data)))
}

func (e *Executor) tab(ctx context.Context, act Action) Result {
	if act.Tab == nil {
		return failf("tab action missing parameters")
	}
	var err error
	switch act.Tab.Op {
	case TabNew:
		err = e.ctrl.NewTab(ctx, act.Tab.URL)
	case TabClose:
		err = e.ctrl.CloseTab(ctx)
	case TabSwitch:
		err = e.ctrl.SwitchTab(ctx, act.Tab.TabID)
	case TabDuplicate:
		err = e.ctrl.DuplicateTab(ctx)
	default:
		return failf("unknown tab op %q", act.Tab.Op)
	}
	if err != nil {
		return fail(err)
	}
	return ok()
}

func (e *Executor) script(ctx context.Context, act Action, sink DataSink) Result {
	if act.Script == nil || act.Script.Source == "" {
		return failf("script action missing source")
	}
	val, err := e.ctrl.Evaluate(ctx, act.Script.Source)
	if err != nil {
		return fail(err)
	}
	if sink != nil && act.Script.Key != "" {
		sink.Put(act.Script.Key, val)
	}
	return okWith(val)
}
