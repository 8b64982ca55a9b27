// Package action defines the closed set of browser actions the engine can
// execute and the executor that dispatches them.
package action

import (
	"fmt"
	"strings"
)

// Kind enumerates the supported action variants.
type Kind string

const (
	KindClick      Kind = "click"
	KindType       Kind = "type"
	KindScroll     Kind = "scroll"
	KindNavigate   Kind = "navigate"
	KindWait       Kind = "wait"
	KindKeypress   Kind = "keypress"
	KindHover      Kind = "hover"
	KindSelect     Kind = "select"
	KindExtract    Kind = "extract"
	KindScreenshot Kind = "screenshot"
	KindTab        Kind = "tab"
	KindScript     Kind = "script"
)

// Action is a closed variant: exactly the params struct matching Kind is set.
// Element indices always refer to the snapshot the action was proposed
// against; they are re-resolved at execution time.
type Action struct {
	Kind       Kind              `json:"kind"`
	Click      *ClickParams      `json:"click,omitempty"`
	Type       *TypeParams       `json:"type,omitempty"`
	Scroll     *ScrollParams     `json:"scroll,omitempty"`
	Navigate   *NavigateParams   `json:"navigate,omitempty"`
	Wait       *WaitParams       `json:"wait,omitempty"`
	Keypress   *KeypressParams   `json:"keypress,omitempty"`
	Hover      *HoverParams      `json:"hover,omitempty"`
	Select     *SelectParams     `json:"select,omitempty"`
	Extract    *ExtractParams    `json:"extract,omitempty"`
	Screenshot *ScreenshotParams `json:"screenshot,omitempty"`
	Tab        *TabParams        `json:"tab,omitempty"`
	Script     *ScriptParams     `json:"script,omitempty"`
}

type ClickParams struct {
	Index int `json:"index"`
}

type TypeParams struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Clear bool   `json:"clear,omitempty"`
}

type ScrollParams struct {
	// Direction is one of up, down, top, bottom.
	Direction string `json:"direction"`
	Amount    int    `json:"amount,omitempty"`
}

type NavigateParams struct {
	URL        string `json:"url"`
	WaitPolicy string `json:"waitPolicy,omitempty"`
	TimeoutMs  int    `json:"timeoutMs,omitempty"`
}

// WaitPredicate selects what a wait action waits for.
type WaitPredicate string

const (
	WaitDelay       WaitPredicate = "delay"
	WaitVisible     WaitPredicate = "visible"
	WaitAttached    WaitPredicate = "attached"
	WaitNavigation  WaitPredicate = "navigation"
	WaitIdle        WaitPredicate = "idle"
	WaitPredicateJS WaitPredicate = "predicate"
	WaitURL         WaitPredicate = "url"
	WaitText        WaitPredicate = "text"
)

type WaitParams struct {
	For        WaitPredicate `json:"for"`
	DurationMs int           `json:"durationMs,omitempty"`
	TimeoutMs  int           `json:"timeoutMs,omitempty"`
	Index      int           `json:"index,omitempty"`
	Selector   string        `json:"selector,omitempty"`
	URLPattern string        `json:"urlPattern,omitempty"`
	Text       string        `json:"text,omitempty"`
	Predicate  string        `json:"predicate,omitempty"`
}

type KeypressParams struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type HoverParams struct {
	Index int `json:"index"`
}

type SelectParams struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

type ExtractParams struct {
	// Key names the entry in the task's extracted-data map.
	Key      string `json:"key"`
	Index    int    `json:"index,omitempty"`
	Selector string `json:"selector,omitempty"`
}

type ScreenshotParams struct {
	Key      string `json:"key"`
	FullPage bool   `json:"fullPage,omitempty"`
}

// TabOp enumerates tab lifecycle operations.
type TabOp string

const (
	TabNew       TabOp = "new"
	TabClose     TabOp = "close"
	TabSwitch    TabOp = "switch"
	TabDuplicate TabOp = "duplicate"
)

type TabParams struct {
	Op    TabOp  `json:"op"`
	URL   string `json:"url,omitempty"`
	TabID int    `json:"tabId,omitempty"`
}

type ScriptParams struct {
	Source string `json:"source"`
	Key    string `json:"key,omitempty"`
}

// Result reports one execution. Handlers never panic; failure is always
// expressed here.
type Result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Extracted any    `json:"extracted,omitempty"`
}

func ok() Result                { return Result{Success: true} }
func okWith(payload any) Result { return Result{Success: true, Extracted: payload} }
func fail(err error) Result     { return Result{Success: false, Error: err.Error()} }

func failf(format string, a ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, a...)}
}

// TargetIndex reports the snapshot index the action references, if any.
func (a Action) TargetIndex() (int, bool) {
	switch a.Kind {
	case KindClick:
		if a.Click != nil {
			return a.Click.Index, true
		}
	case KindType:
		if a.Type != nil {
			return a.Type.Index, true
		}
	case KindHover:
		if a.Hover != nil {
			return a.Hover.Index, true
		}
	case KindSelect:
		if a.Select != nil {
			return a.Select.Index, true
		}
	case KindWait:
		if a.Wait != nil && a.Wait.Index > 0 {
			return a.Wait.Index, true
		}
	case KindExtract:
		if a.Extract != nil && a.Extract.Index > 0 {
			return a.Extract.Index, true
		}
	}
	return 0, false
}

// Describe renders a short human-readable form for logs and history.
func (a Action) Describe() string {
	switch a.Kind {
	case KindClick:
		if a.Click != nil {
			return fmt.Sprintf("click [%d]", a.Click.Index)
		}
	case KindType:
		if a.Type != nil {
			return fmt.Sprintf("type [%d] %q", a.Type.Index, shorten(a.Type.Text, 30))
		}
	case KindScroll:
		if a.Scroll != nil {
			return fmt.Sprintf("scroll %s %d", a.Scroll.Direction, a.Scroll.Amount)
		}
	case KindNavigate:
		if a.Navigate != nil {
			return fmt.Sprintf("navigate %s", a.Navigate.URL)
		}
	case KindWait:
		if a.Wait != nil {
			return fmt.Sprintf("wait for=%s", a.Wait.For)
		}
	case KindKeypress:
		if a.Keypress != nil {
			combo := a.Keypress.Key
			if len(a.Keypress.Modifiers) > 0 {
				combo = strings.Join(a.Keypress.Modifiers, "+") + "+" + combo
			}
			return fmt.Sprintf("keypress %s", combo)
		}
	case KindHover:
		if a.Hover != nil {
			return fmt.Sprintf("hover [%d]", a.Hover.Index)
		}
	case KindSelect:
		if a.Select != nil {
			return fmt.Sprintf("select [%d] %q", a.Select.Index, a.Select.Value)
		}
	case KindExtract:
		if a.Extract != nil {
			return fmt.Sprintf("extract key=%s", a.Extract.Key)
		}
	case KindScreenshot:
		if a.Screenshot != nil {
			return fmt.Sprintf("screenshot key=%s", a.Screenshot.Key)
		}
	case KindTab:
		if a.Tab != nil {
			return fmt.Sprintf("tab %s", a.Tab.Op)
		}
	case KindScript:
		return "script"
	}
	return string(a.Kind)
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
