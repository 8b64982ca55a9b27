// Package overlay renders numbered badges over indexed elements and captures
// a correlated screenshot. Injected artifacts never survive Annotate.
package overlay

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/browser"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

const badgeSize = 18.0

// Config bounds one annotation pass.
type Config struct {
	MaxMarkers   int
	MinWidth     float64
	MinHeight    float64
	AllowedRoles []string
}

func (c *Config) applyDefaults() {
	if c.MaxMarkers <= 0 {
		c.MaxMarkers = 50
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 10
	}
	if c.MinHeight <= 0 {
		c.MinHeight = 10
	}
	if len(c.AllowedRoles) == 0 {
		c.AllowedRoles = []string{
			"button", "link", "textbox", "searchbox", "combobox",
			"checkbox", "radio", "menuitem", "tab", "option", "switch", "slider",
		}
	}
}

// RenderedMarker records where one badge was drawn and whether its position
// was clipped away from the element's true bounds to stay inside the viewport.
type RenderedMarker struct {
	Index   int     `json:"index"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Clipped bool    `json:"clipped"`
}

// Annotation is the correlated screenshot plus the markers it shows.
type Annotation struct {
	Screenshot []byte
	Markers    []RenderedMarker
}

// Annotator injects and removes marker badges through the browser controller.
type Annotator struct {
	ctrl   browser.Controller
	cfg    Config
	logger zerolog.Logger
}

func NewAnnotator(ctrl browser.Controller, cfg Config, logger zerolog.Logger) *Annotator {
	cfg.applyDefaults()
	return &Annotator{ctrl: ctrl, cfg: cfg, logger: logger}
}

// Annotate draws one numbered badge per surviving element, captures a
// screenshot, and removes every injected artifact before returning. Cleanup
// runs on every exit path, including capture failure.
func (a *Annotator) Annotate(ctx context.Context, snap *snapshot.Snapshot) (*Annotation, error) {
	markers := selectMarkers(snap, a.cfg)
	if len(markers) == 0 {
		shot, err := a.ctrl.Screenshot(ctx, browser.ScreenshotOptions{})
		if err != nil {
			return nil, fmt.Errorf("capture screenshot: %w", err)
		}
		return &Annotation{Screenshot: shot}, nil
	}

	if _, err := a.ctrl.Evaluate(ctx, injectScript, markers); err != nil {
		a.cleanup(ctx)
		return nil, fmt.Errorf("inject markers: %w", err)
	}
	defer a.cleanup(ctx)

	shot, err := a.ctrl.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	a.logger.Debug().Int("markers", len(markers)).Msg("page annotated")
	return &Annotation{Screenshot: shot, Markers: markers}, nil
}

// cleanup is idempotent; a second call after a successful removal is a no-op.
func (a *Annotator) cleanup(ctx context.Context) {
	if _, err := a.ctrl.Evaluate(ctx, removeScript); err != nil {
		a.logger.Warn().Err(err).Msg("marker cleanup failed")
	}
}

// selectMarkers filters to visible, in-viewport, minimum-size, allow-listed
// elements; when still over the cap it re-ranks by semantic purpose, role
// importance and vertical position, then truncates.
func selectMarkers(snap *snapshot.Snapshot, cfg Config) []RenderedMarker {
	allowed := make(map[string]bool, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = true
	}

	var survivors []snapshot.IndexedElement
	for _, el := range snap.Elements {
		if !el.InViewport || el.Disabled {
			continue
		}
		if el.Rect.Width < cfg.MinWidth || el.Rect.Height < cfg.MinHeight {
			continue
		}
		if !allowed[el.Role] {
			continue
		}
		survivors = append(survivors, el)
	}

	if len(survivors) > cfg.MaxMarkers {
		sort.SliceStable(survivors, func(i, j int) bool {
			ri, rj := markerRank(survivors[i]), markerRank(survivors[j])
			if ri != rj {
				return ri > rj
			}
			return survivors[i].Rect.Y < survivors[j].Rect.Y
		})
		survivors = survivors[:cfg.MaxMarkers]
	}

	markers := make([]RenderedMarker, 0, len(survivors))
	for _, el := range survivors {
		x, y, clipped := clampBadge(el.Rect, snap.Viewport)
		markers = append(markers, RenderedMarker{Index: el.Index, X: x, Y: y, Clipped: clipped})
	}
	return markers
}

// roleWeight orders roles by how likely the planner is to act on them.
var roleWeight = map[string]int{
	"button":    7,
	"textbox":   6,
	"searchbox": 6,
	"combobox":  5,
	"link":      4,
	"checkbox":  3,
	"radio":     3,
	"menuitem":  3,
	"tab":       3,
	"switch":    2,
	"option":    2,
	"slider":    1,
}

func markerRank(el snapshot.IndexedElement) int {
	rank := roleWeight[el.Role]
	if el.Purpose != "" && el.Purpose != snapshot.PurposeNone {
		rank += 100
	}
	return rank
}

// clampBadge anchors the badge at the element's top-left corner, flipping
// inside the element near viewport edges so the badge stays fully visible.
func clampBadge(r snapshot.Rect, vp snapshot.Viewport) (x, y float64, clipped bool) {
	x = r.X - badgeSize
	y = r.Y - badgeSize
	if x < 0 {
		x = r.X
		clipped = true
	}
	if y < 0 {
		y = r.Y
		clipped = true
	}
	maxX := float64(vp.Width) - badgeSize
	maxY := float64(vp.Height) - badgeSize
	if maxX > 0 && x > maxX {
		x = maxX
		clipped = true
	}
	if maxY > 0 && y > maxY {
		y = maxY
		clipped = true
	}
	return x, y, clipped
}

const containerID = "__bte_marker_layer"

const injectScript = `(markers) => {
	const prev = document.getElementById("` + containerID + `");
	if (prev) prev.remove();
	const layer = document.createElement("div");
	layer.id = "` + containerID + `";
	layer.style.cssText = "position:fixed;inset:0;pointer-events:none;z-index:2147483647;";
	for (const m of markers) {
		const badge = document.createElement("div");
		badge.textContent = String(m.index);
		badge.style.cssText = "position:fixed;left:" + m.x + "px;top:" + m.y + "px;" +
			"min-width:18px;height:18px;line-height:18px;text-align:center;" +
			"background:#d93025;color:#fff;font:bold 11px sans-serif;" +
			"border-radius:3px;padding:0 2px;box-shadow:0 1px 2px rgba(0,0,0,.4);";
		layer.appendChild(badge);
	}
	document.documentElement.appendChild(layer);
	return markers.length;
}`

const removeScript = `() => {
	const layer = document.getElementById("` + containerID + `");
	if (layer) layer.remove();
	return true;
}`
