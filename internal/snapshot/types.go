package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/polzovatel/browser-task-engine/internal/browser"
)

// Rect is page geometry in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the rect.
func (r Rect) Center() browser.Point {
	return browser.Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Viewport is the visible page area.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IndexedElement is one interactive element with a snapshot-local index.
// The index is only meaningful relative to the snapshot that produced it.
type IndexedElement struct {
	Index      int    `json:"index"`
	Role       string `json:"role"`
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Locator    string `json:"locator"`
	Rect       Rect   `json:"rect"`
	InViewport bool   `json:"inViewport"`
	Editable   bool   `json:"editable"`
	Clickable  bool   `json:"clickable"`
	Focusable  bool   `json:"focusable"`
	Disabled   bool   `json:"disabled"`
	Depth      int    `json:"depth"`
}

// Modal is an overlay region that may block interaction with the page.
type Modal struct {
	Locator       string `json:"locator"`
	Rect          Rect   `json:"rect"`
	Text          string `json:"text"`
	PrimaryAction string `json:"primaryAction,omitempty"`
	DismissAction string `json:"dismissAction,omitempty"`
}

// AXNode is one node of the depth-bounded accessibility tree.
type AXNode struct {
	Role     string   `json:"role"`
	Name     string   `json:"name,omitempty"`
	Children []AXNode `json:"children,omitempty"`
}

// ScrollMetrics describes the page scroll position and extent.
type ScrollMetrics struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	PageHeight  float64 `json:"pageHeight"`
	PixelsAbove float64 `json:"pixelsAbove"`
	PixelsBelow float64 `json:"pixelsBelow"`
}

// Snapshot is one immutable point-in-time view of the page. Element indices
// are unique within the snapshot, assigned in encounter order starting at 1.
type Snapshot struct {
	URL       string            `json:"url"`
	Title     string            `json:"title"`
	Viewport  Viewport          `json:"viewport"`
	Elements  []IndexedElement  `json:"elements"`
	Modals    []Modal           `json:"modals,omitempty"`
	AXTree    []AXNode          `json:"axTree,omitempty"`
	Scroll    ScrollMetrics     `json:"scroll"`
	Tabs      []browser.TabInfo `json:"tabs,omitempty"`
	Framework string            `json:"framework,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Element returns the element with the given index, or nil when the index
// does not exist in this snapshot.
func (s *Snapshot) Element(index int) *IndexedElement {
	for i := range s.Elements {
		if s.Elements[i].Index == index {
			return &s.Elements[i]
		}
	}
	return nil
}

// MaxIndex returns the highest assigned index, 0 for an empty snapshot.
func (s *Snapshot) MaxIndex() int {
	max := 0
	for i := range s.Elements {
		if s.Elements[i].Index > max {
			max = s.Elements[i].Index
		}
	}
	return max
}

// Summary renders a compact textual view for the planning service.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nSCROLL: %.0f above, %.0f below\n", s.URL, s.Title, s.Scroll.PixelsAbove, s.Scroll.PixelsBelow)
	if s.Framework != "" {
		fmt.Fprintf(&b, "FRAMEWORK: %s\n", s.Framework)
	}
	if len(s.Modals) > 0 {
		fmt.Fprintf(&b, "MODALS: %d open\n", len(s.Modals))
		for _, m := range s.Modals {
			fmt.Fprintf(&b, "  modal %q primary=%s dismiss=%s\n", truncate(m.Text, 60), m.PrimaryAction, m.DismissAction)
		}
	}
	fmt.Fprintf(&b, "ELEMENTS (%d):\n", len(s.Elements))
	for _, el := range s.Elements {
		purpose := ""
		if el.Purpose != "" && el.Purpose != PurposeNone {
			purpose = " purpose=" + el.Purpose
		}
		marker := ""
		if !el.InViewport {
			marker = " (offscreen)"
		}
		fmt.Fprintf(&b, "[%d] %s %q%s%s\n", el.Index, el.Role, truncate(el.Name, 80), purpose, marker)
	}
	if summary := s.AccessibilitySummary(); summary != "" {
		fmt.Fprintf(&b, "ACCESSIBILITY:\n%s", summary)
	}
	return b.String()
}

// AccessibilitySummary flattens the bounded AX tree into indented lines.
func (s *Snapshot) AccessibilitySummary() string {
	var b strings.Builder
	var walk func(nodes []AXNode, depth int)
	walk = func(nodes []AXNode, depth int) {
		for _, n := range nodes {
			fmt.Fprintf(&b, "%s%s %q\n", strings.Repeat("  ", depth), n.Role, truncate(n.Name, 60))
			walk(n.Children, depth+1)
		}
	}
	walk(s.AXTree, 0)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
