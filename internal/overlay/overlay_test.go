package overlay

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-task-engine/internal/browser"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// evalController implements only what the annotator touches.
type evalController struct {
	browser.Controller

	evals   []string
	shot    []byte
	shotErr error
	evalErr error
}

func (c *evalController) Evaluate(_ context.Context, script string, _ ...any) (any, error) {
	c.evals = append(c.evals, script)
	return nil, c.evalErr
}

func (c *evalController) Screenshot(context.Context, browser.ScreenshotOptions) ([]byte, error) {
	return c.shot, c.shotErr
}

func viewportSnapshot(els ...snapshot.IndexedElement) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Viewport: snapshot.Viewport{Width: 1280, Height: 720},
		Elements: els,
	}
}

func el(index int, role string, r snapshot.Rect) snapshot.IndexedElement {
	return snapshot.IndexedElement{Index: index, Role: role, Rect: r, InViewport: true}
}

func TestAnnotateInjectsAndCleansUp(t *testing.T) {
	ctrl := &evalController{shot: []byte("png")}
	a := NewAnnotator(ctrl, Config{}, zerolog.Nop())

	snap := viewportSnapshot(el(1, "button", snapshot.Rect{X: 100, Y: 100, Width: 80, Height: 30}))
	ann, err := a.Annotate(context.Background(), snap)

	require.NoError(t, err)
	assert.Equal(t, []byte("png"), ann.Screenshot)
	require.Len(t, ann.Markers, 1)
	assert.Equal(t, 1, ann.Markers[0].Index)
	// Inject then remove, in that order.
	require.Len(t, ctrl.evals, 2)
	assert.Equal(t, injectScript, ctrl.evals[0])
	assert.Equal(t, removeScript, ctrl.evals[1])
}

func TestAnnotateCleansUpWhenCaptureFails(t *testing.T) {
	ctrl := &evalController{shotErr: fmt.Errorf("page crashed")}
	a := NewAnnotator(ctrl, Config{}, zerolog.Nop())

	snap := viewportSnapshot(el(1, "button", snapshot.Rect{X: 100, Y: 100, Width: 80, Height: 30}))
	_, err := a.Annotate(context.Background(), snap)

	require.Error(t, err)
	require.Len(t, ctrl.evals, 2)
	assert.Equal(t, removeScript, ctrl.evals[1], "markers removed on the failure path")
}

func TestAnnotateNoMarkersSkipsInjection(t *testing.T) {
	ctrl := &evalController{shot: []byte("png")}
	a := NewAnnotator(ctrl, Config{}, zerolog.Nop())

	ann, err := a.Annotate(context.Background(), viewportSnapshot())

	require.NoError(t, err)
	assert.Empty(t, ann.Markers)
	assert.Empty(t, ctrl.evals, "no injection for an empty selection")
}

func TestSelectMarkersFilters(t *testing.T) {
	offscreen := el(1, "button", snapshot.Rect{X: 10, Y: 10, Width: 50, Height: 20})
	offscreen.InViewport = false
	disabled := el(2, "button", snapshot.Rect{X: 10, Y: 40, Width: 50, Height: 20})
	disabled.Disabled = true
	tiny := el(3, "button", snapshot.Rect{X: 10, Y: 70, Width: 4, Height: 4})
	plain := el(4, "generic", snapshot.Rect{X: 10, Y: 100, Width: 50, Height: 20})
	keeper := el(5, "link", snapshot.Rect{X: 100, Y: 130, Width: 50, Height: 20})

	snap := viewportSnapshot(offscreen, disabled, tiny, plain, keeper)
	cfg := Config{}
	cfg.applyDefaults()
	markers := selectMarkers(snap, cfg)

	require.Len(t, markers, 1)
	assert.Equal(t, 5, markers[0].Index)
}

func TestSelectMarkersRanksWhenOverCap(t *testing.T) {
	purposeful := el(1, "link", snapshot.Rect{X: 10, Y: 500, Width: 50, Height: 20})
	purposeful.Purpose = snapshot.PurposeCheckout
	topButton := el(2, "button", snapshot.Rect{X: 10, Y: 10, Width: 50, Height: 20})
	lowButton := el(3, "button", snapshot.Rect{X: 10, Y: 300, Width: 50, Height: 20})

	snap := viewportSnapshot(topButton, lowButton, purposeful)
	cfg := Config{MaxMarkers: 2}
	cfg.applyDefaults()
	markers := selectMarkers(snap, cfg)

	require.Len(t, markers, 2)
	// Purpose outranks role weight; the remaining slot goes to the higher button.
	assert.Equal(t, 1, markers[0].Index)
	assert.Equal(t, 2, markers[1].Index)
}

func TestClampBadge(t *testing.T) {
	vp := snapshot.Viewport{Width: 1280, Height: 720}

	// Room above and left: badge sits outside the element's corner.
	x, y, clipped := clampBadge(snapshot.Rect{X: 100, Y: 100, Width: 50, Height: 20}, vp)
	assert.Equal(t, 100.0-badgeSize, x)
	assert.Equal(t, 100.0-badgeSize, y)
	assert.False(t, clipped)

	// Near the origin the badge flips inside the element.
	x, y, clipped = clampBadge(snapshot.Rect{X: 5, Y: 5, Width: 50, Height: 20}, vp)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 5.0, y)
	assert.True(t, clipped)

	// Past the bottom-right edge it clamps to stay inside the viewport.
	x, y, clipped = clampBadge(snapshot.Rect{X: 1290, Y: 730, Width: 50, Height: 20}, vp)
	assert.Equal(t, float64(vp.Width)-badgeSize, x)
	assert.Equal(t, float64(vp.Height)-badgeSize, y)
	assert.True(t, clipped)
}
