package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferPurpose(t *testing.T) {
	cases := []struct {
		raw  rawElement
		want string
	}{
		{rawElement{ID: "login-btn"}, PurposeLogin},
		{rawElement{Class: "btn signup-cta"}, PurposeSignup},
		{rawElement{Type: "password"}, PurposeLogin},
		{rawElement{Text: "Search products"}, PurposeSearch},
		{rawElement{Text: "Place Order", Class: "primary"}, PurposeCheckout},
		{rawElement{Name: "cardNumber"}, PurposePayment},
		{rawElement{Class: "add-to-cart"}, PurposeCart},
		{rawElement{AriaLabel: "Remove item"}, PurposeDelete},
		{rawElement{Text: "Upload resume"}, PurposeUpload},
		{rawElement{AriaLabel: "Close dialog"}, PurposeDismiss},
		{rawElement{Type: "submit"}, PurposeSubmit},
		{rawElement{Text: "Read more"}, PurposeNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inferPurpose(tc.raw), "raw %+v", tc.raw)
	}
}

func TestInferPurposeOrder(t *testing.T) {
	// "signin" outranks the generic submit keywords.
	raw := rawElement{ID: "signin", Type: "submit"}
	assert.Equal(t, PurposeLogin, inferPurpose(raw))
}

func TestAccessibleNamePriority(t *testing.T) {
	raw := rawElement{
		AriaLabel:   "Search the site",
		LabelText:   "Query",
		Placeholder: "type here",
		Text:        "  visible  ",
	}
	assert.Equal(t, "Search the site", accessibleName(raw))

	raw.AriaLabel = ""
	assert.Equal(t, "Query", accessibleName(raw))

	raw.LabelText = ""
	assert.Equal(t, "type here", accessibleName(raw))

	raw.Placeholder = "  "
	assert.Equal(t, "visible", accessibleName(raw))
}

func TestInferRole(t *testing.T) {
	cases := []struct {
		raw  rawElement
		want string
	}{
		{rawElement{Tag: "div", Role: "Button"}, "button"},
		{rawElement{Tag: "a", Href: "/x"}, "link"},
		{rawElement{Tag: "a"}, "generic"},
		{rawElement{Tag: "button"}, "button"},
		{rawElement{Tag: "select"}, "combobox"},
		{rawElement{Tag: "textarea"}, "textbox"},
		{rawElement{Tag: "input", Type: "submit"}, "button"},
		{rawElement{Tag: "input", Type: "checkbox"}, "checkbox"},
		{rawElement{Tag: "input", Type: "search"}, "searchbox"},
		{rawElement{Tag: "input", Type: "email"}, "textbox"},
		{rawElement{Tag: "input"}, "textbox"},
		{rawElement{Tag: "summary"}, "button"},
		{rawElement{Tag: "span"}, "generic"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inferRole(tc.raw), "raw %+v", tc.raw)
	}
}

func TestBuildLocator(t *testing.T) {
	assert.Equal(t, "#submit-btn", buildLocator(rawElement{Tag: "button", ID: "submit-btn"}))
	assert.Equal(t, `[data-testid="cta"]`, buildLocator(rawElement{Tag: "button", TestID: "cta"}))
	assert.Equal(t, `input[name="q"]`, buildLocator(rawElement{Tag: "input", Name: "q"}))
	assert.Equal(t, `button[aria-label="Close"]`, buildLocator(rawElement{Tag: "button", AriaLabel: "Close"}))
	assert.Equal(t, "xpath=/html/body/div[2]/button", buildLocator(rawElement{Tag: "button", XPath: "/html/body/div[2]/button"}))
	assert.Equal(t, "button", buildLocator(rawElement{Tag: "button"}))

	// An id containing whitespace is not a usable css id selector.
	assert.Equal(t, "xpath=/a", buildLocator(rawElement{Tag: "a", ID: "bad id", XPath: "/a"}))
}

func TestProcessElementsIndexing(t *testing.T) {
	raws := []rawElement{
		{Tag: "button", ID: "one", Width: 40, Height: 20, InViewport: true},
		{Tag: "a", Href: "/x", Width: 0, Height: 0},
		{Tag: "input", Name: "q", Width: 120, Height: 24, InViewport: true, Editable: true},
		{Tag: "button", ID: "two", Width: 40, Height: 20},
	}

	got := processElements(raws, 150)
	require.Len(t, got, 3, "zero-size element is skipped")

	// Encounter order, indices from 1, no gap for the skipped element.
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, "#one", got[0].Locator)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, "textbox", got[1].Role)
	assert.Equal(t, 3, got[2].Index)
	assert.False(t, got[2].InViewport)
}

func TestProcessElementsCap(t *testing.T) {
	raws := make([]rawElement, 10)
	for i := range raws {
		raws[i] = rawElement{Tag: "button", Width: 10, Height: 10}
	}
	got := processElements(raws, 4)
	require.Len(t, got, 4)
	assert.Equal(t, 4, got[3].Index)
}

func TestSnapshotElementLookup(t *testing.T) {
	snap := &Snapshot{Elements: []IndexedElement{
		{Index: 1, Name: "a"},
		{Index: 2, Name: "b"},
	}}
	require.NotNil(t, snap.Element(2))
	assert.Equal(t, "b", snap.Element(2).Name)
	assert.Nil(t, snap.Element(3), "stale index resolves to nothing")
	assert.Equal(t, 2, snap.MaxIndex())
	assert.Equal(t, 0, (&Snapshot{}).MaxIndex())
}

func TestSummaryListsElementsAndModals(t *testing.T) {
	snap := &Snapshot{
		URL:   "https://example.com",
		Title: "Example",
		Elements: []IndexedElement{
			{Index: 1, Role: "button", Name: "Buy", Purpose: PurposeCheckout, InViewport: true},
			{Index: 2, Role: "link", Name: "Help", InViewport: false},
		},
		Modals: []Modal{{Text: "Accept cookies?", PrimaryAction: "#accept", DismissAction: "#reject"}},
	}
	s := snap.Summary()
	assert.Contains(t, s, "[1] button \"Buy\" purpose=checkout")
	assert.Contains(t, s, "(offscreen)")
	assert.Contains(t, s, "MODALS: 1 open")
	assert.Contains(t, s, "Accept cookies?")
}
