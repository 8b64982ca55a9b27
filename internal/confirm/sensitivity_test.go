package confirm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

func element(purpose string) *snapshot.IndexedElement {
	return &snapshot.IndexedElement{Index: 1, Role: "button", Name: "Go", Purpose: purpose}
}

func TestSensitivityClickByPurpose(t *testing.T) {
	click := action.Action{Kind: action.KindClick, Click: &action.ClickParams{Index: 1}}

	cases := []struct {
		purpose string
		want    Kind
	}{
		{snapshot.PurposeLogin, KindLogin},
		{snapshot.PurposePayment, KindPayment},
		{snapshot.PurposeCheckout, KindPayment},
		{snapshot.PurposeDelete, KindDelete},
		{snapshot.PurposeSubmit, KindFormSubmit},
		{snapshot.PurposeUpload, KindFileUpload},
	}
	for _, tc := range cases {
		kind, sensitive := Sensitivity(click, element(tc.purpose), "https://shop.example.com")
		assert.True(t, sensitive, "purpose %s", tc.purpose)
		assert.Equal(t, tc.want, kind)
	}

	_, sensitive := Sensitivity(click, element(snapshot.PurposeNone), "https://shop.example.com")
	assert.False(t, sensitive)

	_, sensitive = Sensitivity(click, nil, "https://shop.example.com")
	assert.False(t, sensitive, "unresolvable target is not sensitive")
}

func TestSensitivityTypeOnlyForCredentialLikePurposes(t *testing.T) {
	typing := action.Action{Kind: action.KindType, Type: &action.TypeParams{Index: 1, Text: "x"}}

	_, sensitive := Sensitivity(typing, element(snapshot.PurposeLogin), "https://a.com")
	assert.True(t, sensitive)

	_, sensitive = Sensitivity(typing, element(snapshot.PurposeSearch), "https://a.com")
	assert.False(t, sensitive)

	// Typing into a generic submit-purposed field is not gated; clicking it is.
	_, sensitive = Sensitivity(typing, element(snapshot.PurposeSubmit), "https://a.com")
	assert.False(t, sensitive)
}

func TestSensitivityCrossDomainNavigation(t *testing.T) {
	nav := func(url string) action.Action {
		return action.Action{Kind: action.KindNavigate, Navigate: &action.NavigateParams{URL: url}}
	}

	kind, sensitive := Sensitivity(nav("https://other.com/page"), nil, "https://example.com/home")
	assert.True(t, sensitive)
	assert.Equal(t, KindCrossDomain, kind)

	_, sensitive = Sensitivity(nav("https://example.com/next"), nil, "https://example.com/home")
	assert.False(t, sensitive)

	_, sensitive = Sensitivity(nav("https://login.example.com"), nil, "https://example.com")
	assert.False(t, sensitive, "subdomains are same-site")

	_, sensitive = Sensitivity(nav("https://other.com"), nil, "")
	assert.False(t, sensitive, "no current URL, nothing to compare against")
}

func TestSensitivityIgnoresNonInteractingKinds(t *testing.T) {
	scroll := action.Action{Kind: action.KindScroll, Scroll: &action.ScrollParams{Direction: "down"}}
	_, sensitive := Sensitivity(scroll, element(snapshot.PurposePayment), "https://a.com")
	assert.False(t, sensitive)
}

func TestDescribeIncludesTargetName(t *testing.T) {
	click := action.Action{Kind: action.KindClick, Click: &action.ClickParams{Index: 4}}
	el := &snapshot.IndexedElement{Index: 4, Name: "Place order"}
	msg := Describe(KindPayment, click, el)
	assert.Contains(t, msg, "payment")
	assert.Contains(t, msg, "click [4]")
	assert.Contains(t, msg, "Place order")
}
