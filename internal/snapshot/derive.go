package snapshot

import (
	"fmt"
	"strings"
)

// rawElement is what the in-page probe returns for one candidate node,
// before any Go-side derivation.
type rawElement struct {
	Tag         string  `json:"tag"`
	Role        string  `json:"role"`
	Type        string  `json:"type"`
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Class       string  `json:"class"`
	Href        string  `json:"href"`
	AriaLabel   string  `json:"ariaLabel"`
	LabelText   string  `json:"labelText"`
	Title       string  `json:"title"`
	Placeholder string  `json:"placeholder"`
	Text        string  `json:"text"`
	TestID      string  `json:"testId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	InViewport  bool    `json:"inViewport"`
	Editable    bool    `json:"editable"`
	Clickable   bool    `json:"clickable"`
	Focusable   bool    `json:"focusable"`
	Disabled    bool    `json:"disabled"`
	Depth       int     `json:"depth"`
	XPath       string  `json:"xpath"`
}

// Semantic purpose tags. PurposeNone is the default when no rule matches.
const (
	PurposeLogin    = "login"
	PurposeSignup   = "signup"
	PurposeSearch   = "search"
	PurposeCart     = "cart"
	PurposeCheckout = "checkout"
	PurposePayment  = "payment"
	PurposeSubmit   = "submit"
	PurposeDelete   = "delete"
	PurposeUpload   = "upload"
	PurposeDismiss  = "dismiss"
	PurposeNone     = "none"
)

// purposeRule tags an element when any keyword appears in its combined
// id/class/name/text/type/href haystack. Rules are evaluated in order,
// first match wins.
type purposeRule struct {
	keywords []string
	tag      string
}

var purposeRules = []purposeRule{
	{[]string{"sign-up", "signup", "register", "create account", "create-account"}, PurposeSignup},
	{[]string{"log-in", "login", "sign-in", "signin", "auth", "password"}, PurposeLogin},
	{[]string{"search", "query", "magnify"}, PurposeSearch},
	{[]string{"checkout", "place order", "place-order"}, PurposeCheckout},
	{[]string{"payment", "credit card", "card-number", "cardnumber", "billing", "pay now", "paynow"}, PurposePayment},
	{[]string{"cart", "basket", "add to bag", "add-to-bag"}, PurposeCart},
	{[]string{"delete", "remove", "trash", "discard"}, PurposeDelete},
	{[]string{"upload", "attach", "file-input"}, PurposeUpload},
	{[]string{"dismiss", "close", "cancel"}, PurposeDismiss},
	{[]string{"submit", "send", "confirm", "apply"}, PurposeSubmit},
}

// inferPurpose runs the ordered keyword table over the element's
// identifying attributes and visible text.
func inferPurpose(raw rawElement) string {
	haystack := strings.ToLower(strings.Join([]string{
		raw.ID, raw.Class, raw.Name, raw.Text, raw.AriaLabel, raw.Type, raw.Href,
	}, " "))
	for _, rule := range purposeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.tag
			}
		}
	}
	return PurposeNone
}

// accessibleName resolves the element's label by priority: explicit
// aria-label, linked <label>, title/placeholder, then trimmed text.
func accessibleName(raw rawElement) string {
	for _, candidate := range []string{raw.AriaLabel, raw.LabelText, raw.Title, raw.Placeholder} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return strings.TrimSpace(raw.Text)
}

// inferRole maps an element to an accessibility role. An explicit role
// attribute wins; otherwise the tag (and input type) decides.
func inferRole(raw rawElement) string {
	if role := strings.TrimSpace(strings.ToLower(raw.Role)); role != "" {
		return role
	}
	tag := strings.ToLower(raw.Tag)
	typ := strings.ToLower(raw.Type)
	switch tag {
	case "a":
		if raw.Href != "" {
			return "link"
		}
		return "generic"
	case "button":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		switch typ {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "file":
			return "button"
		case "search":
			return "searchbox"
		default:
			return "textbox"
		}
	case "option":
		return "option"
	case "summary":
		return "button"
	default:
		return "generic"
	}
}

// buildLocator prefers a stable id-based locator, then a minimal composite
// of discriminating attributes, then the raw xpath as last resort.
func buildLocator(raw rawElement) string {
	if id := strings.TrimSpace(raw.ID); id != "" && !strings.ContainsAny(id, " \t\n") {
		return "#" + cssEscape(id)
	}
	if testID := strings.TrimSpace(raw.TestID); testID != "" {
		return fmt.Sprintf(`[data-testid=%q]`, testID)
	}
	tag := strings.ToLower(raw.Tag)
	if name := strings.TrimSpace(raw.Name); name != "" {
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	}
	if label := strings.TrimSpace(raw.AriaLabel); label != "" && !strings.Contains(label, "\n") {
		return fmt.Sprintf(`%s[aria-label=%q]`, tag, shorten(label, 60))
	}
	if raw.XPath != "" {
		return "xpath=" + raw.XPath
	}
	return tag
}

// processElements derives the indexed view from the raw probe records:
// visible elements only, encounter order, indices from 1, count capped.
func processElements(raws []rawElement, maxCount int) []IndexedElement {
	out := make([]IndexedElement, 0, len(raws))
	for _, raw := range raws {
		if raw.Width <= 0 || raw.Height <= 0 {
			continue
		}
		if len(out) >= maxCount {
			break
		}
		out = append(out, IndexedElement{
			Index:      len(out) + 1,
			Role:       inferRole(raw),
			Name:       shorten(accessibleName(raw), 200),
			Purpose:    inferPurpose(raw),
			Locator:    buildLocator(raw),
			Rect:       Rect{X: raw.X, Y: raw.Y, Width: raw.Width, Height: raw.Height},
			InViewport: raw.InViewport,
			Editable:   raw.Editable,
			Clickable:  raw.Clickable,
			Focusable:  raw.Focusable,
			Disabled:   raw.Disabled,
			Depth:      raw.Depth,
		})
	}
	return out
}

func cssEscape(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, `\%c`, r)
		}
	}
	return b.String()
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
