package confirm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// purposeKinds maps an element's semantic purpose tag to the confirmation
// kind it implies. Evaluated only for interacting actions (click, type,
// select, keypress on a resolved element).
var purposeKinds = map[string]Kind{
	snapshot.PurposeLogin:    KindLogin,
	snapshot.PurposePayment:  KindPayment,
	snapshot.PurposeCheckout: KindPayment,
	snapshot.PurposeDelete:   KindDelete,
	snapshot.PurposeSubmit:   KindFormSubmit,
	snapshot.PurposeUpload:   KindFileUpload,
}

// Sensitivity classifies a proposed action. target is the element the action
// references in the snapshot it was proposed against (nil when the action
// has no element target). currentURL grounds the cross-domain check.
func Sensitivity(act action.Action, target *snapshot.IndexedElement, currentURL string) (Kind, bool) {
	switch act.Kind {
	case action.KindNavigate:
		if act.Navigate != nil && crossDomain(currentURL, act.Navigate.URL) {
			return KindCrossDomain, true
		}
		return "", false
	case action.KindClick, action.KindSelect:
		if target == nil {
			return "", false
		}
		if kind, ok := purposeKinds[target.Purpose]; ok {
			return kind, true
		}
		return "", false
	case action.KindType:
		if target == nil {
			return "", false
		}
		switch target.Purpose {
		case snapshot.PurposeLogin:
			return KindLogin, true
		case snapshot.PurposePayment:
			return KindPayment, true
		case snapshot.PurposeUpload:
			return KindFileUpload, true
		}
		return "", false
	default:
		return "", false
	}
}

// Describe renders the confirmation message shown to the human.
func Describe(kind Kind, act action.Action, target *snapshot.IndexedElement) string {
	detail := act.Describe()
	if target != nil && target.Name != "" {
		detail = fmt.Sprintf("%s on %q", detail, target.Name)
	}
	return fmt.Sprintf("Sensitive action (%s): %s", kind, detail)
}

func crossDomain(currentURL, targetURL string) bool {
	cur, err := url.Parse(currentURL)
	if err != nil || cur.Hostname() == "" {
		return false
	}
	next, err := url.Parse(targetURL)
	if err != nil || next.Hostname() == "" {
		return false
	}
	return !sameSite(cur.Hostname(), next.Hostname())
}

// sameSite compares registrable domains naively: equal hosts, or one being
// a subdomain of the other.
func sameSite(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
