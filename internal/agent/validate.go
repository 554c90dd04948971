package agent

import (
	"strings"

	"github.com/warmloop/agent/internal/browser"
	"github.com/warmloop/agent/internal/snapshot"
)

// ValidateFunc decides whether a cached action is plausible against the
// current observation. Replacing it swaps the trust policy without touching
// the planner.
type ValidateFunc func(action string, sum snapshot.Summary) bool

// DefaultValidator accepts an action when it carries no element dependency,
// or when its target matches something actually observed on the page. A
// stale macro pointing at an element that no longer exists is rejected here
// instead of burning a step on a doomed click.
func DefaultValidator(action string, sum snapshot.Summary) bool {
	parsed := browser.ParseAction(action)
	if parsed.Verb == browser.VerbUnknown {
		return false
	}
	if parsed.GenericVerb() {
		return true
	}
	switch parsed.Verb {
	case browser.VerbClick:
		return labelMatch(parsed.Target, sum.ActionLabels) ||
			labelMatch(parsed.Target, sum.ButtonTexts)
	case browser.VerbFill:
		return labelMatch(parsed.Target, sum.FormLabels) ||
			labelMatch(parsed.Target, sum.ActionLabels)
	default:
		return false
	}
}

// labelMatch is a loose containment check in either direction, so
// "Checkout" matches an observed "Checkout Now" and vice versa.
func labelMatch(target string, labels []string) bool {
	want := normalizeLabel(target)
	if want == "" {
		return false
	}
	for _, l := range labels {
		have := normalizeLabel(l)
		if have == "" {
			continue
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
	}
	return false
}

func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
