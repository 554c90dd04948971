package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Verb classifies a one-line action description. Macro replays and fresh
// LLM output go through the same parse, which is what makes cached actions
// replayable by the same resolution path.
type Verb string

const (
	VerbClick    Verb = "click"
	VerbFill     Verb = "fill"
	VerbNavigate Verb = "navigate"
	VerbScroll   Verb = "scroll"
	VerbWait     Verb = "wait"
	VerbBack     Verb = "back"
	VerbReload   Verb = "reload"
	VerbPressKey Verb = "press_key"
	VerbUnknown  Verb = ""
)

// ParsedAction is the structured view of a free-text action line.
type ParsedAction struct {
	Verb      Verb
	Target    string // element text / field label / URL
	Value     string // fill value
	Direction string // scroll direction
}

var clickVerbs = []string{"click", "press", "tap", "select", "choose", "toggle", "check"}
var fillVerbs = []string{"fill", "type", "enter", "input", "write"}

// ParseAction interprets one action line. It is intentionally lenient:
// anything it cannot classify comes back as VerbUnknown and resolves to an
// empty candidate list, which the run loop treats as a retry, not an error.
func ParseAction(line string) ParsedAction {
	text := strings.TrimSpace(line)
	lower := strings.ToLower(text)
	switch {
	case lower == "":
		return ParsedAction{}
	case lower == "go back" || lower == "back" || strings.HasPrefix(lower, "navigate back"):
		return ParsedAction{Verb: VerbBack}
	case strings.HasPrefix(lower, "reload") || strings.HasPrefix(lower, "refresh"):
		return ParsedAction{Verb: VerbReload}
	case strings.HasPrefix(lower, "wait"):
		return ParsedAction{Verb: VerbWait}
	case strings.HasPrefix(lower, "scroll"):
		dir := "down"
		if strings.Contains(lower, "up") || strings.Contains(lower, "top") {
			dir = "up"
		}
		return ParsedAction{Verb: VerbScroll, Direction: dir}
	case strings.HasPrefix(lower, "navigate") || strings.HasPrefix(lower, "go to") || strings.HasPrefix(lower, "open http"):
		if url := extractURL(text); url != "" {
			return ParsedAction{Verb: VerbNavigate, Target: url}
		}
		return ParsedAction{}
	}

	for _, v := range fillVerbs {
		if strings.HasPrefix(lower, v+" ") {
			if target, value, ok := splitFill(text[len(v)+1:]); ok {
				return ParsedAction{Verb: VerbFill, Target: target, Value: value}
			}
		}
	}
	for _, v := range clickVerbs {
		if strings.HasPrefix(lower, v+" ") {
			target := extractTarget(text[len(v)+1:])
			if strings.EqualFold(target, "enter") {
				return ParsedAction{Verb: VerbPressKey, Target: "Enter"}
			}
			if target == "" {
				return ParsedAction{}
			}
			return ParsedAction{Verb: VerbClick, Target: target}
		}
	}
	return ParsedAction{}
}

// GenericVerb reports whether the parsed action carries no element
// dependency, i.e. it can be replayed on any page state.
func (a ParsedAction) GenericVerb() bool {
	switch a.Verb {
	case VerbScroll, VerbWait, VerbBack, VerbReload, VerbNavigate, VerbPressKey:
		return true
	default:
		return false
	}
}

func extractURL(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `"'().,`)
		if strings.Contains(tok, "://") || strings.HasPrefix(tok, "www.") {
			return tok
		}
	}
	return ""
}

// splitFill separates "Email with jane@x.com" or the reversed
// "jane@x.com into Email" form into field and value.
func splitFill(rest string) (target, value string, ok bool) {
	lower := strings.ToLower(rest)
	for _, sep := range []string{" with ", " as ", " to ", " = "} {
		if i := strings.Index(lower, sep); i > 0 {
			return extractTarget(rest[:i]), strings.Trim(strings.TrimSpace(rest[i+len(sep):]), `"'`), true
		}
	}
	for _, sep := range []string{" into ", " in "} {
		if i := strings.Index(lower, sep); i > 0 {
			return extractTarget(rest[i+len(sep):]), strings.Trim(strings.TrimSpace(rest[:i]), `"'`), true
		}
	}
	return "", "", false
}

var articleWords = map[string]bool{"the": true, "a": true, "an": true, "on": true}
var trailingNouns = map[string]bool{
	"button": true, "link": true, "field": true, "input": true, "box": true,
	"checkbox": true, "option": true, "tab": true, "icon": true, "menu": true, "item": true,
}

// extractTarget pulls the element text out of the tail of an action line.
// A quoted span wins; otherwise leading articles and a trailing element
// noun are stripped ("the Checkout button" -> "Checkout").
func extractTarget(rest string) string {
	rest = strings.TrimSpace(rest)
	for _, q := range []byte{'"', '\''} {
		if i := strings.IndexByte(rest, q); i >= 0 {
			if j := strings.IndexByte(rest[i+1:], q); j >= 0 {
				return strings.TrimSpace(rest[i+1 : i+1+j])
			}
		}
	}
	words := strings.Fields(rest)
	for len(words) > 0 && articleWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	if len(words) > 1 && trailingNouns[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// candidate pairs a description with the closure that performs it.
type candidate struct {
	desc string
	run  func(ctx context.Context) error
}

func (c candidate) Describe() string                  { return c.desc }
func (c candidate) Perform(ctx context.Context) error { return c.run(ctx) }

// Observe resolves an action description into an ordered fallback chain of
// concrete interactions. The first candidate is the preferred one; an empty
// list means the description matched nothing resolvable on this page.
func (c *controller) Observe(ctx context.Context, action string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed := ParseAction(action)
	switch parsed.Verb {
	case VerbNavigate:
		url := parsed.Target
		return []Candidate{candidate{
			desc: fmt.Sprintf("navigate to %s", url),
			run:  func(ctx context.Context) error { return c.Navigate(ctx, url) },
		}}, nil
	case VerbBack:
		return []Candidate{candidate{desc: "go back", run: c.Back}}, nil
	case VerbReload:
		return []Candidate{candidate{desc: "reload page", run: c.Reload}}, nil
	case VerbWait:
		return []Candidate{candidate{desc: "wait for page to settle", run: c.waitSettled}}, nil
	case VerbScroll:
		dir := parsed.Direction
		return []Candidate{candidate{
			desc: fmt.Sprintf("scroll %s", dir),
			run:  func(ctx context.Context) error { return c.scroll(ctx, dir) },
		}}, nil
	case VerbPressKey:
		key := parsed.Target
		return []Candidate{candidate{
			desc: fmt.Sprintf("press %s", key),
			run:  func(ctx context.Context) error { return c.pressKey(ctx, key) },
		}}, nil
	case VerbClick:
		return c.clickCandidates(parsed.Target), nil
	case VerbFill:
		return c.fillCandidates(parsed.Target, parsed.Value), nil
	default:
		return nil, nil
	}
}

// clickCandidates builds the click fallback ladder: role locator first,
// then exact text, then fuzzy text.
func (c *controller) clickCandidates(target string) []Candidate {
	roles := []playwright.AriaRole{"button", "link"}
	out := make([]Candidate, 0, len(roles)+2)
	for _, role := range roles {
		role := role
		out = append(out, candidate{
			desc: fmt.Sprintf("click %s %q", role, target),
			run: func(ctx context.Context) error {
				return c.clickRole(ctx, role, target)
			},
		})
	}
	out = append(out,
		candidate{
			desc: fmt.Sprintf("click text %q", target),
			run:  func(ctx context.Context) error { return c.clickText(ctx, target, true) },
		},
		candidate{
			desc: fmt.Sprintf("click text ~%q", target),
			run:  func(ctx context.Context) error { return c.clickText(ctx, target, false) },
		},
	)
	return out
}

func (c *controller) fillCandidates(field, value string) []Candidate {
	if field == "" || value == "" {
		return nil
	}
	return []Candidate{
		candidate{
			desc: fmt.Sprintf("fill field labeled %q", field),
			run: func(ctx context.Context) error {
				return c.fillLocator(ctx, c.page.GetByLabel(field, playwright.PageGetByLabelOptions{Exact: playwright.Bool(false)}), value)
			},
		},
		candidate{
			desc: fmt.Sprintf("fill field placeholder %q", field),
			run: func(ctx context.Context) error {
				return c.fillLocator(ctx, c.page.GetByPlaceholder(field), value)
			},
		},
		candidate{
			desc: fmt.Sprintf("fill field named %q", field),
			run: func(ctx context.Context) error {
				name := strings.ToLower(strings.ReplaceAll(field, " ", "-"))
				return c.fillLocator(ctx, c.page.Locator(fmt.Sprintf("[name*=%q],[id*=%q]", name, name)), value)
			},
		},
	}
}

func (c *controller) clickRole(ctx context.Context, role playwright.AriaRole, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.GetByRole(role, playwright.PageGetByRoleOptions{
		Name:  name,
		Exact: playwright.Bool(false),
	}).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(3000),
	}); err != nil {
		return wrap(err)
	}
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		// click may still succeed, keep going
	}
	return wrap(loc.Click())
}

func (c *controller) clickText(ctx context.Context, text string, exact bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := c.page.GetByText(text, playwright.PageGetByTextOptions{
		Exact: playwright.Bool(exact),
	}).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(3000),
	}); err != nil {
		return wrap(err)
	}
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		// best effort
	}
	return wrap(loc.Click())
}

func (c *controller) fillLocator(ctx context.Context, loc playwright.Locator, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := loc.First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(3000),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Fill(value))
}

func (c *controller) pressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Keyboard().Press(key))
}

func (c *controller) scroll(ctx context.Context, direction string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script := `(dir) => {
		const amount = Math.max(window.innerHeight || 0, 600);
		window.scrollBy(0, dir === "up" ? -amount : amount);
	}`
	_, err := c.page.Evaluate(script, direction)
	return wrap(err)
}

// waitSettled blocks until network idle or a short timeout; used for the
// "wait" action and after loop-breaker navigation.
func (c *controller) waitSettled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// settling is best effort; a busy page is not an error
	_ = c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64((2 * time.Second).Milliseconds())),
	})
	return nil
}
