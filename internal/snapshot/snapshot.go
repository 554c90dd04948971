// Package snapshot collects the compact page observation the run loop
// works from: the fingerprint inputs (host, path, heading, form labels,
// button texts) plus the actionable-element labels the planner and macro
// validator consult.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/warmloop/agent/internal/browser"
	"github.com/warmloop/agent/internal/fingerprint"
)

// Summary is a compact view of the current page state.
type Summary struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Heading      string   `json:"heading"`
	Visible      string   `json:"visible"`
	FormLabels   []string `json:"form_labels"`
	ButtonTexts  []string `json:"button_texts"`
	ActionLabels []string `json:"action_labels"`
}

// Fingerprint derives the page-state identifier for this observation.
func (s Summary) Fingerprint() string {
	host, path := splitURL(s.URL)
	return fingerprint.Compute(host, path, s.Heading, s.FormLabels, s.ButtonTexts)
}

func splitURL(raw string) (host, path string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, "/"
	}
	return u.Hostname(), u.Path
}

// pageFacts mirrors the object the in-page script returns.
type pageFacts struct {
	Heading     string   `json:"heading"`
	FormLabels  []string `json:"formLabels"`
	ButtonTexts []string `json:"buttonTexts"`
}

const factsScript = `() => {
	const clean = (s) => (s || "").trim().split("\n")[0].slice(0, 80);
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		return r.width > 0 || r.height > 0;
	};

	let heading = "";
	for (const h of document.querySelectorAll("h1,h2,[role='heading']")) {
		if (visible(h) && clean(h.innerText)) { heading = clean(h.innerText); break; }
	}

	const formLabels = [];
	for (const el of document.querySelectorAll("input,select,textarea")) {
		if (!visible(el)) continue;
		let label = "";
		if (el.id) {
			const l = document.querySelector("label[for='" + CSS.escape(el.id) + "']");
			if (l) label = clean(l.innerText);
		}
		if (!label) label = clean(el.getAttribute("aria-label") || el.getAttribute("placeholder") || el.getAttribute("name"));
		if (label && !formLabels.includes(label)) formLabels.push(label);
	}

	const buttonTexts = [];
	for (const el of document.querySelectorAll("button,[role='button'],input[type='submit'],input[type='button']")) {
		if (!visible(el)) continue;
		const text = clean(el.innerText || el.value || el.getAttribute("aria-label"));
		if (text && !buttonTexts.includes(text)) buttonTexts.push(text);
	}

	return { heading, formLabels, buttonTexts };
}`

// Collect gathers one observation from the live page. Partial failures
// degrade to empty fields rather than failing the step; when every probe
// fails the page is gone, and the error propagates so the run fails
// instead of burning its step budget against a dead session.
func Collect(ctx context.Context, ctrl browser.Controller) (Summary, error) {
	page := ctrl.Page()
	sum := Summary{URL: page.URL()}
	failed := 0
	var lastErr error
	if title, err := ctrl.Title(ctx); err == nil {
		sum.Title = title
	} else {
		failed++
		lastErr = err
	}
	if text, err := ctrl.BodyText(ctx); err == nil {
		if len(text) > 1200 {
			text = text[:1200]
		}
		sum.Visible = strings.TrimSpace(text)
	} else {
		failed++
		lastErr = err
	}
	if val, err := page.Evaluate(factsScript); err == nil {
		if data, err := json.Marshal(val); err == nil {
			var facts pageFacts
			if err := json.Unmarshal(data, &facts); err == nil {
				sum.Heading = facts.Heading
				sum.FormLabels = facts.FormLabels
				sum.ButtonTexts = facts.ButtonTexts
			}
		}
	} else {
		failed++
		lastErr = err
	}
	if labels, err := ctrl.ObserveLabels(ctx, ""); err == nil {
		sum.ActionLabels = labels
	} else {
		failed++
		lastErr = err
	}
	if failed == 4 {
		return Summary{}, fmt.Errorf("page observation failed: %w", lastErr)
	}
	return sum, nil
}

// WithDeadline shortens the context to bound a single observation.
func WithDeadline(ctx context.Context, dur time.Duration) (context.Context, context.CancelFunc) {
	if dur <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dur)
}
