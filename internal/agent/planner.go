package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmloop/agent/internal/llm"
	"github.com/warmloop/agent/internal/macro"
	"github.com/warmloop/agent/internal/snapshot"
	"github.com/warmloop/agent/internal/task"
)

// PlanSource identifies where an action came from.
type PlanSource string

const (
	SourceMacro PlanSource = "macro"
	SourceLLM   PlanSource = "llm"
)

// PlannedAction is one decision of the planner.
type PlannedAction struct {
	Action   string
	Source   PlanSource
	CacheHit bool
}

// PlanInput carries everything the planner sees for one step.
type PlanInput struct {
	Task          task.Task
	Mode          Mode
	Step          int
	Fingerprint   string
	Summary       snapshot.Summary
	RecentActions []string
	// InLoop suppresses macro replay; a cached action already led here.
	InLoop bool
}

// HintFunc produces extra prompt guidance for a task. Results are cached
// per task ID for a short window so the producer is not hit every step.
type HintFunc func(ctx context.Context, t task.Task) (string, error)

const defaultHintTTL = 5 * time.Minute

type hintEntry struct {
	text    string
	expires time.Time
}

// Planner decides the next action: replay a validated cached macro in warm
// mode, otherwise ask the model.
type Planner struct {
	llm      llm.Client
	macros   macro.Store
	validate ValidateFunc
	logger   zerolog.Logger

	hints   HintFunc
	hintTTL time.Duration

	mu        sync.Mutex
	hintCache map[string]hintEntry
}

func NewPlanner(client llm.Client, macros macro.Store, logger zerolog.Logger) *Planner {
	return &Planner{
		llm:       client,
		macros:    macros,
		validate:  DefaultValidator,
		logger:    logger,
		hintTTL:   defaultHintTTL,
		hintCache: map[string]hintEntry{},
	}
}

// SetValidator replaces the macro trust policy.
func (p *Planner) SetValidator(v ValidateFunc) {
	if v != nil {
		p.validate = v
	}
}

// SetHints installs a hint producer. ttl <= 0 keeps the default.
func (p *Planner) SetHints(fn HintFunc, ttl time.Duration) {
	p.hints = fn
	if ttl > 0 {
		p.hintTTL = ttl
	}
}

// Next plans one step. Macro lookups only happen in warm mode outside a
// loop state; a cached action that fails validation falls through to the
// model and counts as a miss.
func (p *Planner) Next(ctx context.Context, in PlanInput) (PlannedAction, error) {
	if in.Mode == ModeWarm && !in.InLoop {
		if m, ok := p.macros.Get(ctx, in.Task.Domain, in.Task.Intent, in.Fingerprint); ok {
			action := m.Action()
			if action != "" && p.validate(action, in.Summary) {
				p.logger.Debug().
					Int("step", in.Step).
					Str("action", action).
					Msg("replaying cached macro")
				return PlannedAction{Action: action, Source: SourceMacro, CacheHit: true}, nil
			}
			p.logger.Debug().
				Int("step", in.Step).
				Str("action", action).
				Msg("cached macro rejected by validator")
		}
	}

	system := p.systemPrompt(ctx, in.Task)
	user := userPrompt(in)
	resp, err := p.llm.Generate(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: 0.2,
	})
	if err != nil {
		return PlannedAction{}, fmt.Errorf("plan via %s: %w", p.llm.Name(), err)
	}
	action := resp.FirstLine()
	if action == "" {
		return PlannedAction{}, fmt.Errorf("model returned no usable action")
	}
	return PlannedAction{Action: action, Source: SourceLLM}, nil
}

func (p *Planner) systemPrompt(ctx context.Context, t task.Task) string {
	var b strings.Builder
	b.WriteString("You operate a web browser one action at a time to complete a task.\n\n")
	b.WriteString("Task: ")
	b.WriteString(t.Description)
	b.WriteString("\n")
	if t.Success.URLContains != "" {
		fmt.Fprintf(&b, "The task is done when the URL contains %q.\n", t.Success.URLContains)
	}
	if t.Success.PageContains != "" {
		fmt.Fprintf(&b, "The task is done when the page shows %q.\n", t.Success.PageContains)
	}
	if hints := p.taskHints(ctx, t); hints != "" {
		b.WriteString("Notes: ")
		b.WriteString(hints)
		b.WriteString("\n")
	}
	b.WriteString(`
Reply with exactly one line, one action, in one of these forms:
  click the <element text> button
  fill <field label> with <value>
  scroll down
  scroll up
  go back
  wait
  navigate to <url>

Use only elements visible in the observation. Never repeat a recent action
that did not change the page. No explanations, no lists, just the action line.`)
	return b.String()
}

// taskHints combines the static task hints with the optional producer,
// caching the produced text briefly per task.
func (p *Planner) taskHints(ctx context.Context, t task.Task) string {
	if p.hints == nil {
		return t.Hints
	}
	p.mu.Lock()
	entry, ok := p.hintCache[t.ID]
	p.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return joinHints(t.Hints, entry.text)
	}
	text, err := p.hints(ctx, t)
	if err != nil {
		p.logger.Debug().Err(err).Str("task", t.ID).Msg("hint producer failed, using static hints")
		return t.Hints
	}
	p.mu.Lock()
	p.hintCache[t.ID] = hintEntry{text: text, expires: time.Now().Add(p.hintTTL)}
	p.mu.Unlock()
	return joinHints(t.Hints, text)
}

func joinHints(static, produced string) string {
	static = strings.TrimSpace(static)
	produced = strings.TrimSpace(produced)
	switch {
	case static == "":
		return produced
	case produced == "":
		return static
	default:
		return static + " " + produced
	}
}

func userPrompt(in PlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d.\n", in.Step+1)
	fmt.Fprintf(&b, "URL: %s\n", in.Summary.URL)
	if in.Summary.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Summary.Title)
	}
	if in.Summary.Heading != "" {
		fmt.Fprintf(&b, "Heading: %s\n", in.Summary.Heading)
	}
	if len(in.Summary.FormLabels) > 0 {
		fmt.Fprintf(&b, "Form fields: %s\n", strings.Join(in.Summary.FormLabels, "; "))
	}
	if len(in.Summary.ButtonTexts) > 0 {
		fmt.Fprintf(&b, "Buttons: %s\n", strings.Join(in.Summary.ButtonTexts, "; "))
	}
	if len(in.Summary.ActionLabels) > 0 {
		fmt.Fprintf(&b, "Clickable: %s\n", strings.Join(in.Summary.ActionLabels, "; "))
	}
	if in.Summary.Visible != "" {
		fmt.Fprintf(&b, "Visible text:\n%s\n", in.Summary.Visible)
	}
	if len(in.RecentActions) > 0 {
		fmt.Fprintf(&b, "Recent actions (do not repeat unless the page changed): %s\n",
			strings.Join(in.RecentActions, " | "))
	}
	if in.InLoop {
		b.WriteString("The last actions did not change the page. Try a different element or approach.\n")
	}
	b.WriteString("Next action:")
	return b.String()
}
