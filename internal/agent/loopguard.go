package agent

// LoopGuard tracks fingerprint and action history for one run and answers
// two questions: is the run stuck, and which breaker applies. It keeps no
// counters; the run loop owns the metrics.
type LoopGuard struct {
	fingerprints []string
	actions      []string
}

const (
	// fpLoopThreshold occurrences of the same fingerprint without progress
	// mean the run is stuck.
	fpLoopThreshold = 3
	// fpReloadThreshold escalates the breaker from back-navigation to a
	// full page reload.
	fpReloadThreshold = 5
	// actionRepeatWindow identical consecutive actions also count as stuck,
	// even when each of them mutates the fingerprint slightly.
	actionRepeatWindow = 3

	historyLimit = 64
)

// BreakStrategy is the escape action chosen when a loop is detected.
type BreakStrategy int

const (
	BreakBack BreakStrategy = iota
	BreakClearActions
	BreakReload
)

func (s BreakStrategy) String() string {
	switch s {
	case BreakReload:
		return "reload"
	case BreakClearActions:
		return "clear_actions"
	default:
		return "back"
	}
}

func NewLoopGuard() *LoopGuard {
	return &LoopGuard{}
}

// RecordFingerprint appends one observed page state.
func (g *LoopGuard) RecordFingerprint(fp string) {
	g.fingerprints = appendBounded(g.fingerprints, fp)
}

// RecordAction appends one planned action.
func (g *LoopGuard) RecordAction(action string) {
	g.actions = appendBounded(g.actions, action)
}

// InLoop reports whether the run is stuck: no forward progress this step
// and either the current fingerprint keeps recurring or the planner keeps
// emitting the same action.
func (g *LoopGuard) InLoop(fp string, progress bool) bool {
	if progress {
		return false
	}
	return g.fpCount(fp) >= fpLoopThreshold || g.actionsRepeated()
}

// Strategy picks the breaker, most aggressive first: a fingerprint seen
// five or more times gets a reload, a planner stuck on one action gets its
// action history cleared without navigating, anything else backs off one
// history entry.
func (g *LoopGuard) Strategy(fp string) BreakStrategy {
	if g.fpCount(fp) >= fpReloadThreshold {
		return BreakReload
	}
	if g.actionsRepeated() {
		return BreakClearActions
	}
	return BreakBack
}

// ClearActions drops the action history so the anti-repetition prompt
// context starts fresh.
func (g *LoopGuard) ClearActions() {
	g.actions = g.actions[:0]
}

// RecentActions returns up to n most recent actions, oldest first.
func (g *LoopGuard) RecentActions(n int) []string {
	if n <= 0 || len(g.actions) == 0 {
		return nil
	}
	start := len(g.actions) - n
	if start < 0 {
		start = 0
	}
	return append([]string(nil), g.actions[start:]...)
}

func (g *LoopGuard) fpCount(fp string) int {
	count := 0
	for _, f := range g.fingerprints {
		if f == fp {
			count++
		}
	}
	return count
}

func (g *LoopGuard) actionsRepeated() bool {
	if len(g.actions) < actionRepeatWindow {
		return false
	}
	last := g.actions[len(g.actions)-1]
	if last == "" {
		return false
	}
	for i := len(g.actions) - actionRepeatWindow; i < len(g.actions); i++ {
		if g.actions[i] != last {
			return false
		}
	}
	return true
}

func appendBounded(hist []string, v string) []string {
	hist = append(hist, v)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	return hist
}
