// Package macro caches learned page-transition actions keyed by
// (domain, intent, fingerprint). The store is deliberately dumb: policy
// around when to write and how much to trust a cached action lives in the
// caller.
package macro

import (
	"fmt"
	"time"
)

// DefaultTTL is the retention window for a learned macro. Reads do not
// refresh it; every overwrite resets it.
const DefaultTTL = 30 * 24 * time.Hour

// Macro is a replayable action (or short sequence) learned from a step
// that produced observable forward progress.
type Macro struct {
	Actions      []string  `json:"actions"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	LastSuccess  time.Time `json:"last_success"`
	// Query records the action description used to discover the macro.
	Query string `json:"query,omitempty"`
}

// Action returns the first action of the sequence, the one the planner
// replays. Empty if the macro holds no actions.
func (m Macro) Action() string {
	if len(m.Actions) == 0 {
		return ""
	}
	return m.Actions[0]
}

// Key composes the store key. Domain and intent scope fingerprints so keys
// across different tasks never collide.
func Key(domain, intent, fp string) string {
	return fmt.Sprintf("%s:%s:%s", domain, intent, fp)
}

// Stats is the store's hit/miss accounting.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}
