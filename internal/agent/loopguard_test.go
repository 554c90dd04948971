package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInLoopFingerprintThreshold(t *testing.T) {
	g := NewLoopGuard()
	g.RecordFingerprint("aaa")
	g.RecordFingerprint("aaa")
	assert.False(t, g.InLoop("aaa", false), "two occurrences are not a loop")

	g.RecordFingerprint("aaa")
	assert.True(t, g.InLoop("aaa", false))
	assert.False(t, g.InLoop("bbb", false), "a fresh fingerprint is not stuck")
}

func TestProgressSuppressesLoop(t *testing.T) {
	g := NewLoopGuard()
	for i := 0; i < 5; i++ {
		g.RecordFingerprint("aaa")
	}
	assert.False(t, g.InLoop("aaa", true))
}

func TestInLoopRepeatedActions(t *testing.T) {
	g := NewLoopGuard()
	g.RecordFingerprint("a")
	g.RecordFingerprint("b")
	for i := 0; i < 3; i++ {
		g.RecordAction("click the Next button")
	}
	assert.True(t, g.InLoop("c", false), "three identical actions mean stuck even across fingerprints")
}

func TestStrategyEscalation(t *testing.T) {
	g := NewLoopGuard()
	for i := 0; i < 3; i++ {
		g.RecordFingerprint("aaa")
		g.RecordAction("click the Next button")
	}
	// repeated actions with a fingerprint below the reload threshold
	assert.Equal(t, BreakClearActions, g.Strategy("aaa"))

	// clearing actions leaves back-navigation as the fallback
	g.ClearActions()
	assert.Equal(t, BreakBack, g.Strategy("aaa"))

	// five sightings escalate to reload regardless of actions
	g.RecordFingerprint("aaa")
	g.RecordFingerprint("aaa")
	for i := 0; i < 3; i++ {
		g.RecordAction("click the Next button")
	}
	assert.Equal(t, BreakReload, g.Strategy("aaa"))
}

func TestRecentActions(t *testing.T) {
	g := NewLoopGuard()
	g.RecordAction("one")
	g.RecordAction("two")
	g.RecordAction("three")
	assert.Equal(t, []string{"two", "three"}, g.RecentActions(2))
	assert.Equal(t, []string{"one", "two", "three"}, g.RecentActions(10))

	g.ClearActions()
	assert.Empty(t, g.RecentActions(5))
}
