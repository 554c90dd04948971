package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmloop/agent/internal/agent"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string, status agent.Status) agent.RunRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return agent.RunRecord{
		RunID:     id,
		TaskID:    "saucedemo-checkout",
		Mode:      agent.ModeWarm,
		Status:    status,
		Metrics:   agent.Metrics{Success: true, NumSteps: 7, CacheHits: 4, FinalURL: "https://www.saucedemo.com/checkout-complete.html"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	rec := sampleRun("run-1", agent.StatusFinished)
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, rec.TaskID, got.TaskID)
	assert.Equal(t, rec.Mode, got.Mode)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Metrics, got.Metrics)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestSaveRunUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	rec := sampleRun("run-1", agent.StatusRunning)
	require.NoError(t, s.SaveRun(ctx, rec))

	rec.Status = agent.StatusFinished
	rec.Metrics.NumSteps = 9
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusFinished, got.Status)
	assert.Equal(t, 9, got.Metrics.NumSteps)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkCancelled(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleRun("active", agent.StatusRunning)))
	require.NoError(t, s.MarkCancelled(ctx, "active"))
	got, err := s.GetRun(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCancelled, got.Status)

	// terminal runs stay terminal
	require.NoError(t, s.SaveRun(ctx, sampleRun("done", agent.StatusFinished)))
	require.NoError(t, s.MarkCancelled(ctx, "done"))
	got, err = s.GetRun(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusFinished, got.Status)

	assert.ErrorIs(t, s.MarkCancelled(ctx, "missing"), ErrNotFound)
}

func TestEventLog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i, typ := range []agent.EventType{agent.EventRunStarted, agent.EventStepPlanned, agent.EventRunFinished} {
		require.NoError(t, s.AppendEvent(ctx, agent.Event{
			RunID:   "run-1",
			Type:    typ,
			Time:    time.Now(),
			Payload: map[string]any{"step": float64(i)},
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, agent.Event{RunID: "run-2", Type: agent.EventRunStarted, Time: time.Now()}))

	events, err := s.ListEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, agent.EventRunStarted, events[0].Type)
	assert.Equal(t, agent.EventRunFinished, events[2].Type)
	assert.Equal(t, float64(1), events[1].Payload["step"])

	// tail from a cursor
	tail, err := s.ListEvents(ctx, "run-1", events[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, agent.EventRunFinished, tail[0].Type)
}

func TestEmitIsBestEffort(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Close())
	// closed store: Emit must swallow the failure
	s.Emit(context.Background(), agent.Event{RunID: "run-1", Type: agent.EventRunStarted, Time: time.Now()})
}

func TestListRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	a := sampleRun("run-a", agent.StatusFinished)
	a.CreatedAt = time.Now().Add(-time.Hour)
	b := sampleRun("run-b", agent.StatusRunning)
	require.NoError(t, s.SaveRun(ctx, a))
	require.NoError(t, s.SaveRun(ctx, b))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
}
