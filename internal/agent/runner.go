package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warmloop/agent/internal/browser"
	"github.com/warmloop/agent/internal/macro"
	"github.com/warmloop/agent/internal/snapshot"
	"github.com/warmloop/agent/internal/task"
)

// Mode selects the macro policy for a run.
type Mode string

const (
	// ModeCold never consults the macro store but still writes to it.
	ModeCold Mode = "cold"
	// ModeWarm consults the store before asking the model.
	ModeWarm Mode = "warm"
	// ModeTwice runs cold then warm against the same task; composed by
	// ComposeTwice, never executed directly by Run.
	ModeTwice Mode = "twice"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCold, ModeWarm, ModeTwice:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (use cold, warm or twice)", s)
	}
}

// Status is the run lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Metrics is the per-run accounting. A finished run with Success=false is
// a budget exhaustion, not a failure.
type Metrics struct {
	Success         bool   `json:"success"`
	WallTimeMS      int64  `json:"wall_time_ms"`
	NumSteps        int    `json:"num_steps"`
	NumLLMCalls     int    `json:"num_llm_calls"`
	NumObserveCalls int    `json:"num_observe_calls"`
	NumRetries      int    `json:"num_retries"`
	NumLoopDetected int    `json:"num_loop_detected"`
	NumLoopBroken   int    `json:"num_loop_broken"`
	CacheHits       int    `json:"cache_hits"`
	CacheMisses     int    `json:"cache_misses"`
	AvgActionMS     int64  `json:"avg_action_latency_ms"`
	FinalURL        string `json:"final_url"`
}

// RunRecord is the persisted state of one run.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Metrics   Metrics   `json:"metrics"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TwiceResult pairs the cold and warm phases of a twice run.
type TwiceResult struct {
	Cold    RunRecord `json:"cold"`
	Warm    RunRecord `json:"warm"`
	Success bool      `json:"success"`
}

// ComposeTwice combines two phase records; the composite succeeds only when
// both phases did.
func ComposeTwice(cold, warm RunRecord) TwiceResult {
	return TwiceResult{
		Cold:    cold,
		Warm:    warm,
		Success: cold.Metrics.Success && warm.Metrics.Success,
	}
}

// RecordStore persists run records at checkpoints. Persistence failures
// never fail the run.
type RecordStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}

// ObserveFunc produces one page observation. The runner never touches the
// snapshot collector directly so tests can substitute canned summaries.
type ObserveFunc func(ctx context.Context) (snapshot.Summary, error)

// Config tunes the run loop pacing.
type Config struct {
	// StepDelay is the pause between performing an action and re-observing.
	StepDelay time.Duration
	// SettleDelay is the pause after a loop breaker fires.
	SettleDelay time.Duration
}

// maxActionFailStreak converts persistent hard browser failures into a
// run failure. A single failed click is a retry; this many in a row means
// the session itself is gone.
const maxActionFailStreak = 3

func (c Config) withDefaults() Config {
	if c.StepDelay == 0 {
		c.StepDelay = time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 1500 * time.Millisecond
	}
	return c
}

// Runner drives one browser session through a task.
type Runner struct {
	cfg     Config
	planner *Planner
	driver  browser.Driver
	observe ObserveFunc
	macros  macro.Store
	records RecordStore
	sink    Sink
	logger  zerolog.Logger
}

func NewRunner(cfg Config, planner *Planner, driver browser.Driver, observe ObserveFunc, macros macro.Store, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:     cfg.withDefaults(),
		planner: planner,
		driver:  driver,
		observe: observe,
		macros:  macros,
		logger:  logger,
	}
}

// WithRecords attaches a persistence store for run checkpoints.
func (r *Runner) WithRecords(store RecordStore) *Runner {
	r.records = store
	return r
}

// WithSink attaches an event sink.
func (r *Runner) WithSink(sink Sink) *Runner {
	r.sink = sink
	return r
}

// Run executes one task in cold or warm mode and always returns a record;
// the error is non-nil only when the record is failed or cancelled. Twice
// mode is a caller-side composition of two Run calls over fresh sessions.
func (r *Runner) Run(ctx context.Context, t task.Task, mode Mode) (RunRecord, error) {
	now := time.Now()
	rec := RunRecord{
		RunID:     uuid.NewString(),
		TaskID:    t.ID,
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mode == ModeTwice {
		rec.Status = StatusFailed
		rec.Error = "twice mode must be composed from a cold and a warm run"
		return rec, errors.New(rec.Error)
	}

	logger := r.logger.With().
		Str("run_id", rec.RunID).
		Str("task", t.ID).
		Str("mode", string(mode)).
		Logger()

	rec.Status = StatusRunning
	r.checkpoint(ctx, &rec)
	r.emit(ctx, rec.RunID, EventRunStarted, map[string]any{
		"task_id":   t.ID,
		"mode":      string(mode),
		"start_url": t.StartURL,
	})
	logger.Info().Str("url", t.StartURL).Msg("run started")

	start := time.Now()
	var actionTotal time.Duration
	var actionCount int

	runErr := r.loop(ctx, t, mode, &rec, logger, &actionTotal, &actionCount)

	rec.Metrics.WallTimeMS = time.Since(start).Milliseconds()
	if actionCount > 0 {
		rec.Metrics.AvgActionMS = (actionTotal / time.Duration(actionCount)).Milliseconds()
	}

	switch {
	case runErr == nil:
		rec.Status = StatusFinished
		r.emit(ctx, rec.RunID, EventRunFinished, map[string]any{
			"success":   rec.Metrics.Success,
			"num_steps": rec.Metrics.NumSteps,
			"final_url": rec.Metrics.FinalURL,
		})
		logger.Info().
			Bool("success", rec.Metrics.Success).
			Int("steps", rec.Metrics.NumSteps).
			Int("cache_hits", rec.Metrics.CacheHits).
			Msg("run finished")
	case errors.Is(runErr, context.Canceled):
		rec.Status = StatusCancelled
		rec.Error = runErr.Error()
		logger.Warn().Msg("run cancelled")
	default:
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
		r.emit(ctx, rec.RunID, EventRunFailed, map[string]any{"error": rec.Error})
		logger.Error().Err(runErr).Msg("run failed")
	}
	// final checkpoint must land even when the context is gone
	r.checkpoint(context.WithoutCancel(ctx), &rec)
	return rec, runErr
}

// loop is the step engine. Benign per-step trouble (unresolvable action,
// failed perform) is counted and retried; only model errors, observation
// errors and cancellation bubble up as run failures.
func (r *Runner) loop(ctx context.Context, t task.Task, mode Mode, rec *RunRecord, logger zerolog.Logger, actionTotal *time.Duration, actionCount *int) error {
	if err := r.driver.Navigate(ctx, t.StartURL); err != nil {
		return fmt.Errorf("open start url: %w", err)
	}

	maxSteps := t.MaxSteps
	if maxSteps <= 0 {
		maxSteps = task.DefaultMaxSteps
	}

	guard := NewLoopGuard()
	sum, err := r.observe(ctx)
	if err != nil {
		return fmt.Errorf("initial observation: %w", err)
	}
	rec.Metrics.NumObserveCalls++
	inLoop := false
	failStreak := 0

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fp := sum.Fingerprint()
		guard.RecordFingerprint(fp)

		if t.Success.Met(sum.URL, sum.Visible) {
			rec.Metrics.Success = true
			rec.Metrics.FinalURL = sum.URL
			return nil
		}

		planned, err := r.planner.Next(ctx, PlanInput{
			Task:          t,
			Mode:          mode,
			Step:          step,
			Fingerprint:   fp,
			Summary:       sum,
			RecentActions: guard.RecentActions(5),
			InLoop:        inLoop,
		})
		if err != nil {
			return fmt.Errorf("plan step %d: %w", step, err)
		}
		if planned.CacheHit {
			rec.Metrics.CacheHits++
		} else {
			rec.Metrics.CacheMisses++
			rec.Metrics.NumLLMCalls++
		}
		guard.RecordAction(planned.Action)
		r.emit(ctx, rec.RunID, EventStepPlanned, map[string]any{
			"step":        step,
			"action":      planned.Action,
			"source":      string(planned.Source),
			"cache_hit":   planned.CacheHit,
			"fingerprint": fp,
		})
		logger.Info().
			Int("step", step).
			Str("action", planned.Action).
			Str("source", string(planned.Source)).
			Msg("step planned")

		if performErr := r.perform(ctx, rec, step, planned.Action, logger, actionTotal, actionCount); performErr != nil {
			failStreak++
			if failStreak >= maxActionFailStreak {
				return fmt.Errorf("browser action failed %d times in a row: %w", failStreak, performErr)
			}
		} else {
			failStreak = 0
		}

		sleepCtx(ctx, r.cfg.StepDelay)

		after, err := r.observe(ctx)
		if err != nil {
			return fmt.Errorf("observe after step %d: %w", step, err)
		}
		rec.Metrics.NumObserveCalls++

		afterFP := after.Fingerprint()
		progress := after.URL != sum.URL || afterFP != fp
		r.emit(ctx, rec.RunID, EventStepValidated, map[string]any{
			"step":     step,
			"progress": progress,
			"url":      after.URL,
		})

		if progress && planned.Action != "" {
			m := macro.Macro{
				Actions:      []string{planned.Action},
				SuccessCount: 1,
				LastSuccess:  time.Now(),
				Query:        planned.Action,
			}
			r.macros.Set(ctx, t.Domain, t.Intent, fp, m)
			r.emit(ctx, rec.RunID, EventMacroSaved, map[string]any{
				"step":        step,
				"fingerprint": fp,
				"action":      planned.Action,
			})
			logger.Debug().Str("fingerprint", fp).Str("action", planned.Action).Msg("macro saved")
		}

		inLoop = guard.InLoop(afterFP, progress)
		if inLoop {
			rec.Metrics.NumLoopDetected++
			strategy := guard.Strategy(afterFP)
			r.emit(ctx, rec.RunID, EventLoopDetected, map[string]any{
				"step":     step,
				"strategy": strategy.String(),
			})
			logger.Warn().Int("step", step).Str("strategy", strategy.String()).Msg("loop detected")
			refreshed := r.breakLoop(ctx, guard, strategy)
			rec.Metrics.NumLoopBroken++
			if refreshed {
				after, err = r.observe(ctx)
				if err != nil {
					return fmt.Errorf("observe after loop break: %w", err)
				}
				rec.Metrics.NumObserveCalls++
			}
		}

		rec.Metrics.NumSteps++
		rec.Metrics.FinalURL = after.URL
		r.checkpoint(ctx, rec)
		sum = after
	}

	// budget spent; one last success check on the final observation
	if t.Success.Met(sum.URL, sum.Visible) {
		rec.Metrics.Success = true
	}
	rec.Metrics.FinalURL = sum.URL
	logger.Info().Int("max_steps", maxSteps).Msg("step budget exhausted")
	return nil
}

// perform resolves and executes the preferred candidate. An empty
// candidate list is a benign retry and returns nil; a driver or perform
// error is counted as a retry too, but returned so the caller can spot a
// dying browser session behind a failure streak.
func (r *Runner) perform(ctx context.Context, rec *RunRecord, step int, action string, logger zerolog.Logger, actionTotal *time.Duration, actionCount *int) error {
	cands, err := r.driver.Observe(ctx, action)
	if err != nil {
		rec.Metrics.NumRetries++
		logger.Warn().Err(err).Int("step", step).Str("action", action).Msg("candidate resolution failed")
		r.emit(ctx, rec.RunID, EventStepExecuted, map[string]any{
			"step":      step,
			"action":    action,
			"performed": false,
		})
		return err
	}
	if len(cands) == 0 {
		rec.Metrics.NumRetries++
		logger.Warn().Int("step", step).Str("action", action).Msg("no executable candidates")
		r.emit(ctx, rec.RunID, EventStepExecuted, map[string]any{
			"step":      step,
			"action":    action,
			"performed": false,
		})
		return nil
	}

	var lastErr error
	for _, cand := range cands {
		t0 := time.Now()
		if err := cand.Perform(ctx); err != nil {
			lastErr = err
			continue
		}
		*actionTotal += time.Since(t0)
		*actionCount++
		r.emit(ctx, rec.RunID, EventStepExecuted, map[string]any{
			"step":      step,
			"action":    action,
			"performed": true,
			"candidate": cand.Describe(),
		})
		logger.Debug().Int("step", step).Str("candidate", cand.Describe()).Msg("action performed")
		return nil
	}

	rec.Metrics.NumRetries++
	logger.Warn().Err(lastErr).Int("step", step).Str("action", action).Msg("all candidates failed")
	r.emit(ctx, rec.RunID, EventStepExecuted, map[string]any{
		"step":      step,
		"action":    action,
		"performed": false,
	})
	return lastErr
}

// breakLoop applies the chosen breaker and reports whether the page moved,
// meaning the caller should re-observe.
func (r *Runner) breakLoop(ctx context.Context, guard *LoopGuard, strategy BreakStrategy) bool {
	moved := false
	switch strategy {
	case BreakReload:
		if err := r.driver.Reload(ctx); err != nil {
			r.logger.Debug().Err(err).Msg("loop-break reload failed")
		}
		moved = true
	case BreakClearActions:
		guard.ClearActions()
	case BreakBack:
		if err := r.driver.Back(ctx); err != nil {
			r.logger.Debug().Err(err).Msg("loop-break back failed")
		}
		moved = true
	}
	sleepCtx(ctx, r.cfg.SettleDelay)
	return moved
}

func (r *Runner) checkpoint(ctx context.Context, rec *RunRecord) {
	rec.UpdatedAt = time.Now()
	if r.records == nil {
		return
	}
	if err := r.records.SaveRun(ctx, *rec); err != nil {
		r.logger.Warn().Err(err).Str("run_id", rec.RunID).Msg("run checkpoint failed")
	}
}

func (r *Runner) emit(ctx context.Context, runID string, typ EventType, payload map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(ctx, Event{
		RunID:   runID,
		Type:    typ,
		Time:    time.Now(),
		Payload: payload,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
