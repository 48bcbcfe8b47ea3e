package drift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"driftnote/internal/clock"
	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

// Outcome classifies how a MutationJob ended.
type Outcome string

const (
	// OutcomeWritten: the oracle result was persisted (possibly unchanged text).
	OutcomeWritten Outcome = "written"
	// OutcomeVanished: the entry was deleted before the timer fired.
	OutcomeVanished Outcome = "vanished"
	// OutcomeSkippedViewed: the entry was opened while the job ran; result discarded.
	OutcomeSkippedViewed Outcome = "skipped_viewed"
	// OutcomeFailed: loading or persisting the entry failed.
	OutcomeFailed Outcome = "failed"
)

// Result describes one MutationJob run.
type Result struct {
	Request  Request
	Rate     notes.ChangeRate
	Outcome  Outcome
	Changed  bool
	Duration time.Duration
	Err      error
}

// MutationJob is the work a fired timer executes. It makes at most one
// oracle call and one write, and never retries.
type MutationJob struct {
	Store  notes.Store
	Prefs  notes.PreferenceProvider
	Oracle notes.Oracle
	Clock  clock.Clock
	Log    logx.Logger

	// Viewed is consulted right before the write. Nil means "never viewed".
	Viewed func(entryID string) bool
	// WriteWhileViewed disables the Viewed re-check.
	WriteWhileViewed bool
}

// Run executes the job for req. Failures are logged and reported in the
// Result; they never propagate as panics or errors to the timer.
func (j *MutationJob) Run(ctx context.Context, req Request) Result {
	clk := j.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := j.Log.With(logx.String("entry", req.EntryID), logx.String("owner", req.OwnerID))
	start := clk.Now()
	res := Result{Request: req}
	finish := func(o Outcome, err error) Result {
		res.Outcome = o
		res.Err = err
		res.Duration = clk.Now().Sub(start)
		return res
	}

	entry, err := j.Store.Get(ctx, req.EntryID)
	if errors.Is(err, notes.ErrNotFound) {
		log.Debug("entry not found; aborting mutation")
		return finish(OutcomeVanished, nil)
	}
	if err != nil {
		log.Error("load entry failed", logx.Err(err))
		return finish(OutcomeFailed, fmt.Errorf("load entry %s: %w", req.EntryID, err))
	}

	res.Rate = j.resolveRate(ctx, req.OwnerID, log)
	log.Debug("mutating entry", logx.String("rate", res.Rate.String()))

	title, content := entry.Title, entry.Content
	if j.Oracle != nil {
		title, content = j.Oracle.Mutate(ctx, entry.Title, entry.Content, res.Rate)
	}
	res.Changed = title != entry.Title || content != entry.Content

	if !j.WriteWhileViewed && j.Viewed != nil && j.Viewed(req.EntryID) {
		log.Info("entry opened during mutation; result discarded")
		return finish(OutcomeSkippedViewed, nil)
	}

	if err := j.Store.Update(ctx, req.EntryID, title, content); err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			log.Debug("entry deleted during mutation; nothing written")
			return finish(OutcomeVanished, nil)
		}
		log.Error("persist mutation failed", logx.Err(err))
		return finish(OutcomeFailed, fmt.Errorf("update entry %s: %w", req.EntryID, err))
	}

	out := finish(OutcomeWritten, nil)
	log.Info("entry mutated",
		logx.String("rate", res.Rate.String()),
		logx.Bool("changed", res.Changed),
		logx.Duration("took", out.Duration),
	)
	return out
}

// resolveRate looks the preference up at fire time so that changes made
// while the timer was pending apply.
func (j *MutationJob) resolveRate(ctx context.Context, ownerID string, log logx.Logger) notes.ChangeRate {
	if j.Prefs == nil || ownerID == "" {
		return notes.DefaultRate
	}
	rate, ok, err := j.Prefs.ChangeRate(ctx, ownerID)
	switch {
	case err != nil:
		log.Warn("change rate lookup failed; using default", logx.Err(err))
		return notes.DefaultRate
	case !ok:
		return notes.DefaultRate
	case !rate.Valid():
		log.Warn("invalid change rate; using default", logx.String("rate", string(rate)))
		return notes.DefaultRate
	}
	return rate
}
