// Package selector finds mailings whose window has opened and feeds each one
// to the dispatch engine.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/mkrasnov/autosend/internal/dispatch"
	"github.com/mkrasnov/autosend/internal/mailing"
	"github.com/mkrasnov/autosend/pkg/logx"
)

// DueLister is the slice of the store the selector needs.
type DueLister interface {
	DueMailings(ctx context.Context, now time.Time, repeatCutoff time.Time) ([]mailing.Mailing, error)
}

// Dispatcher runs one mailing; satisfied by *dispatch.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, mailingID int64, actor string, dryRun bool) (dispatch.Result, error)
}

type Selector struct {
	Store        DueLister
	Engine       Dispatcher
	RepeatWindow time.Duration
}

func New(st DueLister, eng Dispatcher, repeatWindow time.Duration) *Selector {
	if repeatWindow <= 0 {
		repeatWindow = 5 * time.Minute
	}
	return &Selector{Store: st, Engine: eng, RepeatWindow: repeatWindow}
}

// RunDue executes one tick: every due mailing is dispatched exactly once,
// earliest start first. A dispatch failure on one mailing is logged and the
// pass continues; only the initial repository query is fatal for the tick.
// Returns the number of mailings dispatched, failed ones included.
func (s *Selector) RunDue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.RepeatWindow)

	due, err := s.Store.DueMailings(ctx, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repository unavailable: %w", err)
	}

	seen := make(map[int64]bool, len(due))
	processed := 0
	for _, m := range due {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		res, err := s.Engine.Dispatch(ctx, m.ID, mailing.TriggeredByScheduler, false)
		processed++
		if err != nil {
			logx.Scheduler().Errorw("due_dispatch_error", "mailing_id", m.ID, "error", err)
			continue
		}
		logx.Scheduler().Infow("due_dispatch_done",
			"mailing_id", m.ID,
			"sent", res.Sent, "errored", res.Errored, "total", res.Total,
			"outcome", res.Outcome,
		)
	}
	return processed, nil
}
