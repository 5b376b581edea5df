// Package report computes read-only send/fail summaries from the delivery log.
package report

import (
	"context"
	"time"

	"github.com/mkrasnov/autosend/internal/mailing"
)

// StatsReader is the slice of the store the aggregator needs.
type StatsReader interface {
	StatsFor(ctx context.Context, mailingID int64) (mailing.Stats, error)
	StatsForOwner(ctx context.Context, owner string, since time.Time, viewAll bool) ([]mailing.Stats, error)
}

// Viewer identifies who is asking. Managers aggregate across all owners;
// everyone else sees only their own campaigns.
type Viewer struct {
	Email   string
	Manager bool
}

type Aggregator struct {
	store StatsReader
}

func New(st StatsReader) *Aggregator { return &Aggregator{store: st} }

// StatsFor returns the per-recipient outcome counters of one mailing.
func (a *Aggregator) StatsFor(ctx context.Context, mailingID int64) (mailing.Stats, error) {
	return a.store.StatsFor(ctx, mailingID)
}

// StatsForViewer returns per-mailing summaries over the given period.
func (a *Aggregator) StatsForViewer(ctx context.Context, v Viewer, period time.Duration) ([]mailing.Stats, error) {
	since := time.Time{}
	if period > 0 {
		since = time.Now().Add(-period)
	}
	return a.store.StatsForOwner(ctx, v.Email, since, v.Manager)
}
