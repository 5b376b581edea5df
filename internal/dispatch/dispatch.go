// Package dispatch implements the mailing dispatch engine: one run sends a
// mailing's message to every recipient, records a delivery log row per
// recipient and one attempt row per run.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mkrasnov/autosend/internal/gateway"
	"github.com/mkrasnov/autosend/internal/mailing"
	"github.com/mkrasnov/autosend/pkg/logx"
	"github.com/mkrasnov/autosend/pkg/metrics"
)

// Repository is the slice of the store the engine needs.
type Repository interface {
	BeginRun(ctx context.Context, id int64) (mailing.Mailing, error)
	RecipientsOf(ctx context.Context, mailingID int64) ([]mailing.Recipient, error)
	InsertLog(ctx context.Context, l *mailing.Log) error
	InsertAttempt(ctx context.Context, a *mailing.Attempt) error
	FinishRun(ctx context.Context, id int64, now time.Time) error
}

// Result summarizes one dispatch run.
type Result struct {
	Sent    int    `json:"sent"`
	Errored int    `json:"errored"`
	DryRun  int    `json:"dry_run"`
	Total   int    `json:"total"`
	Outcome string `json:"outcome"` // SUCCESS or FAIL
}

type Engine struct {
	repo    Repository
	gw      gateway.Gateway
	limiter *rate.Limiter
	now     func() time.Time
}

// New builds an engine. ratePerSec > 0 paces gateway calls; 0 disables pacing.
func New(repo Repository, gw gateway.Gateway, ratePerSec int) *Engine {
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Engine{repo: repo, gw: gw, limiter: lim, now: time.Now}
}

// Dispatch runs the mailing once. Each recipient's outcome is committed as a
// log row before the next recipient is processed, so an abandoned run leaves
// a correct partial record. A per-recipient gateway failure is recorded and
// the loop continues; only repository failures abort the run.
//
// An attempt counts as SUCCESS when the loop completed and at least one real
// send landed, or when the run was a dry run. FAIL means zero real sends or a
// fatal error mid-loop.
func (e *Engine) Dispatch(ctx context.Context, mailingID int64, actor string, dryRun bool) (Result, error) {
	start := e.now()
	runID := uuid.NewString()
	lg := logx.L().With("run_id", runID, "mailing_id", mailingID, "actor", actor, "dry_run", dryRun)

	m, err := e.repo.BeginRun(ctx, mailingID)
	if err != nil {
		lg.Warnw("dispatch_refused", "error", err)
		return Result{}, err
	}

	recipients, err := e.repo.RecipientsOf(ctx, mailingID)
	if err != nil {
		lg.Errorw("dispatch_recipients_error", "error", err)
		return Result{}, fmt.Errorf("load recipients for mailing %d: %w", mailingID, err)
	}

	res := Result{Total: len(recipients)}
	lg.Infow("dispatch_start", "total", res.Total, "subject", m.Subject)

	for _, r := range recipients {
		row := mailing.Log{
			MailingID:   mailingID,
			Recipient:   r.Email,
			TriggeredBy: actor,
		}

		switch {
		case dryRun:
			row.Status = mailing.LogDryRun
			row.Detail = "not sent (dry-run)"
			res.DryRun++
		default:
			if err := e.waitLimiter(ctx); err != nil {
				return e.abort(ctx, lg, mailingID, actor, res, err)
			}
			if err := e.gw.Send(ctx, r.Email, m.Subject, m.Body); err != nil {
				row.Status = mailing.LogError
				row.Detail = err.Error()
				res.Errored++
				lg.Infow("send_failed", "to", r.Email, "error", err)
			} else {
				row.Status = mailing.LogSent
				row.Detail = "delivered via smtp gateway"
				res.Sent++
				lg.Debugw("send_ok", "to", r.Email)
			}
		}

		if err := e.repo.InsertLog(ctx, &row); err != nil {
			lg.Errorw("log_insert_error", "to", r.Email, "error", err)
			return e.abort(ctx, lg, mailingID, actor, res, fmt.Errorf("insert delivery log: %w", err))
		}
		metrics.DispatchDeliveries.WithLabelValues(row.Status).Inc()
	}

	res.Outcome = outcomeFor(res, dryRun)
	attempt := mailing.Attempt{
		MailingID:      mailingID,
		Status:         res.Outcome,
		ServerResponse: serverResponse(res, dryRun),
		TriggeredBy:    actor,
	}
	if err := e.repo.InsertAttempt(ctx, &attempt); err != nil {
		lg.Errorw("attempt_insert_error", "error", err)
		return res, fmt.Errorf("insert attempt: %w", err)
	}

	if !dryRun && res.Sent > 0 {
		if err := e.repo.FinishRun(ctx, mailingID, e.now()); err != nil {
			lg.Errorw("finish_run_error", "error", err)
			return res, fmt.Errorf("finish run: %w", err)
		}
	}

	metrics.DispatchAttempts.WithLabelValues(res.Outcome).Inc()
	metrics.DispatchDuration.Observe(e.now().Sub(start).Seconds())
	lg.Infow("dispatch_done",
		"sent", res.Sent, "errored", res.Errored, "dry_run", res.DryRun,
		"total", res.Total, "outcome", res.Outcome,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

// abort records a FAIL attempt for a run that could not complete its loop.
// The attempt insert is best effort: if the repository is down it will fail
// too, and the partial log rows already committed remain the durable record.
func (e *Engine) abort(ctx context.Context, lg *zap.SugaredLogger, mailingID int64, actor string, res Result, cause error) (Result, error) {
	res.Outcome = mailing.AttemptFail
	attempt := mailing.Attempt{
		MailingID:      mailingID,
		Status:         mailing.AttemptFail,
		ServerResponse: fmt.Sprintf("fatal: %v (sent=%d; errors=%d)", cause, res.Sent, res.Errored),
		TriggeredBy:    actor,
	}
	if err := e.repo.InsertAttempt(ctx, &attempt); err != nil {
		lg.Errorw("attempt_insert_error_after_abort", "error", err)
	}
	metrics.DispatchAttempts.WithLabelValues(mailing.AttemptFail).Inc()
	return res, cause
}

func (e *Engine) waitLimiter(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func outcomeFor(res Result, dryRun bool) string {
	if dryRun || res.Sent > 0 || res.Total == 0 {
		return mailing.AttemptSuccess
	}
	return mailing.AttemptFail
}

func serverResponse(res Result, dryRun bool) string {
	if dryRun {
		return fmt.Sprintf("dry-run; total=%d", res.Total)
	}
	return fmt.Sprintf("sent=%d; errors=%d", res.Sent, res.Errored)
}
