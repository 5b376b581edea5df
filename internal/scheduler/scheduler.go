// Package scheduler runs the long-lived loop that wakes on a fixed interval
// and hands the current time to the due-mailing selector.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mkrasnov/autosend/pkg/config"
	"github.com/mkrasnov/autosend/pkg/logx"
	"github.com/mkrasnov/autosend/pkg/metrics"
)

// Ticker runs one selector pass; satisfied by *selector.Selector.
type Ticker interface {
	RunDue(ctx context.Context, now time.Time) (int, error)
}

type Loop struct {
	sel     Ticker
	cfg     *config.SchedulerConfig
	ticking atomic.Bool
	wg      sync.WaitGroup
}

func New(sel Ticker, cfg *config.SchedulerConfig) *Loop {
	return &Loop{sel: sel, cfg: cfg}
}

// Run blocks until ctx is canceled. If another instance already holds the
// lock it returns immediately with no error and no ticks executed.
func (l *Loop) Run(ctx context.Context) error {
	lock, ok, err := Acquire(l.cfg.LockFile)
	if err != nil {
		return err
	}
	if !ok {
		logx.Scheduler().Infow("scheduler_already_running", "lock", l.cfg.LockFile)
		return nil
	}
	defer lock.Release()

	health := l.healthServer()
	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Scheduler().Errorw("health_server_error", "error", err)
		}
	}()

	c := cron.New()
	spec := fmt.Sprintf("@every %s", l.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { l.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	logx.Scheduler().Infow("scheduler_started",
		"interval", l.cfg.Interval.String(), "lock", l.cfg.LockFile)
	c.Start()

	<-ctx.Done()
	logx.Scheduler().Infow("scheduler_stopping")

	// Stop new ticks, then wait for an in-flight one.
	<-c.Stop().Done()
	l.wg.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutCtx)

	logx.Scheduler().Infow("scheduler_stopped")
	return nil
}

// tick runs one selector pass. Overlapping ticks are skipped rather than
// queued; a slow pass must not stack a second one behind it.
func (l *Loop) tick(ctx context.Context) {
	if !l.ticking.CompareAndSwap(false, true) {
		logx.Scheduler().Warnw("tick_skipped_overlap")
		return
	}
	l.wg.Add(1)
	defer func() {
		l.ticking.Store(false)
		l.wg.Done()
	}()

	tickID := uuid.NewString()
	lg := logx.Scheduler().With("tick_id", tickID)
	start := time.Now()
	metrics.SchedulerTicks.Inc()

	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerTickErrors.Inc()
			lg.Errorw("tick_panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	tickCtx := ctx
	if l.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, l.cfg.TickTimeout)
		defer cancel()
	}

	lg.Infow("tick_start")
	n, err := l.sel.RunDue(tickCtx, start)
	dur := time.Since(start)
	metrics.SchedulerTickDuration.Observe(dur.Seconds())
	metrics.SchedulerDueSelected.Observe(float64(n))

	if err != nil {
		// Fatal for this tick only; the next one retries naturally.
		metrics.SchedulerTickErrors.Inc()
		lg.Errorw("tick_error", "processed", n, "duration_ms", dur.Milliseconds(), "error", err)
		return
	}
	lg.Infow("tick_done", "processed", n, "duration_ms", dur.Milliseconds())
}

func (l *Loop) healthServer() *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &http.Server{
		Addr:    ":" + l.cfg.HealthPort,
		Handler: r,
	}
}
