// Command mailctl is the operational entry point for the dispatch core:
//
//	mailctl send-due-mailings          one selector pass, for external cron
//	mailctl send-mailing -id N [-dry-run]
//	mailctl run-scheduler              long-lived loop, single instance
//	mailctl stop-scheduler             signal the running loop
//	mailctl seed-demo                  insert demo data
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/mkrasnov/autosend/internal/dispatch"
	"github.com/mkrasnov/autosend/internal/gateway"
	"github.com/mkrasnov/autosend/internal/mailing"
	"github.com/mkrasnov/autosend/internal/scheduler"
	"github.com/mkrasnov/autosend/internal/selector"
	"github.com/mkrasnov/autosend/internal/store"
	"github.com/mkrasnov/autosend/pkg/config"
	"github.com/mkrasnov/autosend/pkg/db"
	"github.com/mkrasnov/autosend/pkg/logx"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitNotFound = 2
	exitDisabled = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitFailure)
	}

	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(exitFailure)
	}

	logx.Init(logx.Options{
		Dir:        cfg.Log.Dir,
		RetainDays: cfg.Log.RetainDays,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Level:      cfg.Log.Level,
	})

	code := run(ctx, cfg, os.Args[1], os.Args[2:])
	logx.Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) int {
	switch cmd {
	case "send-due-mailings":
		return sendDue(ctx, cfg)
	case "send-mailing":
		return sendMailing(ctx, cfg, args)
	case "run-scheduler":
		return runScheduler(cfg)
	case "stop-scheduler":
		return stopScheduler(cfg)
	case "seed-demo":
		return seedDemo(ctx, cfg)
	default:
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailctl <send-due-mailings|send-mailing|run-scheduler|stop-scheduler|seed-demo> [flags]")
}

func openCore(ctx context.Context, cfg *config.Config) (*sqlx.DB, *store.Store, *dispatch.Engine, error) {
	sqlDB, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	st := store.New(sqlDB)
	eng := dispatch.New(st, gateway.FromConfig(&cfg.SMTP), cfg.SMTP.RatePerSec)
	return sqlDB, st, eng, nil
}

// sendDue runs one selector pass. Individual mailing failures do not fail the
// command; only an unreachable repository does.
func sendDue(ctx context.Context, cfg *config.Config) int {
	sqlDB, st, eng, err := openCore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "repository unavailable:", err)
		return exitFailure
	}
	defer sqlDB.Close()

	sel := selector.New(st, eng, cfg.Scheduler.RepeatWindow)
	n, err := sel.RunDue(ctx, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "tick failed:", err)
		return exitFailure
	}
	fmt.Printf("done, processed mailings: %d\n", n)
	return exitOK
}

func sendMailing(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("send-mailing", flag.ExitOnError)
	id := fs.Int64("id", 0, "mailing id to dispatch")
	dryRun := fs.Bool("dry-run", false, "simulate without contacting the gateway")
	_ = fs.Parse(args)

	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "send-mailing: -id is required")
		return exitFailure
	}

	sqlDB, _, eng, err := openCore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "repository unavailable:", err)
		return exitFailure
	}
	defer sqlDB.Close()

	res, err := eng.Dispatch(ctx, *id, "mailctl", *dryRun)
	switch {
	case errors.Is(err, store.ErrMailingNotFound):
		fmt.Fprintf(os.Stderr, "mailing %d not found\n", *id)
		return exitNotFound
	case errors.Is(err, store.ErrMailingDisabled):
		fmt.Fprintf(os.Stderr, "mailing %d is disabled\n", *id)
		return exitDisabled
	case err != nil:
		fmt.Fprintln(os.Stderr, "dispatch failed:", err)
		return exitFailure
	}

	if *dryRun {
		fmt.Printf("dry-run: total=%d, would send=%d\n", res.Total, res.Total)
	} else {
		fmt.Printf("done: total=%d, sent=%d, errors=%d\n", res.Total, res.Sent, res.Errored)
	}
	return exitOK
}

func runScheduler(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, st, eng, err := openCore(ctx, cfg)
	if err != nil {
		logx.Scheduler().Errorw("db_open_error", "error", err)
		return exitFailure
	}
	defer sqlDB.Close()

	sel := selector.New(st, eng, cfg.Scheduler.RepeatWindow)
	loop := scheduler.New(sel, &cfg.Scheduler)

	if err := loop.Run(ctx); err != nil {
		logx.Scheduler().Errorw("scheduler_error", "error", err)
		return exitFailure
	}
	return exitOK
}

func stopScheduler(cfg *config.Config) int {
	if err := scheduler.Stop(cfg.Scheduler.LockFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	fmt.Println("stop signal sent")
	return exitOK
}

// seedDemo inserts a demo owner with two recipients, one message and one
// mailing whose window is already open.
func seedDemo(ctx context.Context, cfg *config.Config) int {
	sqlDB, st, _, err := openCore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "repository unavailable:", err)
		return exitFailure
	}
	defer sqlDB.Close()

	const owner = "demo@example.com"

	r1 := mailing.Recipient{OwnerEmail: owner, Email: "alice@example.com", Name: "Alice"}
	r2 := mailing.Recipient{OwnerEmail: owner, Email: "bob@example.com", Name: "Bob"}
	for _, r := range []*mailing.Recipient{&r1, &r2} {
		if err := st.InsertRecipient(ctx, r); err != nil {
			fmt.Fprintln(os.Stderr, "seed recipient:", err)
			return exitFailure
		}
	}

	msg := mailing.Message{OwnerEmail: owner, Subject: "Hello from autosend", Body: "This is a demo mailing."}
	if err := st.InsertMessage(ctx, &msg); err != nil {
		fmt.Fprintln(os.Stderr, "seed message:", err)
		return exitFailure
	}

	now := time.Now()
	end := now.Add(24 * time.Hour)
	m := mailing.Mailing{
		OwnerEmail: owner,
		MessageID:  msg.ID,
		StartAt:    now.Add(-time.Minute),
		EndAt:      &end,
	}
	if err := st.InsertMailing(ctx, &m, []int64{r1.ID, r2.ID}); err != nil {
		fmt.Fprintln(os.Stderr, "seed mailing:", err)
		return exitFailure
	}

	fmt.Printf("seeded mailing %d for %s with %d recipients\n", m.ID, owner, 2)
	return exitOK
}
