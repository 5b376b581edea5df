package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mkrasnov/autosend/internal/dispatch"
	"github.com/mkrasnov/autosend/internal/gateway"
	"github.com/mkrasnov/autosend/internal/report"
	"github.com/mkrasnov/autosend/internal/store"
	"github.com/mkrasnov/autosend/pkg/config"
	"github.com/mkrasnov/autosend/pkg/db"
	"github.com/mkrasnov/autosend/pkg/logx"
	"github.com/mkrasnov/autosend/services/mailer-api/server"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		logx.L().Fatalw("config_load_error", "error", err)
	}

	logx.Init(logx.Options{
		Dir:        cfg.Log.Dir,
		RetainDays: cfg.Log.RetainDays,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Level:      cfg.Log.Level,
	})
	defer logx.Sync()

	sqlDB, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		}
	}()

	st := store.New(sqlDB)
	eng := dispatch.New(st, gateway.FromConfig(&cfg.SMTP), cfg.SMTP.RatePerSec)
	rep := report.New(st)

	h := server.NewHandlers(st, eng, rep)
	srv := server.NewHTTPServer(cfg.Server.Addr(), h)
	srv.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	srv.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second

	go func() {
		logx.L().Infow("api_listen_start", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}
}
