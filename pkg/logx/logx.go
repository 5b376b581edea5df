package logx

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where subsystem loggers write besides stdout.
type Options struct {
	Dir          string // log directory; empty disables file sinks
	RetainDays   int    // prune rotated files older than this
	MaxSizeMB    int
	MaxBackups   int
	Level        string
	DisableFiles bool
}

var (
	mu      sync.Mutex
	opts    Options
	loggers = map[string]*zap.SugaredLogger{}
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func Init(o Options) {
	mu.Lock()
	defer mu.Unlock()
	if o.Level == "" {
		o.Level = os.Getenv("LOG_LEVEL")
	}
	if o.RetainDays <= 0 {
		o.RetainDays = 14
	}
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 50
	}
	opts = o
	loggers = map[string]*zap.SugaredLogger{}
}

func build(subsystem string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	level := parseLevel(opts.Level)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}
	if opts.Dir != "" && !opts.DisableFiles {
		sink := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, subsystem+".log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.RetainDays,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(sink), level))
	}

	z := zap.New(zapcore.NewTee(cores...))
	return z.Sugar().With("subsystem", subsystem)
}

// For returns the named subsystem logger, building it on first use.
func For(subsystem string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if lg, ok := loggers[subsystem]; ok {
		return lg
	}
	lg := build(subsystem)
	loggers[subsystem] = lg
	return lg
}

// L is the application-wide default logger.
func L() *zap.SugaredLogger { return For("app") }

// Scheduler is the scheduler subsystem logger.
func Scheduler() *zap.SugaredLogger { return For("scheduler") }

func Sync() {
	mu.Lock()
	defer mu.Unlock()
	for _, lg := range loggers {
		_ = lg.Sync()
	}
}
