package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all service configuration, loaded from the environment.
type Config struct {
	Server    ServerConfig    `env:",prefix=SERVER_"`
	Database  DatabaseConfig  `env:",prefix=DB_"`
	SMTP      SMTPConfig      `env:",prefix=SMTP_"`
	Scheduler SchedulerConfig `env:",prefix=SCHEDULER_"`
	Log       LogConfig       `env:",prefix=LOG_"`
}

type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=autosend"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

type SMTPConfig struct {
	Host        string        `env:"HOST,default=localhost"`
	Port        int           `env:"PORT,default=587"`
	User        string        `env:"USER"`
	Password    string        `env:"PASSWORD"`
	From        string        `env:"FROM,default=no-reply@example.com"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT,default=10s"`
	ConsoleOnly bool          `env:"CONSOLE_ONLY,default=false"`
	// RatePerSec limits outbound sends; 0 disables pacing.
	RatePerSec int `env:"RATE_PER_SEC,default=0"`
}

type SchedulerConfig struct {
	Interval      time.Duration `env:"INTERVAL,default=1m"`
	LockFile      string        `env:"LOCK_FILE,default=/tmp/autosend-scheduler.pid"`
	HealthPort    string        `env:"HEALTH_PORT,default=8090"`
	RepeatWindow  time.Duration `env:"REPEAT_WINDOW,default=5m"`
	TickTimeout   time.Duration `env:"TICK_TIMEOUT,default=10m"`
}

type LogConfig struct {
	Level      string `env:"LEVEL,default=info"`
	Dir        string `env:"DIR,default=./log"`
	RetainDays int    `env:"RETAIN_DAYS,default=14"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB,default=50"`
	MaxBackups int    `env:"MAX_BACKUPS,default=30"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
