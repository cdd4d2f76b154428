package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"mensageria_assinada/internal/hub"
)

type Config struct {
	Addr           string        `env:"SIGCHAT_ADDR,default=:8080"`
	TLSCertFile    string        `env:"SIGCHAT_TLS_CERT"`
	TLSKeyFile     string        `env:"SIGCHAT_TLS_KEY"`
	AllowedOrigins string        `env:"SIGCHAT_ALLOWED_ORIGINS,default=*"`
	SendBuffer     int           `env:"SIGCHAT_SEND_BUFFER,default=256"`
	WriteWait      time.Duration `env:"SIGCHAT_WRITE_WAIT,default=10s"`
	PongWait       time.Duration `env:"SIGCHAT_PONG_WAIT,default=60s"`
	PingPeriod     time.Duration `env:"SIGCHAT_PING_PERIOD,default=54s"`
	MaxMessageSize int64         `env:"SIGCHAT_MAX_MESSAGE_SIZE,default=1048576"`
	AuditDSN       string        `env:"SIGCHAT_AUDIT_DSN"`
	AuditQueue     int           `env:"SIGCHAT_AUDIT_QUEUE,default=1024"`
	LogLevel       string        `env:"SIGCHAT_LOG_LEVEL,default=info"`
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SIGCHAT_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("SIGCHAT_PING_PERIOD (%s) must be shorter than SIGCHAT_PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("SIGCHAT_TLS_CERT and SIGCHAT_TLS_KEY must be set together")
	}
	return nil
}

func (c Config) Hub() hub.Config {
	return hub.Config{
		SendBuffer:     c.SendBuffer,
		WriteWait:      c.WriteWait,
		PongWait:       c.PongWait,
		PingPeriod:     c.PingPeriod,
		MaxMessageSize: c.MaxMessageSize,
	}
}

func (c Config) Origins() []string {
	origins := lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	})
	return lo.Compact(origins)
}

func (c Config) TLS() bool {
	return c.TLSCertFile != ""
}

func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
