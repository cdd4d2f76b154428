package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"mensageria_assinada/internal/identity"
)

type config struct {
	Secret   string `env:"SIGCHAT_SECRET"`
	Server   string `env:"SIGCHAT_SERVER,default=http://localhost:8080"`
	LogLevel string `env:"SIGCHAT_LOG_LEVEL,default=warn"`
}

var (
	cfg       config
	serverURL string
)

var errNoSecret = errors.New("SIGCHAT_SECRET is not set")

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRoot().ExecuteContext(ctx)
}

func newRoot() *cobra.Command {
	cfg, serverURL = config{}, ""
	root := &cobra.Command{
		Use:          "sigchat",
		Short:        "Signed messaging client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if serverURL == "" {
				serverURL = cfg.Server
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
				level = slog.LevelWarn
			}
			slog.SetDefault(slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
				Level:      level,
				TimeFormat: time.TimeOnly,
			})))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $SIGCHAT_SERVER or http://localhost:8080)")

	root.AddCommand(whoamiCmd(), signCmd(), verifyCmd(), whoCmd(), sendCmd(), listenCmd())
	return root
}

// loadIdentity derives the caller's key pair from SIGCHAT_SECRET.
func loadIdentity() (*identity.KeyPair, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	return identity.Derive([]byte(cfg.Secret), nil)
}
