package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ragchat/internal/config"
	"ragchat/internal/domain"
)

type rootFlags struct {
	configPath string
	logLevel   string
	backend    string
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Multi-turn chat backends, retrieval and batch replay scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
			lvl, err := zerolog.ParseLevel(flags.logLevel)
			if err != nil {
				return domain.Ef(domain.ErrConfig, "parse log level", "invalid --log-level %q", flags.logLevel)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to YAML config file (optional; uses ./ragchat.yaml or ~/.config/ragchat/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&flags.backend, "backend", "", "Override backend.type (echo, llm, rag, order)")

	root.AddCommand(
		newChatCmd(flags),
		newReplayCmd(flags),
		newScoreCmd(flags),
		newIndexCmd(flags),
	)
	return root
}

// loadConfig reads the configured or default config file and applies the
// root flag overrides.
func loadConfig(flags *rootFlags) (*config.AppConfig, error) {
	var (
		cfg  *config.AppConfig
		path = flags.configPath
		err  error
	)
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}
	if flags.backend != "" {
		cfg.Backend.Type = flags.backend
	}
	log.Debug().Str("path", path).Str("backend", cfg.Backend.Type).Msg("config loaded")
	return cfg, nil
}

// logToFile points the global logger at dir/name. The returned func restores
// the previous logger and closes the file.
func logToFile(dir, name string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, domain.E(domain.ErrIO, "open log file", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, domain.E(domain.ErrIO, "open log file", err)
	}
	prev := log.Logger
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return path, func() {
		log.Logger = prev
		_ = f.Close()
	}, nil
}
