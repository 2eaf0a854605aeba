package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ragchat/internal/session"
	"ragchat/internal/tui"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := assemble(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sess := session.New(session.WithLogsDir(cfg.LogsDir))
			m := tui.New(cmd.Context(), a.backend, sess, a.Summary(cfg.Knowledge.SummarySentences))

			// The alt screen owns the terminal until the program exits.
			logPath, restore, err := logToFile(cfg.LogsDir, "chat.log")
			if err != nil {
				return err
			}
			final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			restore()
			log.Debug().Str("path", logPath).Msg("chat log written")
			if err != nil {
				return err
			}
			if fm, ok := final.(tui.Model); ok && fm.SavedPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation saved to %s\n", fm.SavedPath)
			}
			return nil
		},
	}
}
