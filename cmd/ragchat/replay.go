package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragchat/internal/archive"
	"ragchat/internal/metric"
	"ragchat/internal/replay"
)

func newReplayCmd(flags *rootFlags) *cobra.Command {
	var (
		output    string
		alignment string
		failFast  bool
		archiveDB string
		score     bool
	)
	cmd := &cobra.Command{
		Use:   "replay <dialogues.json>",
		Short: "Replay scripted dialogues through the backend and save the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("alignment") {
				cfg.Replay.Alignment = alignment
			}
			if cmd.Flags().Changed("fail-fast") {
				cfg.Replay.FailFast = failFast
			}
			if archiveDB != "" {
				cfg.Replay.ArchivePath = archiveDB
			}
			align, err := replay.ParseAlignment(cfg.Replay.Alignment)
			if err != nil {
				return err
			}

			dialogues, err := replay.LoadDialogues(args[0])
			if err != nil {
				return err
			}
			a, err := assemble(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := &replay.Engine{
				Backend:   a.backend,
				LogsDir:   cfg.LogsDir,
				Alignment: align,
				FailFast:  cfg.Replay.FailFast,
			}
			results, err := engine.Run(cmd.Context(), dialogues)
			if err != nil {
				return err
			}
			path, err := engine.WriteResults(output, results)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch replay completed. Results saved to %s\n", path)
			if n := replay.Failures(results); n > 0 {
				fmt.Fprintf(out, "%d turns have no response (see meta.error)\n", n)
			}

			if cfg.Replay.ArchivePath != "" {
				store, err := archive.Open(cfg.Replay.ArchivePath)
				if err != nil {
					return err
				}
				defer store.Close()
				id, err := store.SaveRun(cmd.Context(), archive.Run{Backend: string(a.backend.Kind()), ResultPath: path}, results)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Archived as run %s\n", id)
			}
			if score {
				fmt.Fprintf(out, "Average BLEU score: %.4f\n", metric.Score(results))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "Result file (default <logs_dir>/batch_output_<timestamp>.json)")
	f.StringVar(&alignment, "alignment", "", "Ground truth alignment: lenient or strict")
	f.BoolVar(&failFast, "fail-fast", false, "Abort on the first backend service error")
	f.StringVar(&archiveDB, "archive", "", "SQLite file to archive the run in")
	f.BoolVar(&score, "score", false, "Print the BLEU score after the run")
	return cmd
}
