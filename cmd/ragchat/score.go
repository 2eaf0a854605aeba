package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ragchat/internal/archive"
	"ragchat/internal/domain"
	"ragchat/internal/metric"
	"ragchat/internal/replay"
)

func newScoreCmd(_ *rootFlags) *cobra.Command {
	var (
		archiveDB string
		runID     string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "score [results.json]",
		Short: "Score batch replay output with smoothed sentence BLEU",
		Long: "Score a result file, or an archived run with --archive and --run.\n" +
			"With --archive and no --run, list the archived runs.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var (
				results []replay.DialogueResult
				err     error
			)
			switch {
			case len(args) == 1:
				results, err = metric.LoadResults(args[0])
			case archiveDB != "":
				store, openErr := archive.Open(archiveDB)
				if openErr != nil {
					return openErr
				}
				defer store.Close()
				if runID == "" {
					return listRuns(cmd, store)
				}
				results, err = store.LoadRun(cmd.Context(), runID)
			default:
				return domain.Ef(domain.ErrValidation, "score", "give a results file or --archive")
			}
			if err != nil {
				return err
			}

			summary := metric.Summarize(results)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "    ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "Average BLEU score: %.4f\n", summary.Mean)
			fmt.Fprintf(out, "Scored %d turns, skipped %d\n", summary.Scorable, summary.Skipped)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DIALOGUE\tSCORED\tMEAN")
			for _, d := range summary.Dialogues {
				fmt.Fprintf(tw, "%d\t%d\t%.4f\n", d.DialogueID, d.Scorable, d.Mean)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&archiveDB, "archive", "", "SQLite replay archive")
	f.StringVar(&runID, "run", "", "Archived run id")
	f.BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func listRuns(cmd *cobra.Command, store *archive.Store) error {
	runs, err := store.Runs(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tBACKEND\tDIALOGUES\tRESULTS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Backend, r.Dialogues, r.ResultPath)
	}
	return tw.Flush()
}
