package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newIndexCmd(flags *rootFlags) *cobra.Command {
	var (
		kbPath string
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the embedding cache for the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if kbPath != "" {
				cfg.Knowledge.Path = kbPath
			}
			ix, _, store, err := buildIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %d documents\n", ix.Len())
			fmt.Fprintf(out, "Embedding cache: %s\n", store.Path())
			if list {
				for _, d := range ix.Documents() {
					fmt.Fprintf(out, "%4d  %s\n", d.ID, preview(d.Text, 72))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kbPath, "kb", "", "Knowledge base file (overrides knowledge.path)")
	cmd.Flags().BoolVar(&list, "list", false, "Print every indexed document")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
