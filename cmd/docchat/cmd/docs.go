package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
)

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *bootstrap.App) error {
				docs := a.Documents.ListDocuments()
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no documents indexed")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "FILE\tINDEX\tSTRATEGY\tPASSAGES\tINDEXED")
				for _, d := range docs {
					indexed := "-"
					if d.IndexedAt != nil {
						indexed = d.IndexedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.FileName, d.IndexID, orDash(d.Strategy), d.Passages, indexed)
				}
				return w.Flush()
			})
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
