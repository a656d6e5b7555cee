package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docchat/internal/app"
	"docchat/internal/bootstrap"
)

type askOptions struct {
	mode    string
	topK    int
	format  string
	sources bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Answer a question about an indexed document",
		Long: `Ask reopens the index recorded for <file> and answers the question.

Examples:
  docchat ask report.pdf "What were the Q3 results?"
  docchat ask report.pdf revenue growth --mode hybrid --sources`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return withApp(cmd.Context(), func(a *bootstrap.App) error {
				answer, err := a.Documents.Ask(cmd.Context(), app.AskInput{
					FileName: args[0],
					Question: question,
					Mode:     opts.mode,
					TopK:     opts.topK,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.format == "json" {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(answer)
				}
				fmt.Fprintln(out, answer.Text)
				if opts.sources {
					for _, s := range answer.Sources {
						fmt.Fprintf(out, "  [%s #%d score=%.3f]\n", s.FileName, s.Seq, s.Score)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Retrieval mode: vector, keyword, hybrid (default from config)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Passages to retrieve (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.sources, "sources", false, "Print the passages the answer was grounded on")
	return cmd
}
