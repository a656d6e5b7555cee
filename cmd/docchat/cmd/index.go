package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docchat/internal/app"
	"docchat/internal/bootstrap"
	"docchat/internal/reader"
)

func newIndexCmd() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index one or more files and record them in the document list",
		Long: `Index copies each file into the files directory, extracts its text with the
chosen strategy and builds a new vector index for it.

Examples:
  docchat index report.pdf
  docchat index --strategy pdf-pages thesis.pdf
  docchat index --strategy directory notes.md data.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s reader.Strategy
			if strategy != "" {
				parsed, err := reader.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				s = parsed
			}

			return withApp(cmd.Context(), func(a *bootstrap.App) error {
				files := make([]app.UploadFile, 0, len(args))
				for _, path := range args {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("open %s failed: %w", path, err)
					}
					defer f.Close()
					files = append(files, app.UploadFile{Name: path, Body: f})
				}

				res, err := a.Documents.Upload(cmd.Context(), files, s)
				for _, doc := range res.Documents {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d passages\n", doc.FileName, doc.IndexID, doc.Passages)
				}
				if res.SaveError != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: document list not saved: %v\n", res.SaveError)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Extraction strategy: pdf, pdf-pages, directory, remote (default from config)")
	return cmd
}
