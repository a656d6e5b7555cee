package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
	"docchat/internal/tui"
)

func newTUICmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Ask questions in an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *bootstrap.App) error {
				p := tea.NewProgram(
					tui.New(cmd.Context(), a.Documents, mode),
					tea.WithAltScreen(),
					tea.WithContext(cmd.Context()),
				)
				_, err := p.Run()
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Retrieval mode: vector, keyword, hybrid (default from config)")
	return cmd
}
