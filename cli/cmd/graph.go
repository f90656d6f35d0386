package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/foundry-build/forge/cli/app"
)

// buildGraphCommand wires `forge graph`.
func buildGraphCommand(forge *app.App) *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Args:  cobra.NoArgs,
		Short: "Print the compile wave schedule without compiling",
		Long: heredoc.Doc(`

		Print the compile wave schedule without compiling.

		Discovers the project's Fortran sources, resolves their module
		dependencies into a DAG, and prints the wave-by-wave order the
		compile scheduler would use.
		`),
		Example: heredoc.Doc(`

		$ forge graph
		$ forge graph --root /path/to/project
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forge.Graph(cmd.Context())
		},
	}

	return graphCmd
}
