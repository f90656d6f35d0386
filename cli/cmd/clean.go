package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/foundry-build/forge/cli/app"
)

// buildCleanCommand wires `forge clean`, a forced housekeeping sweep of
// the project's prebuild cache.
func buildCleanCommand(forge *app.App) *cobra.Command {
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove every cached prebuild artefact",
		Long: heredoc.Doc(`

		Remove every cached prebuild artefact.

		By default sweeps the project's prebuild folder unconditionally,
		the same default hard cleanup a build applies to artefacts a run
		no longer produced. Use this to force a completely clean rebuild.
		With --older-than, only prebuilds whose access time is older than
		the given duration are removed.
		`),
		Example: heredoc.Doc(`

		$ forge clean
		$ forge clean --older-than 72h
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forge.Clean(cmd.Context())
		},
	}

	cleanCmd.Flags().DurationVar(&forge.Options.OlderThan, "older-than", 0,
		"Only remove prebuilds untouched for longer than this (defaults to removing everything unused).")

	return cleanCmd
}
