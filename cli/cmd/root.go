// Package cmd implements the forge CLI.
package cmd

import (
	"io"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foundry-build/forge/cli/app"
)

var (
	version     = "dev"                                // forge version, set at compile time by ldflags
	commit      = ""                                   // forge version's commit hash, set at compile time by ldflags
	headerStyle = color.New(color.FgWhite, color.Bold) // header style used in usage message (usage.go)
)

// BuildRootCmd builds and returns the root forge CLI command, wiring
// every subcommand to a single shared app.App so a flag set once (e.g.
// --workspace) applies no matter which subcommand runs.
func BuildRootCmd(stdout, stderr io.Writer) *cobra.Command {
	forge := app.New(stdout, stderr)
	options := forge.Options
	var noParallel bool

	rootCmd := &cobra.Command{
		Use:           "forge",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "A parallel, incremental Fortran build driver",
		Long: heredoc.Doc(`

		A parallel, incremental Fortran build driver.

		Forge compiles a tree of Fortran sources in dependency order,
		reusing cached object and module files by content hash so a
		rebuild only recompiles what actually changed.

		Running forge with no subcommand compiles the project; use the
		subcommands below to inspect the schedule or reclaim disk space
		without compiling anything.
		`),
		Example: heredoc.Doc(`

		# Compile the project labelled after $CWD, from its workspace source/ tree
		$ forge

		# Compile a project elsewhere, with extra compiler flags
		$ forge --root /path/to/project --flag -O2 --flag -Wall

		# Show the compile wave schedule without compiling
		$ forge graph

		# Reclaim prebuild cache space
		$ forge clean
		`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			options.Multiprocessing = !noParallel
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return forge.Build(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&options.ProjectLabel, "label", "", "Project label, defaults to the project root's base name.")
	flags.StringVar(&options.ProjectRoot, "root", "", "The project root: its base name is the default label and it may hold a .env file (defaults to $CWD).")
	flags.StringVar(&options.FabWorkspace, "workspace", "", "Override the build workspace root ($FAB_WORKSPACE).")
	flags.StringVar(&options.Compiler, "fc", "", "The Fortran compiler executable (defaults to $FC or gfortran).")
	flags.StringArrayVar(&options.Flags, "flag", nil, "A compiler flag to apply to every file, repeatable.")
	flags.BoolVar(&noParallel, "no-parallel", false, "Disable parallel compilation.")
	flags.IntVar(&options.NProcs, "procs", 0, "Worker count for parallel compilation (defaults to the number of CPUs).")
	flags.BoolVar(&options.Verbose, "verbose", false, "Raise the build log to debug level.")

	rootCmd.AddCommand(buildGraphCommand(forge), buildCleanCommand(forge), buildVersionCommand())

	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.SetVersionTemplate(versionTemplate)

	return rootCmd
}
