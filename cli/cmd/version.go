package cmd

import (
	"fmt"
	"text/template"

	"github.com/spf13/cobra"
)

var (
	buildDate = "unknown" // set at compile time by ldflags
	builtBy   = "unknown" // set at compile time by ldflags
)

var versionTemplate = fmt.Sprintf(
	`{{printf "%s %s\n%s %s\n%s %s\n%s %s\n"}}`,
	headerStyle.Sprint("Version:"),
	version,
	headerStyle.Sprint("Commit:"),
	commit,
	headerStyle.Sprint("Build Date:"),
	buildDate,
	headerStyle.Sprint("Built By:"),
	builtBy,
)

// buildVersionCommand wires an explicit `forge version`, rendering the
// same template rootCmd's --version flag uses: version, commit, build
// date and builder, set at compile time by ldflags.
func buildVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Args:  cobra.NoArgs,
		Short: "Print forge's version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := template.New("version").Parse(versionTemplate)
			if err != nil {
				return err
			}
			return tmpl.Execute(cmd.OutOrStdout(), nil)
		},
	}

	return versionCmd
}
