package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolusask/indra-db/version"
)

var versionJSON bool

// VersionCmd prints the build metadata of the installed binary.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()
		if versionJSON {
			return printJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info)
		fmt.Fprintf(cmd.OutOrStdout(), "go %s on %s\n", info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&versionJSON, "json", "j", false, "Emit the metadata as JSON")
}
