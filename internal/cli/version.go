package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"exodusd/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "exodusd %s\n", version.String())
	},
}
