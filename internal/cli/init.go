package cli

import (
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the protocol config from the configured genesis parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Init(cmd.Context())
	},
}
