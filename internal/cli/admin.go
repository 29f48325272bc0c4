package cli

import (
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Halt deposits, withdrawals and settlement",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Pause(cmd.Context())
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Lift a pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Resume(cmd.Context())
	},
}
