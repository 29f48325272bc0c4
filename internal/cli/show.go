package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"exodusd/internal/app"
)

var (
	showOwner string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display protocol state and, with --owner, a user's position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Owner: showOwner,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showOwner, "owner", "", "Show this user's position and history")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of deposits and conversions to display")
}
