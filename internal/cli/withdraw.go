package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	withdrawOwner  string
	withdrawSource string
	withdrawShares uint64
	withdrawAsJPY  bool
)

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Burn shares and pay out USDC at the current NAV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if withdrawShares == 0 {
			return fmt.Errorf("--shares must be greater than zero")
		}

		out, err := getApp().Withdraw(cmd.Context(), withdrawOwner, withdrawSource, withdrawShares, withdrawAsJPY)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "paid out %d USDC minor units\n", out)
		return nil
	},
}

var (
	claimOwner  string
	claimSource string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Realize accrued yield net of the performance fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		net, err := getApp().ClaimYield(cmd.Context(), claimOwner, claimSource)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "claimed %d USDC minor units\n", net)
		return nil
	},
}

func init() {
	withdrawCmd.Flags().StringVar(&withdrawOwner, "owner", "", "Position owner")
	withdrawCmd.Flags().StringVar(&withdrawSource, "source", "", "Yield source identifier")
	withdrawCmd.Flags().Uint64Var(&withdrawShares, "shares", 0, "Shares to burn, in minor units")
	withdrawCmd.Flags().BoolVar(&withdrawAsJPY, "jpy", false, "Request payout in JPY instead of USDC")
	_ = withdrawCmd.MarkFlagRequired("owner")
	_ = withdrawCmd.MarkFlagRequired("source")

	claimCmd.Flags().StringVar(&claimOwner, "owner", "", "Position owner")
	claimCmd.Flags().StringVar(&claimSource, "source", "", "Yield source identifier")
	_ = claimCmd.MarkFlagRequired("owner")
	_ = claimCmd.MarkFlagRequired("source")
}
