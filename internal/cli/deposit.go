package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	depositOwner      string
	depositSource     string
	depositCurrency   string
	depositAmount     uint64
	depositMinUSDCOut uint64
)

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Deposit JPY (queued for conversion) or USDC (credited immediately)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if depositAmount == 0 {
			return fmt.Errorf("--amount must be greater than zero")
		}

		switch depositCurrency {
		case "jpy":
			nonce, err := getApp().DepositJPY(cmd.Context(), depositOwner, depositSource, depositAmount, depositMinUSDCOut)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending deposit queued with nonce %d\n", nonce)
			return nil
		case "usdc":
			if depositMinUSDCOut != 0 {
				return fmt.Errorf("--min-usdc-out only applies to JPY deposits")
			}
			shares, err := getApp().DepositUSDC(cmd.Context(), depositOwner, depositSource, depositAmount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "minted %d shares\n", shares)
			return nil
		default:
			return fmt.Errorf("invalid --currency %q (expected jpy or usdc)", depositCurrency)
		}
	},
}

var (
	cancelOwner string
	cancelNonce uint64
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a still-pending JPY deposit and release its funds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().CancelDeposit(cmd.Context(), cancelOwner, cancelNonce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled deposit %d\n", cancelNonce)
		return nil
	},
}

func init() {
	depositCmd.Flags().StringVar(&depositOwner, "owner", "", "Depositor identifier")
	depositCmd.Flags().StringVar(&depositSource, "source", "", "Yield source identifier")
	depositCmd.Flags().StringVar(&depositCurrency, "currency", "jpy", "Deposit currency: jpy or usdc")
	depositCmd.Flags().Uint64Var(&depositAmount, "amount", 0, "Amount in minor units (6 decimals)")
	depositCmd.Flags().Uint64Var(&depositMinUSDCOut, "min-usdc-out", 0, "Slippage floor for JPY conversion, in USDC minor units")
	_ = depositCmd.MarkFlagRequired("owner")
	_ = depositCmd.MarkFlagRequired("source")

	cancelCmd.Flags().StringVar(&cancelOwner, "owner", "", "Depositor identifier")
	cancelCmd.Flags().Uint64Var(&cancelNonce, "nonce", 0, "Nonce of the pending deposit")
	_ = cancelCmd.MarkFlagRequired("owner")
	_ = cancelCmd.MarkFlagRequired("nonce")
}
