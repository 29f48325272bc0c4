package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"exodusd/internal/pipeline"
	"exodusd/internal/tier"
)

var (
	sourceID            string
	sourceName          string
	sourceType          string
	sourceAPYBps        uint16
	sourceWeightBps     uint16
	sourceMinDeposit    uint64
	sourceMaxAllocation uint64
)

var registerSourceCmd = &cobra.Command{
	Use:   "register-source",
	Short: "Register a yield source under the configured authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, ok := tier.ParseSourceType(sourceType)
		if !ok {
			return fmt.Errorf("invalid --type %q (expected tbill, lending, staking or synthetic)", sourceType)
		}

		err := getApp().RegisterSource(cmd.Context(), pipeline.SourceParams{
			ID:                  sourceID,
			Name:                sourceName,
			Type:                st,
			APYBps:              sourceAPYBps,
			AllocationWeightBps: sourceWeightBps,
			MinDeposit:          sourceMinDeposit,
			MaxAllocation:       sourceMaxAllocation,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registered source %s\n", sourceID)
		return nil
	},
}

func init() {
	registerSourceCmd.Flags().StringVar(&sourceID, "id", "", "Source identifier")
	registerSourceCmd.Flags().StringVar(&sourceName, "name", "", "Human readable name")
	registerSourceCmd.Flags().StringVar(&sourceType, "type", "tbill", "Source type: tbill, lending, staking or synthetic")
	registerSourceCmd.Flags().Uint16Var(&sourceAPYBps, "apy-bps", 0, "Target APY in basis points")
	registerSourceCmd.Flags().Uint16Var(&sourceWeightBps, "weight-bps", 0, "Allocation weight in basis points")
	registerSourceCmd.Flags().Uint64Var(&sourceMinDeposit, "min-deposit", 0, "Minimum deposit in minor units")
	registerSourceCmd.Flags().Uint64Var(&sourceMaxAllocation, "max-allocation", 0, "Maximum total allocation in minor units (0 = unlimited)")
	_ = registerSourceCmd.MarkFlagRequired("id")
	_ = registerSourceCmd.MarkFlagRequired("name")
}
