package cli

import (
	"github.com/spf13/cobra"

	"exodusd/internal/pipeline"
)

var (
	updateConversionFeeBps  uint16
	updateManagementFeeBps  uint16
	updatePerformanceFeeBps uint16
)

var updateFeesCmd = &cobra.Command{
	Use:   "update-fees",
	Short: "Change the fee schedule under the configured authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		var update pipeline.FeeUpdate
		if cmd.Flags().Changed("conversion-fee-bps") {
			update.ConversionFeeBps = &updateConversionFeeBps
		}
		if cmd.Flags().Changed("management-fee-bps") {
			update.ManagementFeeBps = &updateManagementFeeBps
		}
		if cmd.Flags().Changed("performance-fee-bps") {
			update.PerformanceFeeBps = &updatePerformanceFeeBps
		}
		return getApp().UpdateFees(cmd.Context(), update)
	},
}

var (
	updateSourceID      string
	updateAPYBps        uint16
	updateWeightBps     uint16
	updateMinDeposit    uint64
	updateMaxAllocation uint64
	updateSourceActive  bool
)

var updateSourceCmd = &cobra.Command{
	Use:   "update-source",
	Short: "Change a yield source under the configured authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		var update pipeline.SourceUpdate
		if cmd.Flags().Changed("apy-bps") {
			update.APYBps = &updateAPYBps
		}
		if cmd.Flags().Changed("weight-bps") {
			update.AllocationWeightBps = &updateWeightBps
		}
		if cmd.Flags().Changed("min-deposit") {
			update.MinDeposit = &updateMinDeposit
		}
		if cmd.Flags().Changed("max-allocation") {
			update.MaxAllocation = &updateMaxAllocation
		}
		if cmd.Flags().Changed("active") {
			update.Active = &updateSourceActive
		}
		return getApp().UpdateSource(cmd.Context(), updateSourceID, update)
	},
}

func init() {
	updateFeesCmd.Flags().Uint16Var(&updateConversionFeeBps, "conversion-fee-bps", 0, "New conversion fee in basis points")
	updateFeesCmd.Flags().Uint16Var(&updateManagementFeeBps, "management-fee-bps", 0, "New management fee in basis points")
	updateFeesCmd.Flags().Uint16Var(&updatePerformanceFeeBps, "performance-fee-bps", 0, "New performance fee in basis points")

	updateSourceCmd.Flags().StringVar(&updateSourceID, "id", "", "Source identifier")
	updateSourceCmd.Flags().Uint16Var(&updateAPYBps, "apy-bps", 0, "New target APY in basis points")
	updateSourceCmd.Flags().Uint16Var(&updateWeightBps, "weight-bps", 0, "New allocation weight in basis points")
	updateSourceCmd.Flags().Uint64Var(&updateMinDeposit, "min-deposit", 0, "New minimum deposit in minor units")
	updateSourceCmd.Flags().Uint64Var(&updateMaxAllocation, "max-allocation", 0, "New maximum allocation in minor units (0 = unlimited)")
	updateSourceCmd.Flags().BoolVar(&updateSourceActive, "active", true, "Whether the source accepts deposits")
	_ = updateSourceCmd.MarkFlagRequired("id")
}
