package cmd

import (
	"fmt"

	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print CPU, memory and module inventory and the RAM plan a stress run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, systeminfo.GetSystemInfo(a.hw))

			profile := memory.DetermineProfile(a.settings.RamType, a.hw, a.sink)
			total := a.hw.TotalSystemMemoryBytes()
			if total == 0 {
				total = memory.FallbackSystemBytes
			}
			plan := memory.BuildPlan(total, profile)
			if a.settings.RamBudgetBytes > 0 {
				plan = memory.BuildPlanForBudget(a.settings.RamBudgetBytes, profile)
			}
			fmt.Fprintf(out, "RAM Profile: %s\n", profile)
			fmt.Fprintf(out, "RAM Plan: %s in %d buffers\n", utils.FormatSize(int64(plan.TotalBudgetBytes)), len(plan.BufferSizes))
			return nil
		},
	}
}
