package cmd

import (
	"context"
	"fmt"

	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/nkthebass/XenoCPUUtility-legacy/score"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newStressCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a CPU or RAM stress session until stopped or its duration passes",
	}
	addSessionFlags(cmd.PersistentFlags())

	ram := newStressModeCmd(a, "ram", "Write and verify bit patterns across a RAM pool", engine.RAMStress)
	addRAMFlags(ram.Flags())

	cmd.AddCommand(
		newStressModeCmd(a, "heavy", "Load every worker with the floating point kernel", engine.CPUStressHeavy),
		newStressModeCmd(a, "instability", "Rotate workers through float, integer, memory, mixed and idle phases", engine.CPUStressInstability),
		ram,
	)
	return cmd
}

// addSessionFlags registers the flags every engine session reads.
func addSessionFlags(flags *pflag.FlagSet) {
	flags.Int("threads", 0, "number of workers (default all logical cores)")
	flags.String("duration", "0", `session length such as "10m"; 0 runs until stopped`)
	flags.Bool("pin", false, "pin each worker to its own CPU")
	flags.String("phase-duration", "2s", "time a worker spends in each instability phase")
	flags.String("grace-period", "2s", "how long stop waits for workers")
}

func addRAMFlags(flags *pflag.FlagSet) {
	flags.String("ram-type", "auto", "memory generation (auto, SDRAM, DDR1..DDR5)")
	flags.String("ram-budget", "", `pool size such as "2GB" (default a quarter of system memory)`)
	flags.String("pass-throttle", "30ms", "pause after each pass")
}

func newStressModeCmd(a *app, use, short string, mode engine.Mode) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSession(cmd, mode)
		},
	}
}

// runSession runs mode under the control socket until it ends, is stopped or
// a signal arrives, then prints the final snapshot.
func (a *app) runSession(cmd *cobra.Command, mode engine.Mode) error {
	ctx, cancel := a.signalContext(cmd.Context())
	defer cancel()

	workers := a.threads()
	opts := a.startOptions()
	switch {
	case mode.IsScore():
		utils.Emitf(a.sink, "Starting %s benchmark...", mode)
	case opts.Duration > 0:
		utils.Emitf(a.sink, "Starting stress test for %v...", opts.Duration)
	default:
		utils.Emitf(a.sink, "Starting stress test until stopped (Ctrl+C or `xeno ctl stop`)...")
	}

	var final engine.Snapshot
	var result *score.Result
	err := a.withSession(ctx, func(ctx context.Context, eng *engine.Engine) error {
		if err := eng.Run(ctx, workers, mode, opts); err != nil {
			return err
		}
		final = eng.Snapshot()
		if res, ok := eng.LastResult(); ok {
			result = &res
		}
		return nil
	})
	if err != nil {
		return err
	}

	utils.Emitf(a.sink, "%s session completed!", mode)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", final)
	if result != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result)
	}
	if final.Totals.MemoryErrors > 0 {
		return fmt.Errorf("%d memory errors detected", final.Totals.MemoryErrors)
	}
	return nil
}
