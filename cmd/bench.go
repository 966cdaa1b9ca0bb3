package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/nkthebass/XenoCPUUtility-legacy/score"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"github.com/spf13/cobra"
)

func newBenchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a timed CPU benchmark and print its score",
	}
	flags := cmd.PersistentFlags()
	flags.Int("runs", 1, "number of runs")
	flags.Duration("duration", 0, "length of each run (default 10s single, 6s multi)")
	flags.Int("threads", 0, "workers for the multi-core run (default all logical cores)")
	flags.Bool("session", false, "run as a session that `xeno ctl` can pause and stop")

	cmd.AddCommand(
		newBenchKindCmd(a, "single", "Single-Core", score.SingleCore),
		newBenchKindCmd(a, "multi", "Multi-Core", score.MultiCore),
	)
	return cmd
}

func newBenchKindCmd(a *app, use, title string, kind score.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Run the %s benchmark", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := cmd.Flags().GetBool("session")
			if err != nil {
				return err
			}

			ctx, cancel := a.signalContext(cmd.Context())
			defer cancel()

			workers := 1
			if kind == score.MultiCore {
				workers = a.threads()
			}
			target := a.settings.Duration
			if target <= 0 {
				target = kind.DefaultDuration()
			}
			runs := a.settings.Runs
			out := cmd.OutOrStdout()

			onRun := func(run int, r score.Result) {
				fmt.Fprintf(out, "%s: %.1f (Elapsed: %dms) (Run %d/%d)\n", title, r.Value, r.Elapsed.Milliseconds(), run, runs)
				utils.Emitf(a.sink, "%s", r)
			}

			utils.Emitf(a.sink, "Starting %s benchmark with %d workers for %v, %d run(s)...", kind, workers, target, runs)

			var results []score.Result
			if session {
				err = a.withSession(ctx, func(ctx context.Context, eng *engine.Engine) error {
					var rerr error
					results, rerr = score.Repeat(ctx, runs, sessionRun(eng, workers, kind, target, a.startOptions()), onRun)
					return rerr
				})
			} else {
				results, err = score.Repeat(ctx, runs, standaloneRun(workers, kind, target), onRun)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s: Completed %d run(s), %s\n", title, len(results), score.Summarize(results))
			return nil
		},
	}
}

// standaloneRun uses the standard entry points when nothing was overridden.
func standaloneRun(workers int, kind score.Kind, target time.Duration) func(context.Context) (score.Result, error) {
	switch {
	case kind == score.SingleCore && workers == 1 && target == score.SingleCoreDuration:
		return score.RunSingleThread
	case kind == score.MultiCore && workers == runtime.NumCPU() && target == score.MultiCoreDuration:
		return score.RunMultiThread
	}
	return func(ctx context.Context) (score.Result, error) {
		return score.RunTimedWorkload(ctx, workers, target, kind)
	}
}

var errBenchInterrupted = errors.New("benchmark stopped before its deadline")

// sessionRun runs one benchmark as an engine session.
func sessionRun(eng *engine.Engine, workers int, kind score.Kind, target time.Duration, opts engine.StartOptions) func(context.Context) (score.Result, error) {
	mode := engine.SingleScore
	if kind == score.MultiCore {
		mode = engine.MultiScore
	}
	opts.Duration = target

	return func(ctx context.Context) (score.Result, error) {
		if err := eng.Run(ctx, workers, mode, opts); err != nil {
			return score.Result{}, err
		}
		if err := ctx.Err(); err != nil {
			return score.Result{}, err
		}
		res, ok := eng.LastResult()
		if !ok {
			return score.Result{}, errBenchInterrupted
		}
		return res, nil
	}
}
