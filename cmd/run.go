package cmd

import (
	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run MODE",
		Short: "Run an engine session of any mode by name",
		Long: "Run an engine session of any mode by name, controllable over the socket.\n" +
			"Modes: single-score, multi-score, cpu-heavy, cpu-instability, ram.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := engine.ParseMode(args[0])
			if err != nil {
				return err
			}
			return a.runSession(cmd, mode)
		},
	}
	addSessionFlags(cmd.Flags())
	addRAMFlags(cmd.Flags())
	return cmd
}
