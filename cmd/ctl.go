package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/control"
	"github.com/spf13/cobra"
)

func newCtlCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running session over its socket",
	}
	cmd.PersistentFlags().Duration("timeout", 5*time.Second, "how long to keep trying to reach the session")

	for _, c := range []struct{ command, short string }{
		{control.CmdPause, "Pause the running session"},
		{control.CmdResume, "Resume a paused session"},
		{control.CmdStop, "Stop the running session"},
		{control.CmdStatus, "Print the state of the session"},
	} {
		command := c.command
		cmd.AddCommand(&cobra.Command{
			Use:   strings.ToLower(command),
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				timeout, err := cmd.Flags().GetDuration("timeout")
				if err != nil {
					return err
				}
				client := control.NewClient(a.settings.Socket, a.sink)
				client.RetryWindow = timeout

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout+a.settings.GracePeriod+time.Second)
				defer cancel()

				reply, err := client.Send(ctx, command)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			},
		})
	}
	return cmd
}
