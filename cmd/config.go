package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/nkthebass/XenoCPUUtility-legacy/config"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check %s: %w", path, err)
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", config.DefaultFile, "where to write the file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := toml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
