package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/config"
)

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <alias> <source> <target>",
		Short: "Add a folder pair to the config file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath()

			cfg := *a.cfg
			cfg.Folders = append(append([]config.Folder(nil), a.cfg.Folders...), config.Folder{
				Alias:  args[0],
				Source: args[1],
				Target: args[2],
			})
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			cmd.SilenceUsage = true

			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("config save: %w", err)
			}
			a.cfg = &cfg
			fmt.Fprintf(cmd.OutOrStdout(), "%s added %s to %s\n", green("ok"), cyan(args[0]), path)
			return nil
		},
	}
}
