package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/db"
	"github.com/openmined/treesync/internal/engine/localfs"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <alias>",
		Short: "Delete the sync state of a folder so the next run starts fresh",
		Long:  "Delete the sync state of a folder so the next run starts fresh.\nStop the daemon first, a running folder recreates the state on its next run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.validConfig()
			if err != nil {
				return err
			}
			f, ok := cfg.Folder(args[0])
			if !ok {
				return fmt.Errorf("unknown folder %q", args[0])
			}
			cmd.SilenceUsage = true

			path := filepath.Join(f.Source, localfs.JournalName)
			if err := db.RemoveFiles(path, db.TempCopySuffix); err != nil {
				return fmt.Errorf("reset %q: %w", f.Alias, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s state of %s removed\n", green("ok"), cyan(f.Alias))
			return nil
		},
	}
}
