package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no config or logger needed
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return printJSON(cmd.OutOrStdout(), version.Info())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.DetailedWithApp())
			return err
		},
	}
	versionCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return versionCmd
}
