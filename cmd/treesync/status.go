package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/apiclient"
	"github.com/openmined/treesync/internal/controlplane"
	"github.com/openmined/treesync/internal/folder"
	"github.com/openmined/treesync/internal/jsonx"
)

func (a *app) client() *apiclient.Client {
	return apiclient.New(a.cfg.ControlPlane.Addr, a.cfg.ControlPlane.Token)
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	statusCmd := &cobra.Command{
		Use:   "status [alias]",
		Short: "Show the folders of a running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c := a.client()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				st, err := c.Folder(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, st)
				}
				printFolders(out, []folder.Status{*st})
				return nil
			}

			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, status)
			}
			printStatus(out, status)
			return nil
		},
	}
	addDaemonFlags(statusCmd)
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON")
	return statusCmd
}

func newSyncCmd(a *app) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync <alias>",
		Short: "Ask a running daemon to sync a folder now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := a.client().Sync(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sync of %s queued\n", green("ok"), cyan(args[0]))
			return nil
		},
	}
	addDaemonFlags(syncCmd)
	return syncCmd
}

func newTerminateCmd(a *app) *cobra.Command {
	terminateCmd := &cobra.Command{
		Use:   "terminate <alias>",
		Short: "Cancel the active sync run of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			terminated, err := a.client().Terminate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if terminated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s run of %s cancelled\n", green("ok"), cyan(args[0]))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is idle\n", cyan(args[0]))
			}
			return nil
		},
	}
	addDaemonFlags(terminateCmd)
	return terminateCmd
}

func printJSON(w io.Writer, v any) error {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printStatus(w io.Writer, status *controlplane.StatusResponse) {
	fmt.Fprintf(w, "%s %s\n", cyan(status.Version.App), status.Version.Version)
	if p := status.Process; p != nil {
		fmt.Fprintf(w, "pid %d, up %s, rss %s, cpu %.1f%%\n", p.PID, p.Uptime, humanize.IBytes(p.RSS), p.CPUPercent)
	}
	fmt.Fprintln(w)
	printFolders(w, status.Folders)
}

func printFolders(w io.Writer, folders []folder.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tSTATUS\tFILES\tLAST RUN\tSOURCE\tTARGET")
	for _, f := range folders {
		last := "never"
		if !f.Result.FinishedAt.IsZero() {
			last = humanize.Time(f.Result.FinishedAt)
		}
		status := f.Result.Status.String()
		switch f.Result.Status {
		case folder.StatusSuccess:
			status = green(status)
		case folder.StatusError, folder.StatusSetupError:
			status = red(status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", f.Alias, status, humanize.Comma(int64(f.LastSeenFiles)), last, f.Source, f.Target)
	}
	tw.Flush()
}
