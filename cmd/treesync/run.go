package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/csync"
	"github.com/openmined/treesync/internal/engine/localfs"
	"github.com/openmined/treesync/internal/jsonx"
)

var errRunFailed = errors.New("sync run failed")

func newRunCmd(a *app) *cobra.Command {
	var (
		source    string
		target    string
		localOnly bool
		asJSON    bool
	)

	runCmd := &cobra.Command{
		Use:   "run [alias]",
		Short: "Run a single sync of a configured folder or of --source and --target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionCfg, err := a.sessionConfig(args, source, target)
			if err != nil {
				return err
			}
			sessionCfg.LocalOnly = localOnly
			cmd.SilenceUsage = true

			session, err := csync.New(sessionCfg, a.cfg.Credentials(), localfs.Factory)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			signals := make(chan csync.Signal, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for sig := range signals {
					if !asJSON {
						printSignal(out, sig)
					}
				}
			}()

			res, err := session.Run(cmd.Context(), signals)
			close(signals)
			<-done
			if err != nil {
				return err
			}

			if asJSON {
				data, err := jsonx.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			} else {
				printResult(out, &res)
			}

			if !res.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&source, "source", "", "local directory")
	runCmd.Flags().StringVar(&target, "target", "", "directory to sync with")
	runCmd.Flags().BoolVar(&localOnly, "local-only", false, "only walk the source, do not touch the target")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	runCmd.MarkFlagsRequiredTogether("source", "target")

	return runCmd
}

// sessionConfig picks the pair from a configured alias or from the flags.
func (a *app) sessionConfig(args []string, source, target string) (csync.SessionConfig, error) {
	switch {
	case len(args) == 1 && source != "":
		return csync.SessionConfig{}, errors.New("pass either an alias or --source and --target")
	case len(args) == 1:
		cfg, err := a.validConfig()
		if err != nil {
			return csync.SessionConfig{}, err
		}
		f, ok := cfg.Folder(args[0])
		if !ok {
			return csync.SessionConfig{}, fmt.Errorf("unknown folder %q", args[0])
		}
		return csync.SessionConfig{
			SourceRoot:      f.Source,
			TargetRoot:      f.Target,
			ExcludeListPath: cfg.ExcludeFile,
			EngineConfigDir: cfg.ConfigDir,
		}, nil
	case source != "":
		// only the ambient settings matter for an ad hoc pair
		adhoc := *a.cfg
		adhoc.Folders = []config.Folder{{Alias: "run", Source: source, Target: target}}
		if err := adhoc.Validate(); err != nil {
			return csync.SessionConfig{}, fmt.Errorf("invalid config: %w", err)
		}
		a.cfg = &adhoc
		return csync.SessionConfig{
			SourceRoot:      adhoc.Folders[0].Source,
			TargetRoot:      adhoc.Folders[0].Target,
			ExcludeListPath: adhoc.ExcludeFile,
			EngineConfigDir: adhoc.ConfigDir,
		}, nil
	}
	return csync.SessionConfig{}, errors.New("an alias or --source and --target are required")
}

func printSignal(w io.Writer, sig csync.Signal) {
	switch sig.Kind {
	case csync.SignalError:
		fmt.Fprintf(w, "%s %s\n", red("error"), sig.Message)
	case csync.SignalWarning:
		fmt.Fprintf(w, "%s %s\n", yellow("warning"), sig.Message)
	case csync.SignalRecommendStateReset:
		fmt.Fprintf(w, "%s the state database looks stale, run `treesync reset`\n", yellow("warning"))
	case csync.SignalStateDBPath:
		fmt.Fprintf(w, "%s %s\n", cyan("state db"), sig.Path)
	}
}

func printResult(w io.Writer, res *csync.Result) {
	state := green(res.State.String())
	if !res.Succeeded() {
		state = red(res.State.String())
	}
	fmt.Fprintf(w, "%s %s in %s\n", cyan("run"), state, res.Duration.Round(time.Millisecond))

	if s := res.Stats; s != nil {
		fmt.Fprintf(w, "  seen %s, new %s, changed %s, removed %s, conflicts %s, ignored %s\n",
			humanize.Comma(int64(s.SeenFiles)),
			humanize.Comma(int64(s.NewFiles)),
			humanize.Comma(int64(s.Eval)),
			humanize.Comma(int64(s.Removed)),
			humanize.Comma(int64(s.Conflicts)),
			humanize.Comma(int64(s.Ignores)),
		)
		if s.DirPermErrors > 0 {
			fmt.Fprintf(w, "  %s %s unwritable directories\n", yellow("warning"), humanize.Comma(int64(s.DirPermErrors)))
		}
	}
}
