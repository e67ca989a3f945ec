package main

import (
	"path/filepath"
	"strings"
	"time"

	"sage/internal/store"
	"sage/internal/tagger"
	"sage/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) newWatchCmd() *cobra.Command {
	f := &tagFlags{concurrent: true}
	cmd := &cobra.Command{
		Use:   "watch DIRECTORY",
		Short: "Tag markdown files as they are created or saved",
		Long: `Watches a directory and runs the tagging protocol on every markdown
file that is created or modified, once it has been quiet for the debounce
window. Sage's own writes are ignored. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args[0], f)
		},
	}
	cmd.Flags().BoolVar(&f.force, "force", false, "Force retag even if already tagged")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "Only report failures")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Timeout in seconds for each claude call (default from config)")
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "Watch subdirectories recursively")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, dir string, f *tagFlags) error {
	tg, err := a.newTagger(f)
	if err != nil {
		return err
	}

	w, err := watch.New(dir, tg, watch.Options{
		Recursive: f.recursive,
		Debounce:  a.cfg.GetWatchDebounce(),
		Cooldown:  a.cfg.GetWatchCooldown(),
	})
	if err != nil {
		a.out.Error("%s: %s", err, dir)
		return errFailed
	}
	defer w.Stop()

	var ledger *store.Store
	if s, err := a.openStore(); err == nil && s != nil {
		ledger = s
		defer ledger.Close()
	}

	a.out.SetQuiet(f.quiet)
	w.OnOutcome(func(out *tagger.Outcome) {
		if ledger != nil {
			if _, err := ledger.RecordOutcome("watch", time.Now().Add(-out.Duration), out); err != nil {
				logger.Warn("failed to record history", zap.Error(err))
			}
		}
		name := filepath.Base(out.Path)
		switch {
		case !out.Success:
			a.out.Error("Failed to tag %s: %s", name, out.Error)
		case !out.Invoked:
			// Already tagged; nothing happened.
		case len(out.Tags) > 0:
			a.out.Success("Tagged %s with: %s", name, strings.Join(out.Tags, ", "))
		default:
			a.out.Info("No new tags added to %s", name)
		}
	})

	mode := "directly"
	if f.recursive {
		mode = "recursively"
	}
	a.out.Info("Watching %s %s for markdown changes (Ctrl-C to stop)", dir, mode)

	if err := w.Run(cmd.Context()); err != nil {
		a.out.Error("Watch failed: %s", err)
		return errFailed
	}

	stats := w.Stats()
	a.out.Info("Stopped watching %s: %d processed, %d succeeded, %d failed",
		dir, stats.Processed, stats.Succeeded, stats.Failed)
	return nil
}
