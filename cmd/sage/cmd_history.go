package main

import (
	"fmt"
	"strings"

	"sage/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// openStore opens the history ledger, or returns nil when history is off.
func (a *app) openStore() (*store.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	s, err := store.Open(a.cfg.History.DatabasePath)
	if err != nil {
		logger.Warn("history unavailable", zap.String("path", a.cfg.History.DatabasePath), zap.Error(err))
		return nil, err
	}
	return s, nil
}

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		limit   int
		file    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tagging runs",
		Long: `Lists recent runs from the history ledger, newest first. With --file,
lists the recorded outcomes for one markdown file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1, got %d", limit)
			}
			if !a.cfg.History.Enabled {
				a.out.Info("History is disabled")
				return nil
			}
			s, err := a.openStore()
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer s.Close()

			if file != "" {
				return a.showFileHistory(s, file, limit, jsonOut)
			}
			return a.showRuns(s, limit, jsonOut)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of entries")
	cmd.Flags().StringVar(&file, "file", "", "Show outcomes for one file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	return cmd
}

func (a *app) showRuns(s *store.Store, limit int, jsonOut bool) error {
	runs, err := s.RecentRuns(limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return a.writeJSON(runs)
	}
	if len(runs) == 0 {
		a.out.Info("No runs recorded yet")
		return nil
	}

	a.out.Heading("Recent runs (%d)", len(runs))
	for _, r := range runs {
		line := fmt.Sprintf("%s  %s  %-5s  %s  %d ok, %d failed (%.2fs)",
			shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command, r.Target, r.Succeeded, r.Failed, r.Elapsed().Seconds())
		if r.Failed > 0 {
			a.out.Error("%s", line)
		} else {
			a.out.Success("%s", line)
		}
	}
	return nil
}

func (a *app) showFileHistory(s *store.Store, file string, limit int, jsonOut bool) error {
	records, err := s.FileHistory(file, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return a.writeJSON(records)
	}
	if len(records) == 0 {
		a.out.Info("No history for %s", file)
		return nil
	}

	a.out.Heading("History for %s (%d)", file, len(records))
	for _, rec := range records {
		when := rec.RecordedAt.Local().Format("2006-01-02 15:04:05")
		if !rec.Success {
			a.out.Error("%s  %s", when, rec.Error)
			continue
		}
		tags := "(no tags)"
		if len(rec.Tags) > 0 {
			tags = strings.Join(rec.Tags, ", ")
		}
		a.out.Success("%s  %s", when, tags)
		if rec.Message != "" {
			a.out.Detail("%s", rec.Message)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
