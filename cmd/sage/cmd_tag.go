package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sage/internal/tagger"
	"sage/internal/ux"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxShownErrors bounds the error listing of the dir command.
const maxShownErrors = 5

type tagFlags struct {
	force      bool
	quiet      bool
	jsonOut    bool
	timeout    int
	concurrent bool
	sequential bool
	workers    int
	recursive  bool
}

func (f *tagFlags) register(cmd *cobra.Command, batch bool) {
	cmd.Flags().BoolVar(&f.force, "force", false, "Force retag even if already tagged")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "Minimal output")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Timeout in seconds for each claude call (default from config)")
	if batch {
		cmd.Flags().BoolVar(&f.concurrent, "concurrent", true, "Process files concurrently")
		cmd.Flags().BoolVar(&f.sequential, "sequential", false, "Process one file at a time")
		cmd.Flags().IntVar(&f.workers, "workers", 0, "Number of concurrent workers (default from config)")
		cmd.MarkFlagsMutuallyExclusive("concurrent", "sequential")
	}
}

func (a *app) newTagger(f *tagFlags) (*tagger.Tagger, error) {
	if f.timeout < 0 {
		return nil, fmt.Errorf("--timeout must be positive, got %d", f.timeout)
	}
	if f.workers < 0 {
		return nil, fmt.Errorf("--workers must be at least 1, got %d", f.workers)
	}

	opts := tagger.OptionsFromConfig(a.cfg)
	opts.Force = f.force
	if f.timeout > 0 {
		opts.Timeout = time.Duration(f.timeout) * time.Second
	}
	if f.workers > 0 {
		opts.MaxConcurrent = f.workers
	}
	if f.sequential || !f.concurrent {
		opts.MaxConcurrent = 1
	}
	return tagger.New(newInvoker(a.cfg), opts), nil
}

func (a *app) newFileCmd() *cobra.Command {
	f := &tagFlags{concurrent: true}
	cmd := &cobra.Command{
		Use:   "file PATH",
		Short: "Tag a single markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFile(cmd, args[0], f)
		},
	}
	f.register(cmd, false)
	return cmd
}

func (a *app) runFile(cmd *cobra.Command, path string, f *tagFlags) error {
	if _, err := os.Stat(path); err != nil {
		a.out.Error("Path does not exist: %s", path)
		return errFailed
	}
	if !tagger.IsMarkdown(path) {
		a.out.Error("File must be a markdown file (.md): %s", path)
		return errFailed
	}

	tg, err := a.newTagger(f)
	if err != nil {
		return err
	}

	started := time.Now()
	out := tg.ProcessFile(cmd.Context(), path)
	a.recordOutcome("file", started, out)

	if f.jsonOut {
		return a.writeJSON(fileJSON{
			File:    path,
			Success: out.Success,
			Error:   optional(out.Note()),
			Tags:    nonNil(out.Tags),
		})
	}

	if !out.Success {
		if !f.quiet {
			a.out.Error("Failed to tag %s: %s", filepath.Base(path), out.Error)
		}
		return errFailed
	}
	if f.quiet {
		return nil
	}
	if len(out.Tags) > 0 {
		a.out.Success("Tagged %s with: %s", filepath.Base(path), strings.Join(out.Tags, ", "))
	} else {
		a.out.Info("No new tags added to %s", filepath.Base(path))
	}
	if out.Message != "" {
		a.out.Detail("%s", out.Message)
	}
	return nil
}

func (a *app) newFilesCmd() *cobra.Command {
	f := &tagFlags{}
	cmd := &cobra.Command{
		Use:   "files PATH...",
		Short: "Tag multiple markdown files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFiles(cmd, args, f)
		},
	}
	f.register(cmd, true)
	return cmd
}

func (a *app) runFiles(cmd *cobra.Command, paths []string, f *tagFlags) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			a.out.Error("Path does not exist: %s", p)
			return errFailed
		}
	}

	var markdown []string
	for _, p := range paths {
		if tagger.IsMarkdown(p) {
			markdown = append(markdown, p)
		}
	}
	if len(markdown) == 0 {
		a.out.Error("No markdown files found in the provided paths")
		return errFailed
	}
	if skipped := len(paths) - len(markdown); skipped > 0 && !f.quiet && !f.jsonOut {
		a.out.Warning("Skipped %d non-markdown files", skipped)
	}

	tg, err := a.newTagger(f)
	if err != nil {
		return err
	}

	started := time.Now()
	result := tg.ProcessFiles(cmd.Context(), markdown)
	a.recordBatch("files", fmt.Sprintf("%d files", len(markdown)), started, result)

	if f.jsonOut {
		return a.writeJSON(batchJSON{
			TotalFiles:   result.Total(),
			SuccessCount: result.SuccessCount,
			ErrorCount:   result.ErrorCount,
			ElapsedTime:  result.Elapsed.Seconds(),
			Errors:       result.Errors,
		})
	}
	if f.quiet {
		return failedIf(result.ErrorCount > 0)
	}

	a.out.Info("Processed %d files in %.2fs", result.Total(), result.Elapsed.Seconds())
	a.out.Success("Successfully tagged: %d", result.SuccessCount)
	if result.ErrorCount == 0 {
		return nil
	}
	a.out.Error("Errors: %d", result.ErrorCount)
	for _, e := range result.Errors {
		a.out.Error("  %s: %s", filepath.Base(e.Path), e.Message)
	}
	return errFailed
}

func (a *app) newDirCmd() *cobra.Command {
	f := &tagFlags{}
	cmd := &cobra.Command{
		Use:   "dir DIRECTORY",
		Short: "Tag all markdown files in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDir(cmd, args[0], f)
		},
	}
	f.register(cmd, true)
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "Process subdirectories recursively")
	return cmd
}

func (a *app) runDir(cmd *cobra.Command, dir string, f *tagFlags) error {
	tg, err := a.newTagger(f)
	if err != nil {
		return err
	}

	started := time.Now()
	result, err := tg.ProcessDirectory(cmd.Context(), dir, f.recursive)
	if err != nil {
		a.out.Error("%s", err)
		return errFailed
	}
	a.recordBatch("dir", dir, started, result)

	if f.jsonOut {
		recursive := f.recursive
		return a.writeJSON(batchJSON{
			Directory:    dir,
			Recursive:    &recursive,
			TotalFiles:   result.Total(),
			SuccessCount: result.SuccessCount,
			ErrorCount:   result.ErrorCount,
			ElapsedTime:  result.Elapsed.Seconds(),
			Errors:       result.Errors,
		})
	}
	if f.quiet {
		return failedIf(result.ErrorCount > 0)
	}

	if result.Total() == 0 {
		a.out.Info("No markdown files found in %s", dir)
		return nil
	}
	mode := "directly"
	if f.recursive {
		mode = "recursively"
	}
	a.out.Info("Processed %d files %s in %s (%.2fs)", result.Total(), mode, dir, result.Elapsed.Seconds())
	a.out.Success("Successfully tagged: %d", result.SuccessCount)
	if result.ErrorCount == 0 {
		return nil
	}

	a.out.Error("Errors: %d", result.ErrorCount)
	for i, e := range result.Errors {
		if i == maxShownErrors {
			break
		}
		a.out.Error("  %s: %s", filepath.Base(e.Path), ux.Truncate(e.Message, 60))
	}
	if extra := len(result.Errors) - maxShownErrors; extra > 0 {
		a.out.Error("  ... and %d more errors", extra)
	}
	return errFailed
}

type fileJSON struct {
	File    string   `json:"file"`
	Success bool     `json:"success"`
	Error   *string  `json:"error"`
	Tags    []string `json:"tags"`
}

type batchJSON struct {
	Directory    string             `json:"directory,omitempty"`
	Recursive    *bool              `json:"recursive,omitempty"`
	TotalFiles   int                `json:"total_files"`
	SuccessCount int                `json:"success_count"`
	ErrorCount   int                `json:"error_count"`
	ElapsedTime  float64            `json:"elapsed_time"`
	Errors       []tagger.FileError `json:"errors"`
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func (a *app) recordOutcome(command string, started time.Time, out *tagger.Outcome) {
	s, err := a.openStore()
	if err != nil || s == nil {
		return
	}
	defer s.Close()
	if _, err := s.RecordOutcome(command, started, out); err != nil {
		logger.Warn("failed to record history", zap.Error(err))
	}
}

func (a *app) recordBatch(command, target string, started time.Time, result *tagger.BatchResult) {
	s, err := a.openStore()
	if err != nil || s == nil {
		return
	}
	defer s.Close()
	if _, err := s.RecordBatch(command, target, started, result); err != nil {
		logger.Warn("failed to record history", zap.Error(err))
	}
}

func failedIf(failed bool) error {
	if failed {
		return errFailed
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
