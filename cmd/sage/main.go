// Command sage tags markdown files with topic keywords suggested by the
// claude CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sage/internal/config"
	"sage/internal/logging"
	"sage/internal/tactile"
	"sage/internal/tagger"
	"sage/internal/ux"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0"

// errFailed signals that the command already reported its failure and
// only the exit status is left to set.
var errFailed = errors.New("sage: command failed")

var logger = zap.NewNop()

// newInvoker builds the production invoker. Tests replace it.
var newInvoker = func(cfg *config.Config) tagger.Invoker {
	execCfg := tactile.DefaultExecutorConfig()
	execCfg.DefaultTimeout = cfg.GetTimeout()
	execCfg.MaxTimeout = 0
	execCfg.AllowedEnvironment = cfg.Execution.AllowedEnvVars
	if cfg.Limits.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.Limits.MaxOutputBytes
	}
	return tagger.NewClaudeInvoker(tactile.NewDirectExecutorWithConfig(execCfg), cfg.Execution)
}

// app carries state shared by every subcommand of one invocation.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	stdout io.Writer
	out    *ux.Printer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sage",
		Short: "Intelligent semantic tagging for markdown files",
		Long: `Sage analyzes markdown content with the claude CLI and appends
relevant topic tags as [[tag]] lines at the end of each file.

The file's own text is never changed: sage verifies the tool only appended
tags, restores the original otherwise, and strips malformed tags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAudit()
			logging.Sync()
		},
	}
	root.SetVersionTemplate("sage {{.Version}}\n")

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default "+config.DefaultConfigPath()+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		a.newFileCmd(),
		a.newFilesCmd(),
		a.newDirCmd(),
		a.newWatchCmd(),
		a.newHistoryCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	a.cfg = cfg

	if err := logging.Initialize(logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Verbose:    a.verbose,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        cfg.Logging.Dir,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger = logging.Get(logging.CategoryBoot)
	if cfg.Logging.Audit {
		if err := logging.InitAudit(cfg.Logging.AuditPath()); err != nil {
			return err
		}
	}
	logging.Get(logging.CategoryConfig).Debug("config loaded",
		zap.String("path", path),
		zap.String("binary", cfg.Execution.Binary),
		zap.Duration("timeout", cfg.GetTimeout()),
		zap.Int("max_concurrent", cfg.Limits.MaxConcurrent),
		zap.Bool("history", cfg.History.Enabled))

	a.stdout = cmd.OutOrStdout()
	a.out = ux.NewPrinter(a.stdout)
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			ux.NewPrinter(stderr).Error("%v", err)
		}
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
