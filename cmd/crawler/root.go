package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shopino/crawler/internal/config"
	"shopino/crawler/internal/container"
	"shopino/crawler/internal/service"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes. A run that finished with skipped items still exits 0.
const (
	exitOK          = 0
	exitFailure     = 1 // Persistence abort or another runtime failure
	exitSetup       = 2 // Config invalid, store or site unreachable
	exitInterrupted = 130
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// NewRootCmd creates the crawler command.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		resume     bool
	)

	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Crawl a retail site's category tree into a product database",
		Long: `crawler discovers the category tree of a retail site, walks the product
listings of every subcategory and stores each product with its images.

Re-running is safe: unchanged products are not written again. Items that
failed transiently are retried first with --resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, resume)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default ./config.yaml)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Retry items skipped by earlier runs before crawling")

	return cmd
}

func run(ctx context.Context, configPath string, resume bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("failed to load configuration: %w", err)}
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("invalid log level: %w", err)}
	}
	log.SetLevel(level)
	log.Info("Configuration loaded successfully")

	app, err := container.New(ctx, cfg, resume)
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("failed to initialize container: %w", err)}
	}
	defer app.Close()

	return runError(app.Run(ctx))
}

// runError attaches an exit code to the error a crawl ended with. An
// interrupt wins over whatever stage it cut short.
func runError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return &exitError{code: exitInterrupted, err: err}
	case errors.Is(err, service.ErrDiscovery):
		return &exitError{code: exitSetup, err: err}
	default:
		return &exitError{code: exitFailure, err: err}
	}
}

// exitCode maps an error returned by the command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// Execute runs the root command and exits with its code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	log.Info("Starting crawler...")
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Errorf("❌ %v", err)
	} else {
		log.Info("Crawler finished successfully")
	}
	os.Exit(exitCode(err))
}
