package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"shopino/crawler/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()

	require.NoError(t, cmd.ParseFlags([]string{"--config", "crawl.yaml", "--resume"}))

	configPath, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, "crawl.yaml", configPath)

	resume, err := cmd.Flags().GetBool("resume")
	require.NoError(t, err)
	assert.True(t, resume)
}

func TestRootCmd_RejectsArguments(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&discard{})
	cmd.SetErr(&discard{})

	assert.Error(t, cmd.Execute())
}

func TestRun_SetupFailures(t *testing.T) {
	dir := t.TempDir()

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("worker_count: 2\n"), 0o600))

	badLevel := filepath.Join(dir, "level.yaml")
	require.NoError(t, os.WriteFile(badLevel, []byte("base_url: https://shop.test\nlog:\n  level: chatty\n"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "absent.yaml")},
		{name: "invalid config", path: invalid},
		{name: "invalid log level", path: badLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.path, false)
			require.Error(t, err)
			assert.Equal(t, exitSetup, exitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "plain error", err: errors.New("boom"), want: exitFailure},
		{name: "setup", err: &exitError{code: exitSetup, err: service.ErrDiscovery}, want: exitSetup},
		{name: "interrupted", err: &exitError{code: exitInterrupted, err: context.Canceled}, want: exitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRunError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "persistence", err: errors.New("database is locked"), want: exitFailure},
		{name: "discovery", err: fmt.Errorf("%w: %w", service.ErrDiscovery, errors.New("status 503")), want: exitSetup},
		{name: "interrupted", err: fmt.Errorf("crawl: %w", context.Canceled), want: exitInterrupted},
		{name: "interrupted during discovery", err: fmt.Errorf("%w: %w", service.ErrDiscovery, context.Canceled), want: exitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(runError(tt.err)))
		})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
