package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/yact/logger"
	"github.com/isdmx/yact/sandbox"
)

// ExitError carries the status of a failed sandbox command out of Execute
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

func newExecCmd(opts *rootOptions) *cobra.Command {
	var exitCode bool

	c := &cobra.Command{
		Use:   "exec [commands...]",
		Short: "Run commands in a fresh sandbox",
		Long: `Start a sandbox, run each argument as a shell command in its working directory,
print the combined output of each, and tear the sandbox down again.`,
		Example: `  yact exec pwd 'touch notes.txt' 'ls -la'
  yact exec --image python:3.13.5-alpine --host-workdir ./out 'python -V > version.txt'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, args, exitCode)
		},
	}

	c.Flags().BoolVar(&exitCode, "exit-code", false, "exit with the status of the last failing command")

	return c
}

func runExec(cmd *cobra.Command, opts *rootOptions, commands []string, exitCode bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	backend, err := newBackend(log, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close backend", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lifecycle := sandbox.NewLifecycleFromConfig(log, cfg, backend)

	status := 0
	err = lifecycle.Run(ctx, sandbox.ConfigFrom(cfg), func(ctx context.Context, h *sandbox.Handle) error {
		for _, command := range commands {
			result, err := h.Execute(ctx, command)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), result.Output)
			if result.ExitCode != 0 {
				log.Debug("command failed", zap.String("command", command), zap.Int("exit_code", result.ExitCode))
				status = result.ExitCode
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if exitCode && status != 0 {
		return &ExitError{Code: status}
	}
	return nil
}
