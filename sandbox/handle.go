package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// Handle is one running sandbox container.
//
// A Handle is obtained from Lifecycle.Open and is dead once Close has been
// called; it is never restarted. Commands are trusted input: they are handed
// to the in-sandbox shell verbatim.
type Handle struct {
	logger       *zap.Logger
	backend      Backend
	config       Config
	closeTimeout time.Duration

	// execMu serialises Execute, the engine exec channel is not re-entrant.
	execMu sync.Mutex

	// mu guards instance only, so Close never waits behind a running command.
	mu       sync.Mutex
	instance *Instance
}

func newHandle(logger *zap.Logger, backend Backend, cfg Config, inst Instance, closeTimeout time.Duration) *Handle {
	return &Handle{
		logger:       logger,
		backend:      backend,
		config:       cfg,
		closeTimeout: closeTimeout,
		instance:     &inst,
	}
}

// ID returns the container ID, or an empty string once the handle is closed.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.instance == nil {
		return ""
	}
	return h.instance.ID
}

// Name returns the engine-assigned container name, or an empty string once the handle is closed.
func (h *Handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.instance == nil {
		return ""
	}
	return h.instance.Name
}

// Alive reports whether the handle still owns a running container.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instance != nil
}

// Config returns the resolved configuration the sandbox was created with.
func (h *Handle) Config() Config {
	return h.config
}

// ShellCommand wraps command so that it runs in workdir under sh.
func ShellCommand(workdir, command string) []string {
	return []string{"sh", "-c", "cd " + shellquote.Join(workdir) + "; " + command}
}

// Execute runs command inside the sandbox from the sandbox workdir and waits
// for it to finish. A non-zero exit status is reported in the result, not as an error.
func (h *Handle) Execute(ctx context.Context, command string) (ExecResult, error) {
	h.execMu.Lock()
	defer h.execMu.Unlock()

	h.mu.Lock()
	inst := h.instance
	h.mu.Unlock()
	if inst == nil {
		return ExecResult{}, ErrNotRunning
	}

	h.logger.Debug("executing command",
		zap.String("container", inst.Name),
		zap.String("command", command))

	result, err := h.backend.Exec(ctx, inst.ID, ShellCommand(h.config.Workdir, command))
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to execute command in %s: %w", inst.Name, err)
	}

	h.logger.Debug("command finished",
		zap.String("container", inst.Name),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("output_len", len(result.Output)))

	return result, nil
}

// ExecuteCommand runs command like Execute and returns only its combined output.
func (h *Handle) ExecuteCommand(ctx context.Context, command string) (string, error) {
	result, err := h.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// Close kills the container and forgets it. It is safe to call more than once;
// termination failures are logged, never returned.
func (h *Handle) Close() {
	h.mu.Lock()
	inst := h.instance
	h.instance = nil
	h.mu.Unlock()

	if inst == nil {
		return
	}

	// A graceful stop would wait out the grace period because the TTY shell
	// ignores SIGTERM, so the container is always killed.
	ctx, cancel := context.WithTimeout(context.Background(), h.closeTimeout)
	defer cancel()

	h.logger.Info("closing container", zap.String("container", inst.Name))

	if err := h.backend.Kill(ctx, inst.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Debug("container already gone", zap.String("container", inst.Name))
			return
		}
		h.logger.Warn("failed to kill container",
			zap.String("container", inst.Name),
			zap.String("id", inst.ID),
			zap.Error(err))
	}
}
