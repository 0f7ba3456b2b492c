package sandbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/yact/config"
)

// DefaultCloseTimeout bounds the kill request issued by Close
const DefaultCloseTimeout = 10 * time.Second

// LabelManaged marks containers started by a Lifecycle
const LabelManaged = "io.yact.sandbox"

// Lifecycle provisions sandboxes on a Backend and guarantees their teardown.
// Each Open is independent; a Lifecycle holds no per-sandbox state.
type Lifecycle struct {
	logger       *zap.Logger
	backend      Backend
	fs           FileSystem
	closeTimeout time.Duration
}

// LifecycleOption defines a functional option for Lifecycle
type LifecycleOption func(*Lifecycle)

// WithFileSystem sets the FileSystem for Lifecycle
func WithFileSystem(fs FileSystem) LifecycleOption {
	return func(l *Lifecycle) {
		l.fs = fs
	}
}

// WithCloseTimeout sets how long Close waits for the kill request
func WithCloseTimeout(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.closeTimeout = d
		}
	}
}

// NewLifecycle creates a new Lifecycle on backend with optional settings
func NewLifecycle(logger *zap.Logger, backend Backend, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		logger:       logger,
		backend:      backend,
		fs:           &RealFileSystem{}, // Default implementation
		closeTimeout: DefaultCloseTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// NewLifecycleFromConfig creates a Lifecycle using the sandbox settings of cfg
func NewLifecycleFromConfig(logger *zap.Logger, cfg *config.Config, backend Backend) *Lifecycle {
	return NewLifecycle(logger, backend, WithCloseTimeout(cfg.GetCloseTimeout()))
}

// Backend returns the backend sandboxes are provisioned on
func (l *Lifecycle) Backend() Backend {
	return l.backend
}

// Open provisions a sandbox and returns its handle. The caller owns the
// handle and must release it with Close; prefer Run, which does so on every path.
//
// Errors match ErrBackendUnavailable when the engine cannot be reached,
// ErrImageNotAvailable when the image cannot be resolved, and are a
// *SandboxError otherwise.
func (l *Lifecycle) Open(ctx context.Context, cfg Config) (*Handle, error) {
	cwd, err := l.fs.Getwd()
	if err != nil {
		return nil, &SandboxError{Op: "resolve config", Err: err}
	}

	resolved, err := cfg.Resolve(cwd)
	if err != nil {
		return nil, &SandboxError{Op: "resolve config", Err: err}
	}

	if err := l.backend.Ping(ctx); err != nil {
		return nil, &BackendUnavailableError{Backend: l.backend.Name(), Err: err}
	}

	l.logger.Info("pulling image", zap.String("image", resolved.Image))
	if err := l.backend.Pull(ctx, resolved.Image); err != nil {
		return nil, provisionError("pull image", resolved.Image, err)
	}
	l.logger.Info("pulled image", zap.String("image", resolved.Image))

	if err := l.fs.MkdirAll(resolved.HostWorkdir, DirPermission); err != nil {
		return nil, &SandboxError{Op: "prepare host workdir", Err: err}
	}

	inst, err := l.backend.Run(ctx, RunOptions{
		Image: resolved.Image,
		Binds: []Bind{{
			Source: resolved.HostWorkdir,
			Target: resolved.Workdir,
			Mode:   "rw",
		}},
		Detach:      true,
		Interactive: true,
		AutoRemove:  true,
		Labels:      map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return nil, provisionError("run container", resolved.Image, err)
	}

	l.logger.Info("container is now running",
		zap.String("container", inst.Name),
		zap.String("id", inst.ID),
		zap.String("backend", l.backend.Name()),
		zap.String("host_workdir", resolved.HostWorkdir),
		zap.String("workdir", resolved.Workdir))

	return newHandle(l.logger, l.backend, resolved, inst, l.closeTimeout), nil
}

// Close terminates the sandbox behind h. It is a no-op for a nil or closed handle.
func (l *Lifecycle) Close(h *Handle) {
	if h == nil {
		return
	}
	h.Close()
}

// Run opens a sandbox, passes it to fn and closes it when fn returns, fails or panics.
func (l *Lifecycle) Run(ctx context.Context, cfg Config, fn func(ctx context.Context, h *Handle) error) error {
	h, err := l.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer l.Close(h)

	return fn(ctx, h)
}

func provisionError(op, image string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &ImageNotAvailableError{Image: image, Err: err}
	}
	return &SandboxError{Op: op, Err: err}
}
