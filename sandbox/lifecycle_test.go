package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/isdmx/yact/config"
	"github.com/isdmx/yact/sandbox"
	"github.com/isdmx/yact/sandbox/sandboxtest"
)

// MockFileSystem implements sandbox.FileSystem with a fixed working directory
type MockFileSystem struct {
	cwd      string
	getwdErr error
	mkdirErr error
	created  []string
}

func (m *MockFileSystem) Getwd() (string, error) {
	if m.getwdErr != nil {
		return "", m.getwdErr
	}
	return m.cwd, nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if m.mkdirErr != nil {
		return m.mkdirErr
	}
	m.created = append(m.created, path)
	return os.MkdirAll(path, perm)
}

func newTestLifecycle(t *testing.T, backend sandbox.Backend) (*sandbox.Lifecycle, *MockFileSystem) {
	t.Helper()
	fs := &MockFileSystem{cwd: t.TempDir()}
	return sandbox.NewLifecycle(zaptest.NewLogger(t), backend, sandbox.WithFileSystem(fs)), fs
}

func TestLifecycleOpenClose(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc, fs := newTestLifecycle(t, backend)

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)
	require.True(t, h.Alive())
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, "fake_sandbox_1", h.Name())
	assert.Len(t, backend.Running(), 1)

	// Empty host workdir means the current directory
	assert.Equal(t, fs.cwd, h.Config().HostWorkdir)
	assert.Equal(t, sandbox.DefaultWorkdir, h.Config().Workdir)

	lc.Close(h)

	assert.False(t, h.Alive())
	assert.Empty(t, h.ID())
	assert.Empty(t, backend.Running())
	assert.Len(t, backend.CallsFor(sandboxtest.OpKill), 1)
}

func TestLifecycleProvisioningOrder(t *testing.T) {
	backend := sandboxtest.NewBackend("python:3.13.5-alpine")
	lc, _ := newTestLifecycle(t, backend)

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig().WithImage("python:3.13.5-alpine"))
	require.NoError(t, err)
	defer h.Close()

	calls := backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, sandboxtest.OpPing, calls[0].Method)
	assert.Equal(t, sandboxtest.OpPull, calls[1].Method)
	assert.Equal(t, []any{"python:3.13.5-alpine"}, calls[1].Args)
	assert.Equal(t, sandboxtest.OpRun, calls[2].Method)
}

func TestLifecycleRunOptions(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc, fs := newTestLifecycle(t, backend)

	cfg := sandbox.DefaultConfig().WithHostWorkdir("data").WithWorkdir("/work/dir/")
	h, err := lc.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer h.Close()

	c, ok := backend.Container(h.ID())
	require.True(t, ok)

	opts := c.Options
	assert.Equal(t, sandbox.DefaultImage, opts.Image)
	assert.True(t, opts.Detach)
	assert.True(t, opts.Interactive)
	assert.True(t, opts.AutoRemove)
	assert.Equal(t, "true", opts.Labels[sandbox.LabelManaged])
	require.Len(t, opts.Binds, 1)
	assert.Equal(t, sandbox.Bind{
		Source: filepath.Join(fs.cwd, "data"),
		Target: "/work/dir",
		Mode:   "rw",
	}, opts.Binds[0])

	// The host workdir is created before it is bound
	assert.DirExists(t, filepath.Join(fs.cwd, "data"))
	assert.Equal(t, []string{filepath.Join(fs.cwd, "data")}, fs.created)
}

func TestLifecycleResolvesRelativeHostWorkdir(t *testing.T) {
	for _, rel := range []string{".yact-testdir", "a/b/c", "./out", "."} {
		t.Run(rel, func(t *testing.T) {
			backend := sandboxtest.NewBackend(sandbox.DefaultImage)
			lc, fs := newTestLifecycle(t, backend)

			h, err := lc.Open(context.Background(), sandbox.DefaultConfig().WithHostWorkdir(rel))
			require.NoError(t, err)
			defer h.Close()

			assert.Equal(t, filepath.Join(fs.cwd, rel), h.Config().HostWorkdir)

			runs := backend.CallsFor(sandboxtest.OpRun)
			require.Len(t, runs, 1)
			opts := runs[0].Args[0].(sandbox.RunOptions)
			assert.Equal(t, filepath.Join(fs.cwd, rel), opts.Binds[0].Source)
		})
	}
}

func TestLifecycleBackendUnavailable(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	backend.SetError(sandboxtest.OpPing, errors.New("dial unix /var/run/docker.sock: connect: no such file or directory"))
	lc, fs := newTestLifecycle(t, backend)

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig().WithHostWorkdir("never"))
	require.Error(t, err)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, sandbox.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "start the engine and try again")

	var unavailable *sandbox.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "fake", unavailable.Backend)

	// Nothing was pulled, created or started
	assert.Empty(t, backend.CallsFor(sandboxtest.OpPull))
	assert.Empty(t, backend.CallsFor(sandboxtest.OpRun))
	assert.Empty(t, backend.Running())
	assert.Empty(t, fs.created)
	assert.NoDirExists(t, filepath.Join(fs.cwd, "never"))
}

func TestLifecycleImageNotAvailable(t *testing.T) {
	t.Run("MissingFromRegistry", func(t *testing.T) {
		backend := sandboxtest.NewBackend()
		lc, _ := newTestLifecycle(t, backend)

		_, err := lc.Open(context.Background(), sandbox.DefaultConfig().WithImage("ghost:1.0"))
		require.Error(t, err)
		assert.ErrorIs(t, err, sandbox.ErrImageNotAvailable)
		assert.Contains(t, err.Error(), "ghost:1.0")
		assert.Empty(t, backend.CallsFor(sandboxtest.OpRun))
	})

	t.Run("VanishedBeforeRun", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		backend.SetError(sandboxtest.OpRun, errors.Join(errors.New("No such image: alpine:latest"), sandbox.ErrNotFound))
		lc, _ := newTestLifecycle(t, backend)

		_, err := lc.Open(context.Background(), sandbox.DefaultConfig())
		require.Error(t, err)

		var notAvailable *sandbox.ImageNotAvailableError
		require.ErrorAs(t, err, &notAvailable)
		assert.Equal(t, sandbox.DefaultImage, notAvailable.Image)
		assert.Empty(t, backend.Running())
	})
}

func TestLifecycleGenericErrors(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name  string
		setup func(*sandboxtest.Backend, *MockFileSystem)
		op    string
	}{
		{
			name:  "PullFailure",
			setup: func(b *sandboxtest.Backend, _ *MockFileSystem) { b.SetError(sandboxtest.OpPull, cause) },
			op:    "pull image",
		},
		{
			name:  "RunFailure",
			setup: func(b *sandboxtest.Backend, _ *MockFileSystem) { b.SetError(sandboxtest.OpRun, cause) },
			op:    "run container",
		},
		{
			name:  "HostWorkdirFailure",
			setup: func(_ *sandboxtest.Backend, fs *MockFileSystem) { fs.mkdirErr = cause },
			op:    "prepare host workdir",
		},
		{
			name:  "GetwdFailure",
			setup: func(_ *sandboxtest.Backend, fs *MockFileSystem) { fs.getwdErr = cause },
			op:    "resolve config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := sandboxtest.NewBackend(sandbox.DefaultImage)
			lc, fs := newTestLifecycle(t, backend)
			tt.setup(backend, fs)

			_, err := lc.Open(context.Background(), sandbox.DefaultConfig())
			require.Error(t, err)

			var sbErr *sandbox.SandboxError
			require.ErrorAs(t, err, &sbErr)
			assert.Equal(t, tt.op, sbErr.Op)
			assert.ErrorIs(t, err, cause)
			assert.NotErrorIs(t, err, sandbox.ErrBackendUnavailable)
			assert.NotErrorIs(t, err, sandbox.ErrImageNotAvailable)
			assert.Empty(t, backend.Running())
		})
	}
}

func TestLifecycleRejectsRelativeWorkdir(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc, _ := newTestLifecycle(t, backend)

	_, err := lc.Open(context.Background(), sandbox.DefaultConfig().WithWorkdir("home/yact"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
	assert.Empty(t, backend.Calls())
}

func TestLifecycleCloseIsIdempotent(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc, _ := newTestLifecycle(t, backend)

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)

	lc.Close(h)
	lc.Close(h)
	h.Close()

	assert.Len(t, backend.CallsFor(sandboxtest.OpKill), 1)
	assert.Empty(t, backend.Running())

	// A nil handle (open never succeeded) is fine too
	lc.Close(nil)
}

func TestLifecycleCloseLogsKillFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	fs := &MockFileSystem{cwd: t.TempDir()}
	lc := sandbox.NewLifecycle(zap.New(core), backend, sandbox.WithFileSystem(fs), sandbox.WithCloseTimeout(time.Second))

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)

	backend.SetError(sandboxtest.OpKill, errors.New("engine went away"))
	assert.NotPanics(t, func() { lc.Close(h) })

	assert.False(t, h.Alive())
	entries := logs.FilterMessage("failed to kill container").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine went away", entries[0].ContextMap()["error"])

	// The identity is gone, so a second close does not retry
	lc.Close(h)
	assert.Len(t, backend.CallsFor(sandboxtest.OpKill), 1)
}

func TestLifecycleCloseToleratesVanishedContainer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc := sandbox.NewLifecycle(zap.New(core), backend, sandbox.WithFileSystem(&MockFileSystem{cwd: t.TempDir()}))

	h, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)

	// Removed behind our back
	require.NoError(t, backend.Kill(context.Background(), h.ID()))

	lc.Close(h)
	assert.Zero(t, logs.Len())
}

func TestLifecycleRun(t *testing.T) {
	t.Run("ClosesAfterSuccess", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		lc, _ := newTestLifecycle(t, backend)

		var seen *sandbox.Handle
		err := lc.Run(context.Background(), sandbox.DefaultConfig(), func(_ context.Context, h *sandbox.Handle) error {
			seen = h
			assert.True(t, h.Alive())
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.False(t, seen.Alive())
		assert.Empty(t, backend.Running())
	})

	t.Run("ClosesAfterError", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		lc, _ := newTestLifecycle(t, backend)
		boom := errors.New("boom")

		var seen *sandbox.Handle
		err := lc.Run(context.Background(), sandbox.DefaultConfig(), func(_ context.Context, h *sandbox.Handle) error {
			seen = h
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, seen.Alive())
		assert.Empty(t, backend.Running())
	})

	t.Run("ClosesAfterPanic", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		lc, _ := newTestLifecycle(t, backend)

		var seen *sandbox.Handle
		assert.PanicsWithValue(t, "mid-scope failure", func() {
			_ = lc.Run(context.Background(), sandbox.DefaultConfig(), func(_ context.Context, h *sandbox.Handle) error {
				seen = h
				panic("mid-scope failure")
			})
		})
		require.NotNil(t, seen)
		assert.False(t, seen.Alive())
		assert.Empty(t, backend.Running())
	})

	t.Run("ClosesAfterCancellation", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		lc, _ := newTestLifecycle(t, backend)
		ctx, cancel := context.WithCancel(context.Background())

		err := lc.Run(ctx, sandbox.DefaultConfig(), func(ctx context.Context, _ *sandbox.Handle) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, backend.Running())
	})

	t.Run("OpenFailureSkipsBody", func(t *testing.T) {
		backend := sandboxtest.NewBackend(sandbox.DefaultImage)
		backend.SetError(sandboxtest.OpPing, errors.New("connection refused"))
		lc, _ := newTestLifecycle(t, backend)

		called := false
		err := lc.Run(context.Background(), sandbox.DefaultConfig(), func(context.Context, *sandbox.Handle) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, sandbox.ErrBackendUnavailable)
		assert.False(t, called)
		assert.Empty(t, backend.CallsFor(sandboxtest.OpKill))
	})
}

func TestLifecycleScopesAreIndependent(t *testing.T) {
	backend := sandboxtest.NewBackend(sandbox.DefaultImage)
	lc, _ := newTestLifecycle(t, backend)

	first, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)
	second, err := lc.Open(context.Background(), sandbox.DefaultConfig())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())

	first.Close()
	assert.False(t, first.Alive())
	assert.True(t, second.Alive())
	assert.Len(t, backend.Running(), 1)

	second.Close()
	assert.Empty(t, backend.Running())
}

func TestNewLifecycleFromConfig(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{CloseTimeoutSec: 3}}
	backend := sandboxtest.NewBackend()

	lc := sandbox.NewLifecycleFromConfig(zaptest.NewLogger(t), cfg, backend)
	require.NotNil(t, lc)
	assert.Same(t, backend, lc.Backend())
}
