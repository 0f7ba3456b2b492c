package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Bind is a read-write or read-only bind mount of a host directory into the sandbox
type Bind struct {
	Source string // absolute host path
	Target string // absolute path inside the sandbox
	Mode   string // "rw" or "ro"
}

// String renders the bind in the engine's volume syntax
func (b Bind) String() string {
	return fmt.Sprintf("%s:%s:%s", b.Source, b.Target, b.Mode)
}

// RunOptions describes the container a Backend should start
type RunOptions struct {
	Image       string
	Binds       []Bind
	Detach      bool
	Interactive bool // keep stdin open and allocate a TTY so the shell never exits on its own
	AutoRemove  bool
	Labels      map[string]string
}

// Instance identifies a running container
type Instance struct {
	ID   string
	Name string
}

// ExecResult is the outcome of a command run inside the sandbox.
// Output holds standard output and standard error combined in arrival order.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Backend is the capability set the lifecycle needs from a container engine.
// Implementations report a missing image or container by wrapping ErrNotFound.
type Backend interface {
	// Name returns the backend identifier ("docker", "podman")
	Name() string

	// Ping checks that the engine is reachable
	Ping(ctx context.Context) error

	// Pull makes sure image is present locally, fetching it when absent
	Pull(ctx context.Context, image string) error

	// Run starts a container and returns once it is running
	Run(ctx context.Context, opts RunOptions) (Instance, error)

	// Exec runs cmd in the container and waits for it to finish
	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)

	// Kill sends SIGKILL to the container
	Kill(ctx context.Context, id string) error

	// Close releases the engine connection
	Close() error
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
	// RunCombined runs the command with stdout and stderr sharing one buffer
	RunCombined(ctx context.Context, args []string) (output string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	exitCode, err = exitStatus(cmd.Run())
	if err != nil {
		return "", "", 0, err
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// RunCombined executes the given command and returns its interleaved output
func (RealCommandRunner) RunCombined(ctx context.Context, args []string) (output string, exitCode int, err error) {
	if len(args) < 1 {
		return "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	exitCode, err = exitStatus(cmd.Run())
	if err != nil {
		return "", 0, err
	}

	return buf.String(), exitCode, nil
}

// exitStatus turns an *exec.ExitError into its exit code; other errors are returned as-is
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}
	return 0, err
}

// FileSystem defines the host file system operations the lifecycle needs
type FileSystem interface {
	Getwd() (string, error)
	MkdirAll(path string, perm os.FileMode) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Getwd() (string, error) {
	return os.Getwd()
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// DirPermission is used when the host workdir has to be created
const DirPermission = 0755
