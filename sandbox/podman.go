package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// PodmanBackend implements Backend by driving the podman CLI
type PodmanBackend struct {
	logger    *zap.Logger
	command   string
	cmdRunner CommandRunner
}

// PodmanBackendOption defines a functional option for PodmanBackend
type PodmanBackendOption func(*PodmanBackend)

// WithPodmanCommandRunner sets the CommandRunner for PodmanBackend
func WithPodmanCommandRunner(cmdRunner CommandRunner) PodmanBackendOption {
	return func(p *PodmanBackend) {
		p.cmdRunner = cmdRunner
	}
}

// WithPodmanCommand sets the podman executable (name or path)
func WithPodmanCommand(command string) PodmanBackendOption {
	return func(p *PodmanBackend) {
		p.command = command
	}
}

// NewPodmanBackend creates a new PodmanBackend with default implementations and optional interfaces
func NewPodmanBackend(logger *zap.Logger, opts ...PodmanBackendOption) *PodmanBackend {
	backend := &PodmanBackend{
		logger:    logger,
		command:   "podman",
		cmdRunner: &RealCommandRunner{}, // Default implementation
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

// Name returns the backend identifier
func (*PodmanBackend) Name() string {
	return "podman"
}

// run executes a podman subcommand and fails on a non-zero exit status
func (p *PodmanBackend) run(ctx context.Context, args ...string) (string, error) {
	cmdArgs := append([]string{p.command}, args...)

	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, cmdArgs)
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", p.command, args[0], err)
	}
	if exitCode != 0 {
		return "", classifyPodmanError(fmt.Sprintf("%s %s exited with %d", p.command, args[0], exitCode), stderr)
	}

	return strings.TrimSpace(stdout), nil
}

// Ping checks that podman can talk to its storage and runtime
func (p *PodmanBackend) Ping(ctx context.Context) error {
	_, err := p.run(ctx, "info", "--format", "{{.Host.Arch}}")
	return err
}

// Pull pulls the image unless it is already present
func (p *PodmanBackend) Pull(ctx context.Context, ref string) error {
	_, _, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.command, "image", "exists", ref})
	if err != nil {
		return fmt.Errorf("failed to check image %s: %w", ref, err)
	}
	if exitCode == 0 {
		p.logger.Debug("image already present", zap.String("image", ref))
		return nil
	}

	if _, err := p.run(ctx, "pull", "--quiet", ref); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// Run starts a detached container for opts
func (p *PodmanBackend) Run(ctx context.Context, opts RunOptions) (Instance, error) {
	id, err := p.run(ctx, p.buildRunArgs(opts)...)
	if err != nil {
		return Instance{}, fmt.Errorf("failed to run container from %s: %w", opts.Image, err)
	}
	if id == "" {
		return Instance{}, fmt.Errorf("%s run returned no container ID", p.command)
	}

	inst := Instance{ID: id, Name: shortID(id)}

	name, err := p.run(ctx, "inspect", "--format", "{{.Name}}", id)
	if err != nil {
		p.logger.Warn("failed to inspect container", zap.String("id", id), zap.Error(err))
	} else if name != "" {
		inst.Name = name
	}

	return inst, nil
}

// buildRunArgs builds the podman run arguments for opts
func (*PodmanBackend) buildRunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "--detach")
	}
	if opts.Interactive {
		args = append(args, "--interactive", "--tty")
	}
	if opts.AutoRemove {
		args = append(args, "--rm")
	}

	// Pull already ran; a missing image here must fail instead of pulling again.
	args = append(args, "--pull=never")

	keys := make([]string, 0, len(opts.Labels))
	for key := range opts.Labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--label", fmt.Sprintf("%s=%s", key, opts.Labels[key]))
	}

	for _, b := range opts.Binds {
		args = append(args, "--volume", b.String())
	}

	return append(args, opts.Image)
}

// Exec runs cmd through podman exec with stdout and stderr combined
func (p *PodmanBackend) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	args := append([]string{p.command, "exec", id}, cmd...)

	output, exitCode, err := p.cmdRunner.RunCombined(ctx, args)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%s exec failed: %w", p.command, err)
	}

	// 125 is podman's own failure status, e.g. when the container is gone.
	if exitCode == 125 && isNotFoundMessage(output) {
		return ExecResult{}, classifyPodmanError(fmt.Sprintf("%s exec failed", p.command), output)
	}

	return ExecResult{Output: output, ExitCode: exitCode}, nil
}

// Kill sends SIGKILL to the container; --rm removes it afterwards
func (p *PodmanBackend) Kill(ctx context.Context, id string) error {
	_, err := p.run(ctx, "kill", "--signal", "KILL", id)
	return err
}

// Close is a no-op, the CLI holds no connection
func (*PodmanBackend) Close() error {
	return nil
}

func classifyPodmanError(msg, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if isNotFoundMessage(stderr) {
		return fmt.Errorf("%s: %w: %s", msg, ErrNotFound, stderr)
	}
	return fmt.Errorf("%s: %s", msg, stderr)
}
