package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerBackend implements Backend on the Docker Engine API
type DockerBackend struct {
	logger *zap.Logger
	client *client.Client
}

// NewDockerBackend creates a DockerBackend configured from the environment
// (DOCKER_HOST, DOCKER_API_VERSION, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY).
// Extra client options are applied after the environment.
// No connection is made until the first call.
func NewDockerBackend(logger *zap.Logger, opts ...client.Opt) (*DockerBackend, error) {
	clientOpts := append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return NewDockerBackendWithClient(logger, cli)
}

// NewDockerBackendWithClient creates a DockerBackend on an existing client
func NewDockerBackendWithClient(logger *zap.Logger, cli *client.Client) (*DockerBackend, error) {
	if cli == nil {
		return nil, fmt.Errorf("docker client cannot be nil")
	}

	return &DockerBackend{
		logger: logger,
		client: cli,
	}, nil
}

// Name returns the backend identifier
func (*DockerBackend) Name() string {
	return "docker"
}

// Ping checks if the Docker daemon is accessible
func (d *DockerBackend) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Pull pulls the image if it doesn't exist locally
func (d *DockerBackend) Pull(ctx context.Context, ref string) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, ref); err == nil {
		d.logger.Debug("image already present", zap.String("image", ref))
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return d.wrap(fmt.Sprintf("failed to pull image %s", ref), err)
	}
	defer reader.Close()

	// Errors raised mid-pull only show up in the progress stream.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		var streamErr *jsonmessage.JSONError
		if errors.As(err, &streamErr) && isNotFoundMessage(streamErr.Message) {
			return fmt.Errorf("failed to pull image %s: %w: %w", ref, ErrNotFound, err)
		}
		return d.wrap(fmt.Sprintf("failed to pull image %s", ref), err)
	}

	return nil
}

// Run creates and starts a container for opts
func (d *DockerBackend) Run(ctx context.Context, opts RunOptions) (Instance, error) {
	containerCfg, hostCfg := d.buildContainerConfig(opts)

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return Instance{}, d.wrap(fmt.Sprintf("failed to create container from %s", opts.Image), err)
	}
	for _, warning := range resp.Warnings {
		d.logger.Warn("container create warning", zap.String("id", resp.ID), zap.String("warning", warning))
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up the created container
		if rmErr := d.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			d.logger.Warn("failed to remove container after start failure", zap.String("id", resp.ID), zap.Error(rmErr))
		}
		return Instance{}, fmt.Errorf("failed to start container: %w", err)
	}

	inst := Instance{ID: resp.ID, Name: shortID(resp.ID)}

	info, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.logger.Warn("failed to inspect container", zap.String("id", resp.ID), zap.Error(err))
	} else if info.ContainerJSONBase != nil {
		inst.Name = strings.TrimPrefix(info.Name, "/")
	}

	return inst, nil
}

// buildContainerConfig creates the container and host configurations
func (*DockerBackend) buildContainerConfig(opts RunOptions) (*container.Config, *container.HostConfig) {
	containerCfg := &container.Config{
		Image:     opts.Image,
		Tty:       opts.Interactive,
		OpenStdin: opts.Interactive,
		Labels:    opts.Labels,
	}

	binds := make([]string, 0, len(opts.Binds))
	for _, b := range opts.Binds {
		binds = append(binds, b.String())
	}

	hostCfg := &container.HostConfig{
		Binds:      binds,
		AutoRemove: opts.AutoRemove,
	}

	return containerCfg, hostCfg
}

// Exec runs cmd in the container and collects its combined output and exit code
func (d *DockerBackend) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	execResp, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, d.wrap("failed to create exec", err)
	}

	attachResp, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	// Without a TTY the stream is multiplexed; both halves go to one buffer.
	var output bytes.Buffer
	outputDone := make(chan error, 1)

	go func() {
		_, err := stdcopy.StdCopy(&output, &output, attachResp.Reader)
		outputDone <- err
	}()

	select {
	case err := <-outputDone:
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to read output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{}, fmt.Errorf("exec interrupted: %w", ctx.Err())
	}

	inspectResp, err := d.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{
		Output:   output.String(),
		ExitCode: inspectResp.ExitCode,
	}, nil
}

// Kill sends SIGKILL to the container. AutoRemove takes care of removal.
func (d *DockerBackend) Kill(ctx context.Context, id string) error {
	if err := d.client.ContainerKill(ctx, id, "KILL"); err != nil {
		return d.wrap(fmt.Sprintf("failed to kill container %s", shortID(id)), err)
	}
	return nil
}

// Close closes the Docker client
func (d *DockerBackend) Close() error {
	if err := d.client.Close(); err != nil {
		return fmt.Errorf("failed to close Docker client: %w", err)
	}
	return nil
}

// wrap annotates err and marks engine 404s with ErrNotFound
func (*DockerBackend) wrap(msg string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
