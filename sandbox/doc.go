// Package sandbox provides ephemeral, container-backed execution sandboxes.
//
// A Lifecycle provisions exactly one container per scope on a Backend: it
// checks that the engine is reachable, makes sure the image is present, and
// starts an interactive, auto-removing container with a host directory bound
// read-write at the sandbox workdir. The returned Handle runs shell commands
// from that workdir and returns their combined standard output and standard
// error. Closing the handle kills the container; nothing but the bound host
// directory survives.
//
// Backends exist for the Docker Engine API (DockerBackend) and the podman
// CLI (PodmanBackend). The sandboxtest package provides an in-memory fake.
//
// Commands are passed to sh verbatim. Never feed untrusted input to
// Handle.Execute.
//
// Usage:
//
//	backend, err := sandbox.NewDockerBackend(logger)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	lc := sandbox.NewLifecycle(logger, backend)
//	err = lc.Run(ctx, sandbox.DefaultConfig().WithHostWorkdir(".yact-testdir"),
//	    func(ctx context.Context, h *sandbox.Handle) error {
//	        out, err := h.ExecuteCommand(ctx, "pwd")
//	        if err != nil {
//	            return err
//	        }
//	        fmt.Print(out) // /home/yact
//	        return nil
//	    })
package sandbox
