// Package sandboxtest provides an in-memory sandbox.Backend for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/isdmx/yact/sandbox"
)

// Operation names accepted by SetError and recorded in the call log.
const (
	OpPing = "Ping"
	OpPull = "Pull"
	OpRun  = "Run"
	OpExec = "Exec"
	OpKill = "Kill"
)

// Call is a recorded backend call
type Call struct {
	Method string
	Args   []any
}

// Container is the fake state of one started container
type Container struct {
	ID      string
	Name    string
	Options sandbox.RunOptions
	Running bool
}

// ExecFunc produces the result of an Exec call
type ExecFunc func(c *Container, cmd []string) (sandbox.ExecResult, error)

// Backend is a fake sandbox.Backend. Images listed in Registry can be pulled,
// images in Local are already present. Killed containers are removed, as the
// real engines do for auto-removed containers.
type Backend struct {
	mu sync.Mutex

	Registry map[string]bool
	Local    map[string]bool

	// OnExec handles Exec calls; by default Exec returns no output and exit code 0
	OnExec ExecFunc

	errors     map[string]error
	containers map[string]*Container
	calls      []Call
	seq        int
	closed     bool
}

// NewBackend creates a fake backend whose registry holds images
func NewBackend(images ...string) *Backend {
	b := &Backend{
		Registry:   make(map[string]bool),
		Local:      make(map[string]bool),
		errors:     make(map[string]error),
		containers: make(map[string]*Container),
	}
	for _, img := range images {
		b.Registry[img] = true
	}
	return b
}

var _ sandbox.Backend = (*Backend)(nil)

func (b *Backend) record(method string, args ...any) {
	b.calls = append(b.calls, Call{Method: method, Args: args})
}

// SetError makes the named operation fail with err until cleared with a nil err
func (b *Backend) SetError(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errors, op)
		return
	}
	b.errors[op] = err
}

// Calls returns all recorded calls
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls := make([]Call, len(b.calls))
	copy(calls, b.calls)
	return calls
}

// CallsFor returns the recorded calls of one method
func (b *Backend) CallsFor(method string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var calls []Call
	for _, c := range b.calls {
		if c.Method == method {
			calls = append(calls, c)
		}
	}
	return calls
}

// Running returns the containers that are still alive
func (b *Backend) Running() []*Container {
	b.mu.Lock()
	defer b.mu.Unlock()
	var running []*Container
	for _, c := range b.containers {
		if c.Running {
			running = append(running, c)
		}
	}
	return running
}

// Container returns the container with id, if it still exists
func (b *Backend) Container(id string) (*Container, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[id]
	return c, ok
}

// Closed reports whether Close has been called
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Name returns the backend identifier
func (*Backend) Name() string {
	return "fake"
}

// Ping fails only when an error was injected
func (b *Backend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpPing)
	return b.errors[OpPing]
}

// Pull copies a registry image into the local store
func (b *Backend) Pull(_ context.Context, image string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpPull, image)

	if err := b.errors[OpPull]; err != nil {
		return err
	}
	if b.Local[image] {
		return nil
	}
	if !b.Registry[image] {
		return fmt.Errorf("pull %s: %w", image, sandbox.ErrNotFound)
	}
	b.Local[image] = true
	return nil
}

// Run starts a fake container from a local image
func (b *Backend) Run(_ context.Context, opts sandbox.RunOptions) (sandbox.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpRun, opts)

	if err := b.errors[OpRun]; err != nil {
		return sandbox.Instance{}, err
	}
	if !b.Local[opts.Image] {
		return sandbox.Instance{}, fmt.Errorf("no such image %s: %w", opts.Image, sandbox.ErrNotFound)
	}

	b.seq++
	c := &Container{
		ID:      fmt.Sprintf("%064d", b.seq),
		Name:    fmt.Sprintf("fake_sandbox_%d", b.seq),
		Options: opts,
		Running: true,
	}
	b.containers[c.ID] = c

	return sandbox.Instance{ID: c.ID, Name: c.Name}, nil
}

// Exec runs the configured ExecFunc against a live container
func (b *Backend) Exec(_ context.Context, id string, cmd []string) (sandbox.ExecResult, error) {
	b.mu.Lock()
	b.record(OpExec, id, cmd)
	err := b.errors[OpExec]
	c, ok := b.containers[id]
	fn := b.OnExec
	b.mu.Unlock()

	if err != nil {
		return sandbox.ExecResult{}, err
	}
	if !ok || !c.Running {
		return sandbox.ExecResult{}, fmt.Errorf("container %s: %w", id, sandbox.ErrNotFound)
	}
	if fn == nil {
		return sandbox.ExecResult{}, nil
	}
	return fn(c, cmd)
}

// Kill stops and removes a container
func (b *Backend) Kill(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(OpKill, id)

	if err := b.errors[OpKill]; err != nil {
		return err
	}
	c, ok := b.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, sandbox.ErrNotFound)
	}
	c.Running = false
	delete(b.containers, id)
	return nil
}

// Close marks the backend closed
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
