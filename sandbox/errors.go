package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable matches errors returned when the container engine cannot be reached
	ErrBackendUnavailable = errors.New("container engine is not reachable")

	// ErrImageNotAvailable matches errors returned when the sandbox image cannot be resolved
	ErrImageNotAvailable = errors.New("image is not available")

	// ErrNotRunning is returned when a command is sent to a handle without a live container
	ErrNotRunning = errors.New("sandbox is not running")

	// ErrNotFound is wrapped by backends when the engine has no such image or container
	ErrNotFound = errors.New("not found")
)

// BackendUnavailableError reports that Open could not reach the engine.
// Nothing has been allocated when it is returned.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s engine is not reachable, please start the engine and try again: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// ImageNotAvailableError reports an image the engine could not resolve
type ImageNotAvailableError struct {
	Image string
	Err   error
}

func (e *ImageNotAvailableError) Error() string {
	return fmt.Sprintf("image %s is not available: %v", e.Image, e.Err)
}

func (e *ImageNotAvailableError) Unwrap() error { return e.Err }

func (e *ImageNotAvailableError) Is(target error) bool { return target == ErrImageNotAvailable }

// SandboxError wraps any other backend failure during provisioning
type SandboxError struct {
	Op  string
	Err error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// isNotFoundMessage reports whether an engine message describes a missing
// image or container. Only used where the engine gives no structured error.
func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"no such image", "image not known", "no such container", "manifest unknown", "repository does not exist", "not found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
