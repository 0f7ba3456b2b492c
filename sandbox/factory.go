package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/yact/config"
)

// NewBackend creates the container backend selected by sandbox.backend
func NewBackend(logger *zap.Logger, cfg *config.Config) (Backend, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerBackend(logger)
	case "podman":
		return NewPodmanBackend(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
