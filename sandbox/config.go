package sandbox

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/isdmx/yact/config"
)

// Default configuration values.
const (
	DefaultImage   = "alpine:latest"
	DefaultWorkdir = "/home/yact"
)

// Config describes the sandbox a Lifecycle provisions.
type Config struct {
	// Image is the container image reference.
	// Default: alpine:latest
	Image string

	// Workdir is the absolute path inside the sandbox where commands run
	// and where HostWorkdir is mounted.
	// Default: /home/yact
	Workdir string

	// HostWorkdir is the host directory mounted read-write at Workdir.
	// A relative path is taken relative to the current working directory.
	// Default: the current working directory at Open time
	HostWorkdir string
}

// DefaultConfig returns a Config with the default image and workdir and
// the host workdir left to the caller's current directory.
func DefaultConfig() Config {
	return Config{
		Image:   DefaultImage,
		Workdir: DefaultWorkdir,
	}
}

// ConfigFrom builds a sandbox Config from the application configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Image:       cfg.Sandbox.Image,
		Workdir:     cfg.Sandbox.Workdir,
		HostWorkdir: cfg.Sandbox.HostWorkdir,
	}
}

// WithImage returns a copy of the config with the specified image.
func (c Config) WithImage(image string) Config {
	c.Image = image
	return c
}

// WithWorkdir returns a copy of the config with the specified sandbox workdir.
func (c Config) WithWorkdir(dir string) Config {
	c.Workdir = dir
	return c
}

// WithHostWorkdir returns a copy of the config with the specified host workdir.
func (c Config) WithHostWorkdir(dir string) Config {
	c.HostWorkdir = dir
	return c
}

// Resolve applies defaults and makes HostWorkdir absolute against cwd.
// The engine only accepts absolute host paths for bind mounts.
func (c Config) Resolve(cwd string) (Config, error) {
	if c.Image == "" {
		c.Image = DefaultImage
	}

	if c.Workdir == "" {
		c.Workdir = DefaultWorkdir
	}
	if !path.IsAbs(c.Workdir) {
		return Config{}, fmt.Errorf("sandbox workdir must be an absolute path, got %q", c.Workdir)
	}
	c.Workdir = path.Clean(c.Workdir)

	switch {
	case c.HostWorkdir == "":
		c.HostWorkdir = cwd
	case !filepath.IsAbs(c.HostWorkdir):
		c.HostWorkdir = filepath.Join(cwd, c.HostWorkdir)
	default:
		c.HostWorkdir = filepath.Clean(c.HostWorkdir)
	}
	if !filepath.IsAbs(c.HostWorkdir) {
		return Config{}, fmt.Errorf("host workdir %q does not resolve to an absolute path", c.HostWorkdir)
	}

	return c, nil
}
