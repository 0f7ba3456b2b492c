package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport" yaml:"transport"`
	HTTPPort  int    `mapstructure:"http_port" yaml:"http_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	Image           string `mapstructure:"image" yaml:"image"`
	Workdir         string `mapstructure:"workdir" yaml:"workdir"`
	HostWorkdir     string `mapstructure:"host_workdir" yaml:"host_workdir"`
	CloseTimeoutSec int    `mapstructure:"close_timeout_sec" yaml:"close_timeout_sec"`
	StartTimeoutSec int    `mapstructure:"start_timeout_sec" yaml:"start_timeout_sec"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	// An explicit file set with viper.SetConfigFile takes the place of the search path
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetConfigType("yaml")

	// YACT_SANDBOX_IMAGE overrides sandbox.image and so on
	viper.SetEnvPrefix("yact")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// SetDefaults registers the default value of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "alpine:latest")
	v.SetDefault("sandbox.workdir", "/home/yact")
	v.SetDefault("sandbox.host_workdir", "")
	v.SetDefault("sandbox.close_timeout_sec", 10)
	// Covers an image pull on first start
	v.SetDefault("sandbox.start_timeout_sec", 300)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	// The workdir lives inside a Linux container, so it is checked as a slash path.
	if !path.IsAbs(c.Sandbox.Workdir) {
		return fmt.Errorf("sandbox.workdir must be an absolute path, got: %q", c.Sandbox.Workdir)
	}

	if c.Sandbox.CloseTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.close_timeout_sec must be positive, got: %d", c.Sandbox.CloseTimeoutSec)
	}

	if c.Sandbox.StartTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.start_timeout_sec must be positive, got: %d", c.Sandbox.StartTimeoutSec)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetCloseTimeout returns the sandbox teardown timeout as a duration
func (c *Config) GetCloseTimeout() time.Duration {
	return time.Duration(c.Sandbox.CloseTimeoutSec) * time.Second
}

// GetStartTimeout bounds opening the sandbox at server start, image pull included
func (c *Config) GetStartTimeout() time.Duration {
	return time.Duration(c.Sandbox.StartTimeoutSec) * time.Second
}
