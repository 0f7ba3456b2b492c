// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and YACT_-prefixed environment variables.
// It covers the MCP server transport, the sandbox (container backend, image,
// in-sandbox and host working directories, teardown timeout) and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox image: %s\n", cfg.Sandbox.Image)
package config
