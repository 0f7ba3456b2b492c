// Package main is the entry point for the yact MCP server.
//
// The server provisions one container sandbox on start, exposes it to MCP
// clients over stdio or HTTP, and tears the container down on shutdown.
// Files written under the sandbox working directory persist in the host
// directory it is bound to.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
