// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server owns a single sandbox for its whole lifetime: Start provisions it
// and Stop tears it down. Two tools are exposed through mark3labs/mcp-go:
// execute_command runs a shell command in the sandbox working directory and
// returns {"output","exit_code"}, and sandbox_info describes the container.
// Tool calls are serialised, so commands observe each other's effects in order.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, lifecycle)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
