package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/yact/config"
	"github.com/isdmx/yact/sandbox"
)

// Version is reported to MCP clients during initialization
const Version = "0.1.0"

// ErrNotStarted is returned when a tool is called before Start or after Stop
var ErrNotStarted = errors.New("sandbox is not running")

// MCPServer exposes one long-lived sandbox over the Model Context Protocol
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	lifecycle *sandbox.Lifecycle
	mcpServer *server.MCPServer

	httpMu     sync.Mutex
	httpServer *server.StreamableHTTPServer

	// mu guards handle only; the Handle serialises commands itself, so Stop
	// never waits behind a running command
	mu     sync.Mutex
	handle *sandbox.Handle
}

type executeResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

type sandboxInfo struct {
	Backend     string `json:"backend"`
	Container   string `json:"container"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Workdir     string `json:"workdir"`
	HostWorkdir string `json:"host_workdir"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, lifecycle *sandbox.Lifecycle) (*MCPServer, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("sandbox lifecycle cannot be nil")
	}

	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		lifecycle: lifecycle,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.String("sandbox.image", s.config.Sandbox.Image),
		zap.String("sandbox.workdir", s.config.Sandbox.Workdir),
		zap.String("sandbox.host_workdir", s.config.Sandbox.HostWorkdir),
		zap.Int("sandbox.close_timeout_sec", s.config.Sandbox.CloseTimeoutSec),
		zap.Int("sandbox.start_timeout_sec", s.config.Sandbox.StartTimeoutSec),
	)

	s.mcpServer = server.NewMCPServer("yact", Version)

	s.registerExecuteCommandTool()
	s.registerSandboxInfoTool()

	return s, nil
}

// Start provisions the sandbox the tools operate on
func (s *MCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return fmt.Errorf("sandbox already started: %s", s.handle.Name())
	}

	h, err := s.lifecycle.Open(ctx, sandbox.ConfigFrom(s.config))
	if err != nil {
		return err
	}
	s.handle = h
	return nil
}

// Stop tears the sandbox down. It is safe to call more than once.
func (s *MCPServer) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	// Close outside the lock so a hung command cannot hold up shutdown
	s.lifecycle.Close(h)
}

// registerExecuteCommandTool registers the execute_command tool
func (s *MCPServer) registerExecuteCommandTool() {
	tool := mcp.Tool{
		Name:        "execute_command",
		Description: "Run a shell command inside the sandbox working directory and return its combined output and exit code. Files written under the working directory persist on the host.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command line, run with sh -c",
				},
			},
			Required: []string{"command"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCommand)
}

// registerSandboxInfoTool registers the sandbox_info tool
func (s *MCPServer) registerSandboxInfoTool() {
	tool := mcp.Tool{
		Name:        "sandbox_info",
		Description: "Describe the running sandbox container",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleSandboxInfo)
}

// handleExecuteCommand handles the execute_command tool
func (s *MCPServer) handleExecuteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return errorResult(ErrNotStarted), nil
	}

	s.logger.Info("executing command in sandbox",
		zap.String("container", h.Name()),
		zap.String("command", command))

	// A concurrent Stop kills the container; Execute then fails with ErrNotRunning
	result, err := h.Execute(ctx, command)
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.Error(err),
			zap.String("command", command))
		return errorResult(err), nil
	}

	s.logger.Info("command completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("output_len", len(result.Output)))

	return jsonResult(executeResult{Output: result.Output, ExitCode: result.ExitCode})
}

// handleSandboxInfo handles the sandbox_info tool
func (s *MCPServer) handleSandboxInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return errorResult(ErrNotStarted), nil
	}

	cfg := s.handle.Config()
	return jsonResult(sandboxInfo{
		Backend:     s.lifecycle.Backend().Name(),
		Container:   s.handle.ID(),
		Name:        s.handle.Name(),
		Image:       cfg.Image,
		Workdir:     cfg.Workdir,
		HostWorkdir: cfg.HostWorkdir,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf("Execution failed: %v", err),
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpMu.Lock()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	httpServer := s.httpServer
	s.httpMu.Unlock()

	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	httpServer := s.httpServer
	s.httpMu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
