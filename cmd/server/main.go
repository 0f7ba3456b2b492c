package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/yact/config"
	"github.com/isdmx/yact/logger"
	"github.com/isdmx/yact/mcpserver"
	"github.com/isdmx/yact/sandbox"
)

func main() {
	// Loaded ahead of fx so the start timeout can come from it
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	// Start the application
	newApp(cfg).Run()
}

func newApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),

		// Provide dependencies
		fx.Provide(
			// Logger with configuration
			logger.NewFromConfig,

			// Container engine backend based on config
			sandbox.NewBackend,

			// Sandbox lifecycle on that backend
			sandbox.NewLifecycleFromConfig,

			// MCP Server
			mcpserver.New,
		),

		fx.Invoke(register),

		// OnStart provisions the sandbox, which may pull the image first
		fx.StartTimeout(cfg.GetStartTimeout()),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

// register ties the sandbox and the transport to the application lifecycle.
// The sandbox is provisioned before serving starts and torn down on stop.
func register(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, backend sandbox.Backend, srv *mcpserver.MCPServer) error {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = srv.ServeStdio
	case "http":
		serve = srv.ServeHTTP
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				return err
			}

			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				// stdio returns when the client closes the stream
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn("failed to shut down HTTP transport", zap.Error(err))
			}
			srv.Stop()
			return backend.Close()
		},
	})

	return nil
}
