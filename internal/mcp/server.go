package mcp

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/troupe-sim/troupe/internal/control"
	"github.com/troupe-sim/troupe/internal/ratelimit"
)

// Server wraps the MCP SDK server and exposes the orchestrator as tools.
type Server struct {
	server       *sdk.Server
	controller   *control.Controller
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "troupe")
	Version string // Server version
}

// NewServer creates a new MCP server over the given controller.
func NewServer(cfg *Config, controller *control.Controller) (*Server, error) {
	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			// Client initialized, ready to serve
		},
	})

	s := &Server{
		server:       mcpServer,
		controller:   controller,
		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	return s.server.Run(ctx, &sdk.StdioTransport{})
}
