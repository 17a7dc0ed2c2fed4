// x402gw-mcp exposes the gateway's catalog and settlement flow to an
// MCP-speaking agent over stdio, for clients that drive tool calls
// instead of raw HTTP.
package main

import (
	"fmt"
	"os"

	mcptransport "github.com/mark3labs/mcp-go/server"

	"github.com/x402gw/gateway/internal/config"
	"github.com/x402gw/gateway/internal/logging"
	"github.com/x402gw/gateway/internal/mcpserver"
	"github.com/x402gw/gateway/internal/server"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build gateway: %v\n", err)
		os.Exit(1)
	}

	mcp := mcpserver.NewMCPServer(srv.GatewayService())
	if err := mcptransport.ServeStdio(mcp); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
