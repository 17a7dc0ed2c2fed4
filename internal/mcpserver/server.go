// Package mcpserver exposes the gateway's catalog and settlement flow as
// MCP tools, so an MCP-speaking agent client can discover and pay for
// services without hand-rolled HTTP — spec §4.9's "suitable for
// autonomous agents" framing, applied to the MCP tool-call convention
// instead of the agent client itself (out of scope per spec §1).
package mcpserver

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/x402gw/gateway/internal/gateway"
)

// NewMCPServer creates an MCP server exposing list_services and
// execute_service against svc.
func NewMCPServer(svc *gateway.Service) *server.MCPServer {
	s := server.NewMCPServer("x402-gateway", "1.0.0")
	h := NewHandlers(svc)

	s.AddTool(ToolListServices, h.HandleListServices)
	s.AddTool(ToolExecuteService, h.HandleExecuteService)

	return s
}

// NewHTTPHandler wraps svc's MCP server in the streamable-HTTP transport,
// so it can be mounted as a plain http.Handler alongside the gateway's
// gin routes.
func NewHTTPHandler(svc *gateway.Service) http.Handler {
	return server.NewStreamableHTTPServer(NewMCPServer(svc))
}
