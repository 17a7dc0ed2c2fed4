package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/internal/gateway"
	"github.com/x402gw/gateway/pkg/x402"
)

// Handlers binds the gateway's own in-process Service to MCP tool calls.
// Unlike a standalone MCP bridge, this runs inside the gateway process,
// so tools call gateway.Service directly rather than looping back over
// HTTP to its own API.
type Handlers struct {
	Service *gateway.Service
}

func NewHandlers(svc *gateway.Service) *Handlers {
	return &Handlers{Service: svc}
}

func (h *Handlers) HandleListServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := catalog.ListFilter{
		Tag:        req.GetString("tag", ""),
		Search:     req.GetString("search", ""),
		OnlyActive: true,
	}
	services, err := h.Service.Catalog.ListServices(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list services: %v", err)), nil
	}
	body, err := json.Marshal(services)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode services: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (h *Handlers) HandleExecuteService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID, err := req.RequireString("service_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	walletAddress, err := req.RequireString("wallet_address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sigJSON, err := req.RequireString("signature")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var auth x402.Authorization
	if err := json.Unmarshal([]byte(sigJSON), &auth); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid signature payload: %v", err)), nil
	}

	var requestBody map[string]any
	if raw, ok := req.GetArguments()["request_body"]; ok {
		if m, ok := raw.(map[string]any); ok {
			requestBody = m
		}
	}

	result, err := h.Service.ExecuteForAgent(ctx, gateway.AgentExecuteRequest{
		ServiceID:     serviceID,
		WalletAddress: walletAddress,
		Signature:     auth,
		RequestBody:   requestBody,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execute_service failed: %v", err)), nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
