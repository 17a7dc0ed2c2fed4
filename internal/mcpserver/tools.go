package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the gateway's MCP surface. Descriptions are what
// the calling LLM reads to decide when to use each tool — per spec
// §4.9's "suitable for autonomous agents" framing, this is the tool-call
// equivalent of the HTTP discovery/gateway endpoints, not a new payment
// path.

var ToolListServices = mcp.NewTool("list_services",
	mcp.WithDescription(
		"List services in the x402 gateway catalog. Returns each service's "+
			"id, name, description, price (base units and token), kind "+
			"(HOSTED/PROXY/NATIVE), and provider address. Call this before "+
			"execute_service to find a service id."),
	mcp.WithString("tag", mcp.Description("Filter services by tag")),
	mcp.WithString("search", mcp.Description("Free-text search over name and description")),
)

var ToolExecuteService = mcp.NewTool("execute_service",
	mcp.WithDescription(
		"Pay for and invoke a catalog service in one call. The caller must "+
			"already hold a signed EIP-3009 receiveWithAuthorization payload "+
			"for the service's exact price and destination — this tool does "+
			"not sign on the agent's behalf. Settles the payment on-chain, "+
			"then invokes the service and returns its response."),
	mcp.WithString("service_id", mcp.Required(), mcp.Description("The service id from list_services")),
	mcp.WithString("wallet_address", mcp.Required(), mcp.Description("The paying wallet's address")),
	mcp.WithString("signature", mcp.Required(),
		mcp.Description("JSON-encoded signed EIP-3009 authorization (from, to, value, validAfter, validBefore, nonce, v, r, s)")),
	mcp.WithObject("request_body", mcp.Description("Body to pass to the service, for services that accept input")),
)
