package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"taskmarket-backend/core/marketplace"
	auth "taskmarket-backend/storage/auth"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes marketplace operations as MCP tools.
type MCPServer struct {
	mcpServer *server.MCPServer
	market    *marketplace.Marketplace
	apiKeys   auth.APIKeyValidator
	apiKey    string
	tools     []mcp.Tool
	handlers  map[string]server.ToolHandlerFunc
}

// NewMCPServer creates a new MCP server using the mcp-go library. apiKey is
// the default identity for tools called without an api_key argument. When
// apiKeys is nil, the account argument is trusted as the caller instead.
func NewMCPServer(market *marketplace.Marketplace, apiKeys auth.APIKeyValidator, apiKey string) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Task Marketplace MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		market:    market,
		apiKeys:   apiKeys,
		apiKey:    strings.TrimSpace(apiKey),
		handlers:  make(map[string]server.ToolHandlerFunc),
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// Tools lists the registered tool definitions.
func (s *MCPServer) Tools() []mcp.Tool {
	return append([]mcp.Tool(nil), s.tools...)
}

// CallTool invokes a registered tool directly, bypassing the transport.
func (s *MCPServer) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return handler(ctx, req)
}

func (s *MCPServer) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

// registerTools registers all MCP tools with the server
func (s *MCPServer) registerTools() {
	// Task lifecycle
	s.registerPostTaskTool()
	s.registerBidOnTaskTool()
	s.registerAssignTaskTool()
	s.registerSubmitWorkTool()
	s.registerApproveWorkTool()
	s.registerCancelTaskTool()
	s.registerDisputeTaskTool()
	s.registerResolveDisputeTool()

	// Reputation
	s.registerSubmitReviewTool()
	s.registerSlashReputationTool()
	s.registerGetReputationTool()
	s.registerGetReputationHistoryTool()
	s.registerListReviewsTool()

	// Queries
	s.registerGetTaskTool()
	s.registerListTasksTool()
	s.registerListOpenTasksTool()
	s.registerListBidsTool()
	s.registerGetEscrowTool()
	s.registerGetDisputeTool()

	// Accounts
	s.registerDepositTool()
	s.registerGetBalanceTool()
	s.registerAuditEscrowTool()
}

func identityOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("api_key", mcp.Description("API key of the calling account; defaults to the server key")),
		mcp.WithString("account", mcp.Description("Calling account when the server runs without API keys")),
	}
}

// caller resolves the account acting in a tool call.
func (s *MCPServer) caller(request mcp.CallToolRequest) (string, error) {
	if s.apiKeys == nil {
		acct := strings.TrimSpace(request.GetString("account", ""))
		if acct == "" {
			return "", fmt.Errorf("%w: account is required", marketplace.ErrUnauthorized)
		}
		return acct, nil
	}
	key := strings.TrimSpace(request.GetString("api_key", s.apiKey))
	if key == "" {
		return "", fmt.Errorf("%w: api key required", marketplace.ErrUnauthorized)
	}
	rec, ok := s.apiKeys.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: invalid api key", marketplace.ErrUnauthorized)
	}
	return rec.Account, nil
}

// requireUint reads a whole, non-negative number argument.
func requireUint(request mcp.CallToolRequest, key string) (uint64, error) {
	v, err := request.RequireFloat(key)
	if err != nil {
		return 0, err
	}
	return toUint(key, v)
}

func optionalUint(request mcp.CallToolRequest, key string) (uint64, error) {
	return toUint(key, request.GetFloat(key, 0))
}

func toUint(key string, v float64) (uint64, error) {
	if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
		return 0, fmt.Errorf("%w: %s must be a whole non-negative number", marketplace.ErrInvalidInput, key)
	}
	return uint64(v), nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", marketplace.KindOf(err), err))
}

func jsonResult(summary string, v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(summary + "\n\n" + string(b)), nil
}
