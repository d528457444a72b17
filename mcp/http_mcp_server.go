package mcp

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPRequest is the body of POST /mcp/call.
type MCPRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPResponse wraps a tool result for plain HTTP clients.
type MCPResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ToolInfo describes a tool for discovery.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// HTTPMCPServer provides HTTP endpoints for MCP tools
type HTTPMCPServer struct {
	mcp        *MCPServer
	streamable *server.StreamableHTTPServer
}

// NewHTTPMCPServer creates a new HTTP MCP server
func NewHTTPMCPServer(s *MCPServer) *HTTPMCPServer {
	return &HTTPMCPServer{
		mcp:        s,
		streamable: server.NewStreamableHTTPServer(s.GetMCPServer()),
	}
}

// RegisterRoutes registers HTTP MCP endpoints
func (h *HTTPMCPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/tools", h.handleListTools) // No auth - allows discovery
	mux.HandleFunc("/mcp/call", h.handleToolCall)   // identity is checked per tool
	mux.HandleFunc("/mcp/health", h.handleHealth)
	mux.Handle("/mcp", h.streamable)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (h *HTTPMCPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tools":  len(h.mcp.tools),
	})
}

func (h *HTTPMCPServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := h.mcp.Tools()
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Required:    t.InputSchema.Required,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": out,
		"total": len(out),
	})
}

func (h *HTTPMCPServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, MCPResponse{Error: "method not allowed"})
		return
	}
	var req MCPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, MCPResponse{Error: "invalid JSON: " + err.Error(), Kind: "InvalidInput"})
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]interface{}{}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		if _, set := req.Arguments["api_key"]; !set {
			req.Arguments["api_key"] = key
		}
	}

	result, err := h.mcp.CallTool(r.Context(), req.Tool, req.Arguments)
	if err != nil {
		writeJSON(w, http.StatusNotFound, MCPResponse{Error: err.Error(), Kind: "NotFound"})
		return
	}
	text := resultText(result)
	if result.IsError {
		kind := kindFromText(text)
		writeJSON(w, statusFromKind(kind), MCPResponse{Error: text, Kind: kind})
		return
	}
	writeJSON(w, http.StatusOK, MCPResponse{Success: true, Result: text})
}

func resultText(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if text := mcp.GetTextFromContent(c); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// kindFromText recovers the error kind prefix written by toolError.
func kindFromText(text string) string {
	kind, _, found := strings.Cut(text, ":")
	if !found || strings.ContainsAny(kind, " \n") {
		return "InvalidInput"
	}
	return kind
}

func statusFromKind(kind string) int {
	switch kind {
	case "InvalidAmount", "TextTooLong", "RatingOutOfRange", "InvalidInput":
		return http.StatusBadRequest
	case "Unauthorized", "InsufficientReputation":
		return http.StatusForbidden
	case "NotFound":
		return http.StatusNotFound
	case "WrongState", "DuplicateEntry", "SelfDealing":
		return http.StatusConflict
	case "InsufficientBalance":
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
