package extraction

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docground/kit"
)

// RegisterMCP registers the read-only extraction tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStatusTool(srv)
	s.registerResultTool(srv)
	s.registerCorrectionsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- status ---

type statusReq struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docground_status",
		Description: "Report the processing status and progress of a document extraction transaction.",
		InputSchema: inputSchema(map[string]any{
			"transaction_id": map[string]any{"type": "string", "description": "Transaction ID (txn_ prefix)"},
		}, []string{"transaction_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*statusReq)
		return s.Status(ctx, r.TransactionID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r statusReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- result ---

type resultReq struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Service) registerResultTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docground_result",
		Description: "Fetch the extracted element hierarchy and summary of a completed transaction.",
		InputSchema: inputSchema(map[string]any{
			"transaction_id": map[string]any{"type": "string", "description": "Transaction ID (txn_ prefix)"},
		}, []string{"transaction_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*resultReq)
		return s.Result(ctx, r.TransactionID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r resultReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- corrections ---

type correctionsReq struct {
	TransactionID string `json:"transaction_id"`
	ElementID     string `json:"element_id,omitempty"`
}

func (s *Service) registerCorrectionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docground_corrections",
		Description: "List the correction log of a transaction, optionally scoped to one element.",
		InputSchema: inputSchema(map[string]any{
			"transaction_id": map[string]any{"type": "string", "description": "Transaction ID (txn_ prefix)"},
			"element_id":     map[string]any{"type": "string", "description": "Optional element ID (el_ prefix)"},
		}, []string{"transaction_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*correctionsReq)
		cors, err := s.Corrections(ctx, r.TransactionID, r.ElementID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"corrections": cors, "count": len(cors)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r correctionsReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
