// Package mcpserver exposes the review service as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/diffview/internal/review"
)

// Name is the MCP server implementation name.
const Name = "diffview"

type handlers struct {
	svc *review.Service
}

// NewServer creates an MCP server with the review tools bound to svc.
func NewServer(svc *review.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
	)
	h := &handlers{svc: svc}

	s.AddTool(mcp.NewTool("review_open",
		mcp.WithDescription("Opens a diff review of a file. The file's current content is kept as the original until the review is approved or rejected."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("File path relative to the project root"),
		),
		mcp.WithBoolean("create",
			mcp.Description("The file does not exist yet and will be created"),
		),
	), h.open)

	s.AddTool(mcp.NewTool("review_update",
		mcp.WithDescription("Streams the proposed content of the file into the review. Send the growing content as it is produced and set final on the last call."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full proposed content so far")),
		mcp.WithBoolean("final", mcp.Description("This is the complete content")),
	), h.update)

	s.AddTool(mcp.NewTool("review_edit",
		mcp.WithDescription("Proposes the file's new content as search/replace blocks applied to its original content, then finalizes the review."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
		mcp.WithArray("replacements",
			mcp.Required(),
			mcp.Description("Blocks applied in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search":     map[string]any{"type": "string"},
					"replace":    map[string]any{"type": "string"},
					"replaceAll": map[string]any{"type": "boolean"},
				},
				"required": []string{"search", "replace"},
			}),
		),
	), h.edit)

	s.AddTool(mcp.NewTool("review_approve",
		mcp.WithDescription("Saves the reviewed content to disk. Reports edits made by the reviewer, edits made by format-on-save, and new diagnostics."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
	), h.approve)

	s.AddTool(mcp.NewTool("review_reject",
		mcp.WithDescription("Reverts the file to its original content, removing it if it was created."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
	), h.reject)

	s.AddTool(mcp.NewTool("review_status",
		mcp.WithDescription("Returns one review by ID, or all open reviews when no ID is given."),
		mcp.WithString("id", mcp.Description("Review ID")),
	), h.status)

	return s
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handlers) open(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := h.svc.Open(ctx, review.OpenRequest{Path: path, Create: request.GetBool("create", false)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (h *handlers) update(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := h.svc.Update(ctx, id, content, request.GetBool("final", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (h *handlers) edit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	blocks, err := toReplacements(request.GetArguments()["replacements"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid replacements: %v", err)), nil
	}
	res, err := h.svc.Edit(ctx, id, blocks)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// toReplacements converts the decoded JSON argument into replacement blocks.
func toReplacements(v any) ([]review.Replacement, error) {
	if v == nil {
		return nil, fmt.Errorf("replacements argument is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var blocks []review.Replacement
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("at least one block is required")
	}
	return blocks, nil
}

func (h *handlers) approve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.svc.Approve(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (h *handlers) reject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := h.svc.Reject(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (h *handlers) status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return jsonResult(h.svc.List())
	}
	info, err := h.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}
