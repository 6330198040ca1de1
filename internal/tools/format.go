package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
)

func (s *Server) handleFormatCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	apply := request.GetBool("apply", true)

	// Snapshot the file and pin the backend's view to it before asking
	// for edits, so the edits are applied to the exact content they were
	// computed against even if the disk changes underneath.
	content, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading %s: %v", path, err)), nil
	}
	if err := s.client.ResyncText(ctx, path, string(content)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	edits, err := s.client.Format(ctx, path, analyzer.DefaultFormattingOptions())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(edits) == 0 {
		return jsonResult(map[string]any{
			"file_path": path,
			"changed":   false,
		}), nil
	}

	if !apply {
		return jsonResult(map[string]any{
			"file_path":  path,
			"changed":    true,
			"edit_count": len(edits),
			"edits":      edits,
		}), nil
	}

	formatted, err := analyzer.ApplyTextEdits(string(content), edits)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("applying format edits: %v", err)), nil
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, []byte(formatted), mode); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("writing %s: %v", path, err)), nil
	}

	return jsonResult(map[string]any{
		"file_path":  path,
		"changed":    true,
		"applied":    true,
		"edit_count": len(edits),
	}), nil
}
