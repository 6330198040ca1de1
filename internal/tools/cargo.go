package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/cargo"
)

func (s *Server) handleAnalyzeManifest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("manifest_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	manifest, err := cargo.ParseManifest(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Cargo.toml Analysis:\n" + manifest.Summary()), nil
}

func (s *Server) handleRunCargoCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.runCargo(ctx, request, s.runner.Check)
}

func (s *Server) handleRunClippy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.runCargo(ctx, request, s.runner.Clippy)
}

func (s *Server) runCargo(ctx context.Context, request mcp.CallToolRequest, run func(context.Context, string) (*cargo.RunResult, error)) (*mcp.CallToolResult, error) {
	dir := request.GetString("workspace_path", s.workspaceRoot)
	if dir == "" {
		return mcp.NewToolResultError("workspace_path is required when no workspace root is configured"), nil
	}

	result, err := run(ctx, dir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !result.Success {
		return mcp.NewToolResultError(result.Report()), nil
	}
	return mcp.NewToolResultText(result.Report()), nil
}
