package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
)

func (s *Server) handleRenameSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName, err := request.RequireString("new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	apply := request.GetBool("apply", false)

	edit, err := s.client.Rename(ctx, path, pos, newName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if edit == nil {
		return jsonResult(map[string]any{
			"applied":  false,
			"new_name": newName,
			"message":  "rename produced no edit",
		}), nil
	}

	if !apply {
		return jsonResult(map[string]any{
			"applied":  false,
			"new_name": newName,
			"edit":     edit,
		}), nil
	}

	changes, err := analyzer.ApplyWorkspaceEdit(edit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("applying rename: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"applied":      true,
		"new_name":     newName,
		"file_changes": changes,
	}), nil
}

// actionPayload is the caller-facing shape of a code action.
type actionPayload struct {
	Title string `json:"title"`
	Kind  string `json:"kind,omitempty"`
}

// runCodeAction queries the actions for a range, keeps the ones matching
// kind, and optionally resolves and applies the first match to disk.
func (s *Server) runCodeAction(ctx context.Context, path string, rng analyzer.Range, kind analyzer.CodeActionKind, apply bool) (*mcp.CallToolResult, error) {
	actions, err := s.client.CodeActions(ctx, path, rng, []analyzer.CodeActionKind{kind})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(actions) == 0 {
		return jsonResult(map[string]any{
			"found":   false,
			"kind":    kind,
			"actions": []actionPayload{},
		}), nil
	}

	payload := make([]actionPayload, 0, len(actions))
	for _, a := range actions {
		payload = append(payload, actionPayload{Title: a.Title, Kind: string(a.Kind)})
	}

	if !apply {
		return jsonResult(map[string]any{
			"found":   true,
			"kind":    kind,
			"count":   len(payload),
			"actions": payload,
		}), nil
	}

	resolved, err := s.client.ResolveCodeAction(ctx, actions[0])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving %q: %v", actions[0].Title, err)), nil
	}
	if resolved.Edit == nil {
		return mcp.NewToolResultError(fmt.Sprintf("action %q carries no workspace edit", resolved.Title)), nil
	}

	changes, err := analyzer.ApplyWorkspaceEdit(resolved.Edit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("applying %q: %v", resolved.Title, err)), nil
	}

	return jsonResult(map[string]any{
		"found":        true,
		"kind":         kind,
		"applied":      resolved.Title,
		"actions":      payload,
		"file_changes": changes,
	}), nil
}

func (s *Server) handleExtractFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	startLine, err := request.RequireInt("start_line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	startCharacter, err := request.RequireInt("start_character")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	endLine, err := request.RequireInt("end_line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	endCharacter, err := request.RequireInt("end_character")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rng := analyzer.Range{
		Start: analyzer.Position{Line: startLine, Character: startCharacter},
		End:   analyzer.Position{Line: endLine, Character: endCharacter},
	}
	return s.runCodeAction(ctx, path, rng, analyzer.CodeActionKindRefactorExtract, request.GetBool("apply", false))
}

func (s *Server) handleInlineFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rng := analyzer.Range{Start: pos, End: pos}
	return s.runCodeAction(ctx, path, rng, analyzer.CodeActionKindRefactorInline, request.GetBool("apply", false))
}

func (s *Server) handleOrganizeImports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// source.organizeImports operates on the whole file; the range is a
	// formality.
	var rng analyzer.Range
	return s.runCodeAction(ctx, path, rng, analyzer.CodeActionKindSourceOrganizeImports, request.GetBool("apply", false))
}
