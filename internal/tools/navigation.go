package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
)

// locationPayload is a Location with its URI translated back to a file
// path for the tool caller.
type locationPayload struct {
	FilePath string         `json:"file_path"`
	Range    analyzer.Range `json:"range"`
}

func toLocationPayloads(locations []analyzer.Location) []locationPayload {
	out := make([]locationPayload, 0, len(locations))
	for _, loc := range locations {
		out = append(out, locationPayload{
			FilePath: analyzer.URIToFilePath(loc.URI),
			Range:    loc.Range,
		})
	}
	return out
}

func (s *Server) handleFindDefinition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	locations, err := s.client.Definition(ctx, path, pos)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"found":     len(locations) > 0,
		"locations": toLocationPayloads(locations),
	}), nil
}

func (s *Server) handleFindReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	includeDecl := request.GetBool("include_declaration", true)

	locations, err := s.client.References(ctx, path, pos, includeDecl)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"found":      len(locations) > 0,
		"count":      len(locations),
		"references": toLocationPayloads(locations),
	}), nil
}

func (s *Server) handleHover(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	contents, err := s.client.Hover(ctx, path, pos)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"found":    contents != "",
		"contents": contents,
	}), nil
}

// symbolPayload flattens SymbolInformation for tool callers, with the
// kind rendered as a name instead of a protocol number.
type symbolPayload struct {
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	ContainerName string         `json:"container_name,omitempty"`
	FilePath      string         `json:"file_path"`
	Range         analyzer.Range `json:"range"`
}

func toSymbolPayloads(symbols []analyzer.SymbolInformation) []symbolPayload {
	out := make([]symbolPayload, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, symbolPayload{
			Name:          sym.Name,
			Kind:          sym.Kind.String(),
			ContainerName: sym.ContainerName,
			FilePath:      analyzer.URIToFilePath(sym.Location.URI),
			Range:         sym.Location.Range,
		})
	}
	return out
}

func (s *Server) handleDocumentSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	symbols, err := s.client.DocumentSymbols(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"count":   len(symbols),
		"symbols": toSymbolPayloads(symbols),
	}), nil
}

func (s *Server) handleWorkspaceSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	symbols, err := s.client.WorkspaceSymbols(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"query":   query,
		"count":   len(symbols),
		"symbols": toSymbolPayloads(symbols),
	}), nil
}
