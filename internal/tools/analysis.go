package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
)

// diagnosticPayload flattens a Diagnostic for tool callers.
type diagnosticPayload struct {
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Source   string         `json:"source,omitempty"`
	Code     any            `json:"code,omitempty"`
	Range    analyzer.Range `json:"range"`
}

func (s *Server) handleGetDiagnostics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	diagnostics, err := s.client.WaitForDiagnostics(ctx, path, s.diagnosticsSettle)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := make([]diagnosticPayload, 0, len(diagnostics))
	var errorCount, warningCount int
	for _, d := range diagnostics {
		switch d.Severity {
		case analyzer.DiagnosticSeverityError:
			errorCount++
		case analyzer.DiagnosticSeverityWarning:
			warningCount++
		}
		payload = append(payload, diagnosticPayload{
			Severity: d.Severity.String(),
			Message:  d.Message,
			Source:   d.Source,
			Code:     d.Code,
			Range:    d.Range,
		})
	}

	return jsonResult(map[string]any{
		"file_path":   path,
		"count":       len(payload),
		"errors":      errorCount,
		"warnings":    warningCount,
		"diagnostics": payload,
	}), nil
}
