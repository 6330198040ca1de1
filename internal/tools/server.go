// Package tools exposes the analyzer session and cargo runners as MCP
// tools on a stdio server.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ferrous-tools/rust-analyzer-mcp/internal/analyzer"
	"github.com/ferrous-tools/rust-analyzer-mcp/internal/cargo"
)

// LanguageClient is the slice of the analyzer session the tool handlers
// use. The concrete implementation is *analyzer.Client; tests substitute
// a stub.
type LanguageClient interface {
	Definition(ctx context.Context, path string, pos analyzer.Position) ([]analyzer.Location, error)
	References(ctx context.Context, path string, pos analyzer.Position, includeDecl bool) ([]analyzer.Location, error)
	Hover(ctx context.Context, path string, pos analyzer.Position) (string, error)
	DocumentSymbols(ctx context.Context, path string) ([]analyzer.SymbolInformation, error)
	WorkspaceSymbols(ctx context.Context, query string) ([]analyzer.SymbolInformation, error)
	Rename(ctx context.Context, path string, pos analyzer.Position, newName string) (*analyzer.WorkspaceEdit, error)
	Format(ctx context.Context, path string, opts analyzer.FormattingOptions) ([]analyzer.TextEdit, error)
	ResyncText(ctx context.Context, path, text string) error
	CodeActions(ctx context.Context, path string, rng analyzer.Range, only []analyzer.CodeActionKind) ([]analyzer.CodeAction, error)
	ResolveCodeAction(ctx context.Context, action analyzer.CodeAction) (*analyzer.CodeAction, error)
	WaitForDiagnostics(ctx context.Context, path string, settle time.Duration) ([]analyzer.Diagnostic, error)
}

// CargoRunner runs cargo subcommands in a workspace.
type CargoRunner interface {
	Check(ctx context.Context, workspaceDir string) (*cargo.RunResult, error)
	Clippy(ctx context.Context, workspaceDir string) (*cargo.RunResult, error)
}

// Server holds the tool handlers and their collaborators.
type Server struct {
	client LanguageClient
	runner CargoRunner

	// workspaceRoot is the default workspace for cargo runs when the
	// caller leaves workspace_path empty.
	workspaceRoot string
	// diagnosticsSettle is how long a file's diagnostics must stay quiet
	// before get_diagnostics reports them.
	diagnosticsSettle time.Duration
}

// NewServer creates the tool surface over the given collaborators.
func NewServer(client LanguageClient, runner CargoRunner, workspaceRoot string) *Server {
	return &Server{
		client:            client,
		runner:            runner,
		workspaceRoot:     workspaceRoot,
		diagnosticsSettle: 2 * time.Second,
	}
}

// Register wires every tool into the MCP server.
func (s *Server) Register(mcpServer *server.MCPServer) {
	position := func(tool ...mcp.ToolOption) []mcp.ToolOption {
		return append([]mcp.ToolOption{
			mcp.WithString("file_path",
				mcp.Description("Absolute path to the Rust source file"),
				mcp.Required(),
			),
			mcp.WithNumber("line",
				mcp.Description("Zero-based line number"),
				mcp.Required(),
			),
			mcp.WithNumber("character",
				mcp.Description("Zero-based UTF-16 character offset within the line"),
				mcp.Required(),
			),
		}, tool...)
	}

	mcpServer.AddTool(mcp.NewTool("find_definition",
		position(mcp.WithDescription("Find the definition of the symbol at a position"))...,
	), s.handleFindDefinition)

	mcpServer.AddTool(mcp.NewTool("find_references",
		position(
			mcp.WithDescription("Find all references to the symbol at a position"),
			mcp.WithBoolean("include_declaration",
				mcp.Description("Include the declaration itself in the results (default: true)"),
			),
		)...,
	), s.handleFindReferences)

	mcpServer.AddTool(mcp.NewTool("hover",
		position(mcp.WithDescription("Get type and documentation for the symbol at a position"))...,
	), s.handleHover)

	mcpServer.AddTool(mcp.NewTool("get_diagnostics",
		mcp.WithDescription("Get compiler diagnostics for a file, waiting for the analyzer to settle"),
		mcp.WithString("file_path",
			mcp.Description("Absolute path to the Rust source file"),
			mcp.Required(),
		),
	), s.handleGetDiagnostics)

	mcpServer.AddTool(mcp.NewTool("document_symbols",
		mcp.WithDescription("List the symbols defined in a file"),
		mcp.WithString("file_path",
			mcp.Description("Absolute path to the Rust source file"),
			mcp.Required(),
		),
	), s.handleDocumentSymbols)

	mcpServer.AddTool(mcp.NewTool("workspace_symbols",
		mcp.WithDescription("Search for symbols across the whole workspace"),
		mcp.WithString("query",
			mcp.Description("Symbol name query, fuzzy-matched by the analyzer"),
			mcp.Required(),
		),
	), s.handleWorkspaceSymbols)

	mcpServer.AddTool(mcp.NewTool("rename_symbol",
		position(
			mcp.WithDescription("Rename the symbol at a position across the workspace"),
			mcp.WithString("new_name",
				mcp.Description("The new symbol name"),
				mcp.Required(),
			),
			mcp.WithBoolean("apply",
				mcp.Description("Write the resulting edits to disk (default: false, return them)"),
			),
		)...,
	), s.handleRenameSymbol)

	mcpServer.AddTool(mcp.NewTool("format_code",
		mcp.WithDescription("Format a Rust source file via the analyzer"),
		mcp.WithString("file_path",
			mcp.Description("Absolute path to the Rust source file"),
			mcp.Required(),
		),
		mcp.WithBoolean("apply",
			mcp.Description("Write the formatted content to disk (default: true)"),
		),
	), s.handleFormatCode)

	mcpServer.AddTool(mcp.NewTool("extract_function",
		mcp.WithDescription("Extract the selected range into a function"),
		mcp.WithString("file_path",
			mcp.Description("Absolute path to the Rust source file"),
			mcp.Required(),
		),
		mcp.WithNumber("start_line", mcp.Description("Zero-based start line of the selection"), mcp.Required()),
		mcp.WithNumber("start_character", mcp.Description("Zero-based start character"), mcp.Required()),
		mcp.WithNumber("end_line", mcp.Description("Zero-based end line of the selection"), mcp.Required()),
		mcp.WithNumber("end_character", mcp.Description("Zero-based end character"), mcp.Required()),
		mcp.WithBoolean("apply",
			mcp.Description("Apply the first matching refactoring to disk (default: false)"),
		),
	), s.handleExtractFunction)

	mcpServer.AddTool(mcp.NewTool("inline_function",
		position(
			mcp.WithDescription("Inline the function or variable at a position"),
			mcp.WithBoolean("apply",
				mcp.Description("Apply the first matching refactoring to disk (default: false)"),
			),
		)...,
	), s.handleInlineFunction)

	mcpServer.AddTool(mcp.NewTool("organize_imports",
		mcp.WithDescription("Organize the use statements of a file"),
		mcp.WithString("file_path",
			mcp.Description("Absolute path to the Rust source file"),
			mcp.Required(),
		),
		mcp.WithBoolean("apply",
			mcp.Description("Apply the reorganization to disk (default: false)"),
		),
	), s.handleOrganizeImports)

	mcpServer.AddTool(mcp.NewTool("analyze_manifest",
		mcp.WithDescription("Parse a Cargo.toml and summarize package, dependencies and features"),
		mcp.WithString("manifest_path",
			mcp.Description("Absolute path to the Cargo.toml"),
			mcp.Required(),
		),
	), s.handleAnalyzeManifest)

	mcpServer.AddTool(mcp.NewTool("run_cargo_check",
		mcp.WithDescription("Run cargo check and report compiler messages"),
		mcp.WithString("workspace_path",
			mcp.Description("Workspace directory to check (default: the configured workspace root)"),
		),
	), s.handleRunCargoCheck)

	mcpServer.AddTool(mcp.NewTool("run_clippy",
		mcp.WithDescription("Run cargo clippy and report lint messages"),
		mcp.WithString("workspace_path",
			mcp.Description("Workspace directory to lint (default: the configured workspace root)"),
		),
	), s.handleRunClippy)
}

// jsonResult marshals a payload into a text tool result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error())
	}
	return mcp.NewToolResultText(string(data))
}

// positionArgs extracts the file_path/line/character triple shared by the
// position-based tools.
func positionArgs(request mcp.CallToolRequest) (string, analyzer.Position, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return "", analyzer.Position{}, err
	}
	line, err := request.RequireInt("line")
	if err != nil {
		return "", analyzer.Position{}, err
	}
	character, err := request.RequireInt("character")
	if err != nil {
		return "", analyzer.Position{}, err
	}
	return path, analyzer.Position{Line: line, Character: character}, nil
}
