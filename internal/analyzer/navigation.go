package analyzer

import (
	"context"
	"encoding/json"
)

// Definition returns the definition location(s) of the symbol at a
// position. The file is announced to the backend first, so the answer
// reflects on-disk contents as of that announcement.
func (c *Client) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.DefinitionProvider) {
		return nil, ErrNotSupported
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result json.RawMessage
	if err := c.call(ctx, "textDocument/definition", params, &result); err != nil {
		return nil, err
	}

	return ParseLocationResult(result)
}

// TypeDefinition returns the type definition location(s) for the symbol
// at a position.
func (c *Client) TypeDefinition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result json.RawMessage
	if err := c.call(ctx, "textDocument/typeDefinition", params, &result); err != nil {
		return nil, err
	}

	return ParseLocationResult(result)
}

// Implementations returns trait implementation locations for the symbol
// at a position.
func (c *Client) Implementations(ctx context.Context, path string, pos Position) ([]Location, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result json.RawMessage
	if err := c.call(ctx, "textDocument/implementation", params, &result); err != nil {
		return nil, err
	}

	return ParseLocationResult(result)
}

// References finds every reference to the symbol at a position.
func (c *Client) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.ReferencesProvider) {
		return nil, ErrNotSupported
	}

	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDecl},
	}

	var result []Location
	if err := c.call(ctx, "textDocument/references", params, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// Hover returns the backend's hover markup for the symbol at a position.
func (c *Client) Hover(ctx context.Context, path string, pos Position) (string, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return "", err
	}

	if !HasCapability(c.capabilities.HoverProvider) {
		return "", ErrNotSupported
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result *struct {
		Contents struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		} `json:"contents"`
	}
	if err := c.call(ctx, "textDocument/hover", params, &result); err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return result.Contents.Value, nil
}

// DocumentSymbols returns the symbols declared in a file, flattened.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]SymbolInformation, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	uri := FilePathToURI(path)
	params := DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}

	var result json.RawMessage
	if err := c.call(ctx, "textDocument/documentSymbol", params, &result); err != nil {
		return nil, err
	}

	return ParseSymbolResult(result, uri)
}

// WorkspaceSymbols runs a fuzzy symbol search across the whole project.
// No document needs to be open; the backend indexes from the workspace
// root.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	if c.Status() != SessionStatusReady {
		return nil, ErrNotReady
	}
	if !HasCapability(c.capabilities.WorkspaceSymbolProvider) {
		return nil, ErrNotSupported
	}

	params := WorkspaceSymbolParams{Query: query}

	var result []SymbolInformation
	if err := c.call(ctx, "workspace/symbol", params, &result); err != nil {
		return nil, err
	}

	return result, nil
}
