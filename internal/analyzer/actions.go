package analyzer

import (
	"context"
	"encoding/json"
	"strings"
)

// CodeActions returns the actions the backend offers for a range. The
// only filter, when non-empty, is forwarded to the backend and applied
// again locally; backends are allowed to ignore it.
func (c *Client) CodeActions(ctx context.Context, path string, rng Range, only []CodeActionKind) ([]CodeAction, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.CodeActionProvider) {
		return nil, ErrNotSupported
	}

	uri := FilePathToURI(path)
	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
		Context: CodeActionContext{
			Diagnostics: c.diagnostics.get(uri),
			Only:        only,
		},
	}

	var result []CodeAction
	if err := c.call(ctx, "textDocument/codeAction", params, &result); err != nil {
		return nil, err
	}

	if len(only) == 0 {
		return result, nil
	}
	return FilterActionsByKind(result, only...), nil
}

// FilterActionsByKind keeps actions whose kind equals one of the bases
// or sits below it in the dotted hierarchy. Selection is structural;
// action titles are display text and never matched against. Actions that
// arrive without a kind fall back to classifyActionByTitle.
func FilterActionsByKind(actions []CodeAction, bases ...CodeActionKind) []CodeAction {
	var out []CodeAction
	for _, a := range actions {
		kind := a.Kind
		if kind == "" {
			kind = classifyActionByTitle(a.Title)
		}
		for _, base := range bases {
			if kind.Matches(base) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// classifyActionByTitle guesses a kind for actions the backend sent
// without one. It only recognizes the leading verb of the few assist
// families this server selects on; anything else stays unclassified and
// is filtered out, so an unusual title can hide an otherwise matching
// action.
func classifyActionByTitle(title string) CodeActionKind {
	lower := strings.ToLower(title)
	switch {
	case strings.HasPrefix(lower, "extract "):
		return CodeActionKindRefactorExtract
	case strings.HasPrefix(lower, "inline "):
		return CodeActionKindRefactorInline
	case strings.HasPrefix(lower, "organize imports"):
		return CodeActionKindSourceOrganizeImports
	default:
		return ""
	}
}

// ResolveCodeAction fills in a lazily-computed action. rust-analyzer
// defers the edit until resolution for expensive assists; an action that
// already carries its edit is returned unchanged.
func (c *Client) ResolveCodeAction(ctx context.Context, action CodeAction) (*CodeAction, error) {
	if action.Edit != nil {
		return &action, nil
	}

	var resolved CodeAction
	if err := c.call(ctx, "codeAction/resolve", action, &resolved); err != nil {
		return nil, err
	}
	return &resolved, nil
}

// Rename computes the workspace edit for renaming the symbol at a
// position. The backend validates the new name; an invalid one comes
// back as a request error.
func (c *Client) Rename(ctx context.Context, path string, pos Position, newName string) (*WorkspaceEdit, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.RenameProvider) {
		return nil, ErrNotSupported
	}

	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		NewName: newName,
	}

	var result *WorkspaceEdit
	if err := c.call(ctx, "textDocument/rename", params, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// PrepareRename asks whether the symbol at a position can be renamed and
// returns the range the rename would cover. A nil range with nil error
// means the backend declined the position.
func (c *Client) PrepareRename(ctx context.Context, path string, pos Position) (*Range, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.RenameProvider) {
		return nil, ErrNotSupported
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var raw json.RawMessage
	if err := c.call(ctx, "textDocument/prepareRename", params, &raw); err != nil {
		return nil, err
	}

	return parsePrepareRenameResult(raw)
}

// parsePrepareRenameResult handles the three response shapes the protocol
// allows: null, a bare range, or an object wrapping a range with a
// placeholder.
func parsePrepareRenameResult(raw json.RawMessage) (*Range, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var wrapped struct {
		Range           *Range `json:"range"`
		DefaultBehavior bool   `json:"defaultBehavior"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Range != nil {
			return wrapped.Range, nil
		}
		if wrapped.DefaultBehavior {
			return nil, nil
		}
	}

	var rng Range
	if err := json.Unmarshal(raw, &rng); err != nil {
		return nil, err
	}
	return &rng, nil
}

// Format returns the edits that reformat a whole document.
func (c *Client) Format(ctx context.Context, path string, opts FormattingOptions) ([]TextEdit, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	if !HasCapability(c.capabilities.DocumentFormattingProvider) {
		return nil, ErrNotSupported
	}

	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Options:      opts,
	}

	var result []TextEdit
	if err := c.call(ctx, "textDocument/formatting", params, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// DefaultFormattingOptions returns rustfmt's conventions.
func DefaultFormattingOptions() FormattingOptions {
	return FormattingOptions{
		TabSize:      4,
		InsertSpaces: true,
	}
}

// ExecuteCommand asks the backend to run a command attached to a code
// action that carries no edit.
func (c *Client) ExecuteCommand(ctx context.Context, cmd Command) (json.RawMessage, error) {
	params := struct {
		Command   string `json:"command"`
		Arguments []any  `json:"arguments,omitempty"`
	}{
		Command:   cmd.Command,
		Arguments: cmd.Arguments,
	}

	var result json.RawMessage
	if err := c.call(ctx, "workspace/executeCommand", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
