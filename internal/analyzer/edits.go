package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf16"
)

// ApplyTextEdits applies a set of edits to document content and returns
// the result. Edits are applied back to front so earlier offsets stay
// valid; overlapping edits are rejected. Edits at the same position
// keep their array order in the output, which is what the protocol
// prescribes for multiple inserts at one point.
func ApplyTextEdits(content string, edits []TextEdit) (string, error) {
	if len(edits) == 0 {
		return content, nil
	}

	type span struct {
		start, end int
		idx        int
		text       string
	}

	spans := make([]span, 0, len(edits))
	for i, e := range edits {
		start, err := positionToOffset(content, e.Range.Start)
		if err != nil {
			return "", err
		}
		end, err := positionToOffset(content, e.Range.End)
		if err != nil {
			return "", err
		}
		if end < start {
			return "", fmt.Errorf("edit range ends before it starts (%d < %d)", end, start)
		}
		spans = append(spans, span{start: start, end: end, idx: i, text: e.NewText})
	}

	// Back to front; same-start spans apply later-in-array first so the
	// earlier edit's text ends up in front of it.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start > spans[j].start
		}
		return spans[i].idx > spans[j].idx
	})

	for i := 1; i < len(spans); i++ {
		if spans[i].end > spans[i-1].start {
			return "", fmt.Errorf("overlapping edits at offset %d", spans[i].end)
		}
	}

	result := content
	for _, s := range spans {
		result = result[:s.start] + s.text + result[s.end:]
	}

	return result, nil
}

// positionToOffset converts an LSP position (zero-based line, UTF-16
// character) to a byte offset into content.
func positionToOffset(content string, pos Position) (int, error) {
	offset := 0
	line := 0
	for line < pos.Line {
		nl := strings.IndexByte(content[offset:], '\n')
		if nl < 0 {
			return 0, fmt.Errorf("line %d out of range", pos.Line)
		}
		offset += nl + 1
		line++
	}

	// Walk the line in UTF-16 code units.
	units := 0
	for i, r := range content[offset:] {
		if units >= pos.Character || r == '\n' {
			return offset + i, nil
		}
		units += len(utf16.Encode([]rune{r}))
	}
	if units >= pos.Character {
		return len(content), nil
	}
	// Past end of content; clamp, rustfmt edits sometimes address the
	// position just past the final newline.
	return len(content), nil
}

// FileChange describes what applying a workspace edit did to one file.
type FileChange struct {
	Path  string `json:"path"`
	Edits int    `json:"edits"`
}

// ApplyWorkspaceEdit applies a backend-produced edit to the files on
// disk and returns what changed. Both the changes map and the
// documentChanges array forms are handled; create/rename/delete
// resource operations are not, and fail loudly rather than silently
// corrupting the workspace.
func ApplyWorkspaceEdit(edit *WorkspaceEdit) ([]FileChange, error) {
	if edit == nil {
		return nil, nil
	}

	byPath := make(map[string][]TextEdit)

	for uri, edits := range edit.Changes {
		path := URIToFilePath(uri)
		byPath[path] = append(byPath[path], edits...)
	}

	for _, raw := range edit.DocumentChanges {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("re-encode document change: %w", err)
		}
		var docEdit struct {
			TextDocument *struct {
				URI DocumentURI `json:"uri"`
			} `json:"textDocument"`
			Edits []TextEdit `json:"edits"`
			Kind  string     `json:"kind"`
		}
		if err := json.Unmarshal(data, &docEdit); err != nil {
			return nil, fmt.Errorf("decode document change: %w", err)
		}
		if docEdit.Kind != "" {
			return nil, fmt.Errorf("unsupported resource operation %q in workspace edit", docEdit.Kind)
		}
		if docEdit.TextDocument == nil {
			continue
		}
		path := URIToFilePath(docEdit.TextDocument.URI)
		byPath[path] = append(byPath[path], docEdit.Edits...)
	}

	// Deterministic application order.
	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var changes []FileChange
	for _, path := range paths {
		edits := byPath[path]
		if len(edits) == 0 {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return changes, &FileAccessError{Path: path, Err: err}
		}

		updated, err := ApplyTextEdits(string(content), edits)
		if err != nil {
			return changes, fmt.Errorf("apply edits to %s: %w", path, err)
		}

		info, err := os.Stat(path)
		mode := os.FileMode(0o644)
		if err == nil {
			mode = info.Mode()
		}
		if err := os.WriteFile(path, []byte(updated), mode); err != nil {
			return changes, &FileAccessError{Path: path, Err: err}
		}

		changes = append(changes, FileChange{Path: path, Edits: len(edits)})
	}

	return changes, nil
}
