package analyzer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// diagnosticsStore caches the latest diagnostics publication per file.
// The backend pushes publications whenever its analysis settles; queries
// read the cache instead of asking the backend.
type diagnosticsStore struct {
	mu      sync.RWMutex
	byURI   map[DocumentURI][]Diagnostic
	updated chan struct{} // replaced on every publication
}

func newDiagnosticsStore() *diagnosticsStore {
	return &diagnosticsStore{
		byURI:   make(map[DocumentURI][]Diagnostic),
		updated: make(chan struct{}),
	}
}

// set records a publication. An empty set clears the file's entry, which
// is how the backend retracts stale diagnostics.
func (d *diagnosticsStore) set(uri DocumentURI, diags []Diagnostic) {
	d.mu.Lock()
	if len(diags) == 0 {
		delete(d.byURI, uri)
	} else {
		d.byURI[uri] = diags
	}
	close(d.updated)
	d.updated = make(chan struct{})
	d.mu.Unlock()
}

func (d *diagnosticsStore) clear(uri DocumentURI) {
	d.mu.Lock()
	delete(d.byURI, uri)
	d.mu.Unlock()
}

func (d *diagnosticsStore) get(uri DocumentURI) []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	diags := d.byURI[uri]
	out := make([]Diagnostic, len(diags))
	copy(out, diags)
	return out
}

func (d *diagnosticsStore) all() map[DocumentURI][]Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[DocumentURI][]Diagnostic, len(d.byURI))
	for uri, diags := range d.byURI {
		cp := make([]Diagnostic, len(diags))
		copy(cp, diags)
		out[uri] = cp
	}
	return out
}

// updates returns the channel closed on the next publication.
func (d *diagnosticsStore) updates() <-chan struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updated
}

// DiagnosticsSummary aggregates diagnostic counts across the workspace.
type DiagnosticsSummary struct {
	Files    int
	Errors   int
	Warnings int
	Hints    int
}

// Diagnostics returns the cached diagnostics for a file.
func (c *Client) Diagnostics(path string) []Diagnostic {
	return c.diagnostics.get(FilePathToURI(path))
}

// AllDiagnostics returns cached diagnostics for every file, keyed by
// path, sorted stably for callers that render them.
func (c *Client) AllDiagnostics() map[string][]Diagnostic {
	byURI := c.diagnostics.all()
	out := make(map[string][]Diagnostic, len(byURI))
	for uri, diags := range byURI {
		sort.SliceStable(diags, func(i, j int) bool {
			if diags[i].Range.Start.Line != diags[j].Range.Start.Line {
				return diags[i].Range.Start.Line < diags[j].Range.Start.Line
			}
			return diags[i].Range.Start.Character < diags[j].Range.Start.Character
		})
		out[URIToFilePath(uri)] = diags
	}
	return out
}

// DiagnosticsSummary returns aggregate counts over the cache.
func (c *Client) DiagnosticsSummary() DiagnosticsSummary {
	var s DiagnosticsSummary
	for _, diags := range c.diagnostics.all() {
		s.Files++
		for _, d := range diags {
			switch d.Severity {
			case DiagnosticSeverityError:
				s.Errors++
			case DiagnosticSeverityWarning:
				s.Warnings++
			default:
				s.Hints++
			}
		}
	}
	return s
}

// WaitForDiagnostics opens a file and waits for the backend to publish
// diagnostics for it, up to the context deadline or settle duration.
// rust-analyzer publishes after its analysis catches up with didOpen, so
// a quiet period after the last publication is taken as settled.
func (c *Client) WaitForDiagnostics(ctx context.Context, path string, settle time.Duration) ([]Diagnostic, error) {
	if err := c.ensureOpen(ctx, path); err != nil {
		return nil, err
	}

	uri := FilePathToURI(path)
	if settle <= 0 {
		settle = 2 * time.Second
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()

	for {
		ch := c.diagnostics.updates()
		select {
		case <-ctx.Done():
			return c.diagnostics.get(uri), ctx.Err()
		case <-c.transport.Done():
			return nil, c.transport.Err()
		case <-timer.C:
			return c.diagnostics.get(uri), nil
		case <-ch:
			// A publication arrived; restart the quiet period.
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
		}
	}
}
