package analyzer

import (
	"testing"
	"time"
)

func TestDiagnosticsStore_SetAndGet(t *testing.T) {
	store := newDiagnosticsStore()

	diags := []Diagnostic{
		{Message: "unused variable", Severity: DiagnosticSeverityWarning},
		{Message: "mismatched types", Severity: DiagnosticSeverityError},
	}
	store.set("file:///a.rs", diags)

	got := store.get("file:///a.rs")
	if len(got) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(got))
	}

	// The returned slice is a copy.
	got[0].Message = "mutated"
	if store.get("file:///a.rs")[0].Message != "unused variable" {
		t.Error("mutating the returned slice leaked into the store")
	}
}

func TestDiagnosticsStore_EmptyPublicationRetracts(t *testing.T) {
	store := newDiagnosticsStore()

	store.set("file:///a.rs", []Diagnostic{{Message: "oops"}})
	store.set("file:///a.rs", nil)

	if got := store.get("file:///a.rs"); len(got) != 0 {
		t.Errorf("got %d diagnostics after retraction, want 0", len(got))
	}
	if all := store.all(); len(all) != 0 {
		t.Errorf("store still holds %d entries after retraction", len(all))
	}
}

func TestDiagnosticsStore_UpdateSignal(t *testing.T) {
	store := newDiagnosticsStore()

	ch := store.updates()
	select {
	case <-ch:
		t.Fatal("update channel closed before any publication")
	default:
	}

	store.set("file:///a.rs", []Diagnostic{{Message: "x"}})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("publication did not close the update channel")
	}

	// A fresh channel is armed for the next publication.
	select {
	case <-store.updates():
		t.Fatal("fresh update channel is already closed")
	default:
	}
}

func TestDiagnosticSeverityString(t *testing.T) {
	tests := []struct {
		sev  DiagnosticSeverity
		want string
	}{
		{DiagnosticSeverityError, "error"},
		{DiagnosticSeverityWarning, "warning"},
		{DiagnosticSeverityInformation, "information"},
		{DiagnosticSeverityHint, "hint"},
		{DiagnosticSeverity(9), "severity(9)"},
	}

	for _, tt := range tests {
		if got := tt.sev.String(); got != tt.want {
			t.Errorf("DiagnosticSeverity(%d).String() = %q, want %q", tt.sev, got, tt.want)
		}
	}
}
