// Package cargo invokes cargo and inspects Cargo manifests independently of
// the language server. Manifest analysis and check/clippy runs talk to the
// cargo binary directly rather than going through rust-analyzer.
package cargo

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Package holds the [package] section of a Cargo.toml.
type Package struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Edition     string `toml:"edition"`
	Description string `toml:"description"`
}

// Manifest is a decoded Cargo.toml. Dependency values stay untyped because
// cargo accepts both `name = "1.0"` and `name = { version = "1.0", ... }`
// forms; DescribeDependency normalizes them for display.
type Manifest struct {
	Package         Package             `toml:"package"`
	Dependencies    map[string]any      `toml:"dependencies"`
	DevDependencies map[string]any      `toml:"dev-dependencies"`
	Features        map[string][]string `toml:"features"`
}

// ParseError reports a manifest that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseManifest reads and decodes the Cargo.toml at path.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return &m, nil
}

// DescribeDependency renders a single dependency value for display. String
// values are version requirements; table values carry a version plus extras,
// or point at a git repository or local path.
func DescribeDependency(v any) string {
	switch dep := v.(type) {
	case string:
		return dep
	case map[string]any:
		if version, ok := dep["version"].(string); ok {
			if _, hasFeatures := dep["features"]; hasFeatures {
				return fmt.Sprintf("%s (with features)", version)
			}
			return fmt.Sprintf("%s (default)", version)
		}
		if _, ok := dep["git"]; ok {
			return "git dependency"
		}
		if _, ok := dep["path"]; ok {
			return "local path"
		}
		return "complex dependency"
	default:
		return "unknown"
	}
}

// Summary renders the manifest as a human-readable report: package metadata,
// dependencies with normalized version descriptions, dev-dependency and
// feature name lists. Map entries are sorted for stable output.
func (m *Manifest) Summary() string {
	var lines []string

	if m.Package.Name != "" {
		lines = append(lines, fmt.Sprintf("Package: %s", m.Package.Name))
	}
	if m.Package.Version != "" {
		lines = append(lines, fmt.Sprintf("Version: %s", m.Package.Version))
	}
	if m.Package.Edition != "" {
		lines = append(lines, fmt.Sprintf("Edition: %s", m.Package.Edition))
	}
	if m.Package.Description != "" {
		lines = append(lines, fmt.Sprintf("Description: %s", m.Package.Description))
	}

	if len(m.Dependencies) > 0 {
		lines = append(lines, fmt.Sprintf("Dependencies (%d):", len(m.Dependencies)))
		for _, name := range sortedKeys(m.Dependencies) {
			lines = append(lines, fmt.Sprintf("  - %s: %s", name, DescribeDependency(m.Dependencies[name])))
		}
	}

	if len(m.DevDependencies) > 0 {
		lines = append(lines, fmt.Sprintf("Dev Dependencies (%d): %s",
			len(m.DevDependencies), strings.Join(sortedKeys(m.DevDependencies), ", ")))
	}

	if len(m.Features) > 0 {
		names := make([]string, 0, len(m.Features))
		for name := range m.Features {
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("Features (%d): %s", len(m.Features), strings.Join(names, ", ")))
	}

	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
