package ai

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/qgate/internal/types"
)

// DefaultMaxContentChars bounds the file content sent with a request
const DefaultMaxContentChars = 8000

var (
	importFromRegex = regexp.MustCompile(`(?m)^\s*(?:import|export)\s[^'"]*?\bfrom\s+['"]([^'"]+)['"]`)
	sideEffectRegex = regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"]+)['"]`)
	requireRegex    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	dynamicRegex    = regexp.MustCompile(`\bimport\(\s*['"]([^'"]+)['"]\s*\)`)
)

// ImportRef is one module specifier referenced by the file
type ImportRef struct {
	Specifier string `json:"specifier"`
	Local     bool   `json:"local"` // relative or absolute path rather than a package
}

// WorkspaceHint describes a monorepo marker found above the file
type WorkspaceHint struct {
	Kind     string   `json:"kind"` // pnpm, lerna, nx, turbo, npm-workspaces
	Path     string   `json:"path"` // marker file, relative to the root
	Packages []string `json:"packages,omitempty"`
}

// ContextBuilder assembles analysis requests from a file and its surroundings
type ContextBuilder struct {
	Root            string
	MaxContentChars int
}

// NewContextBuilder creates a builder rooted at the project root
func NewContextBuilder(root string) *ContextBuilder {
	return &ContextBuilder{Root: root, MaxContentChars: DefaultMaxContentChars}
}

// Build creates the request for one file. It never fails; anything that
// cannot be read is simply left out.
func (b *ContextBuilder) Build(filePath, configPath, content string, diags []types.Diagnostic) *AnalysisRequest {
	req := &AnalysisRequest{
		FilePath:    filePath,
		ConfigPath:  configPath,
		Diagnostics: diags,
		Imports:     ExtractImports(content),
	}

	limit := b.MaxContentChars
	if limit <= 0 {
		limit = DefaultMaxContentChars
	}
	if runes := []rune(content); len(runes) > limit {
		req.FileContent = string(runes[:limit])
		req.Truncated = true
	} else {
		req.FileContent = content
	}

	if b.Root != "" && filePath != "" {
		req.WorkspaceHints = b.workspaceHints(filePath)
	}
	return req
}

// ExtractImports finds ES import/export-from, side-effect imports, dynamic
// imports and require() calls, deduplicated in order of appearance
func ExtractImports(content string) []ImportRef {
	type found struct {
		pos  int
		spec string
	}
	var all []found
	for _, re := range []*regexp.Regexp{importFromRegex, sideEffectRegex, requireRegex, dynamicRegex} {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			all = append(all, found{pos: m[2], spec: content[m[2]:m[3]]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	var refs []ImportRef
	seen := make(map[string]bool)
	for _, f := range all {
		if seen[f.spec] {
			continue
		}
		seen[f.spec] = true
		refs = append(refs, ImportRef{Specifier: f.spec, Local: isLocalSpecifier(f.spec)})
	}
	return refs
}

func isLocalSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") || spec == "." || spec == ".."
}

// workspaceHints walks from the file's directory up to the root
func (b *ContextBuilder) workspaceHints(filePath string) []WorkspaceHint {
	root, err := filepath.Abs(b.Root)
	if err != nil {
		return nil
	}
	dir := filePath
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Dir(dir)

	if rel, err := filepath.Rel(root, dir); err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}

	var hints []WorkspaceHint
	for {
		hints = append(hints, markersIn(root, dir)...)
		if dir == root {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return hints
}

func markersIn(root, dir string) []WorkspaceHint {
	var hints []WorkspaceHint
	rel := func(name string) string {
		r, err := filepath.Rel(root, filepath.Join(dir, name))
		if err != nil {
			return name
		}
		return filepath.ToSlash(r)
	}

	if data, err := os.ReadFile(filepath.Join(dir, "pnpm-workspace.yaml")); err == nil {
		var ws struct {
			Packages []string `yaml:"packages"`
		}
		_ = yaml.Unmarshal(data, &ws)
		hints = append(hints, WorkspaceHint{Kind: "pnpm", Path: rel("pnpm-workspace.yaml"), Packages: ws.Packages})
	}

	if data, err := os.ReadFile(filepath.Join(dir, "lerna.json")); err == nil {
		var lerna struct {
			Packages []string `json:"packages"`
		}
		_ = decodeJSONC(data, &lerna)
		hints = append(hints, WorkspaceHint{Kind: "lerna", Path: rel("lerna.json"), Packages: lerna.Packages})
	}

	for _, marker := range []struct{ file, kind string }{{"nx.json", "nx"}, {"turbo.json", "turbo"}} {
		if _, err := os.Stat(filepath.Join(dir, marker.file)); err == nil {
			hints = append(hints, WorkspaceHint{Kind: marker.kind, Path: rel(marker.file)})
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		if pkgs := packageWorkspaces(data); len(pkgs) > 0 {
			hints = append(hints, WorkspaceHint{Kind: "npm-workspaces", Path: rel("package.json"), Packages: pkgs})
		}
	}
	return hints
}

// packageWorkspaces reads "workspaces" in either its array or its
// {"packages": [...]} form
func packageWorkspaces(data []byte) []string {
	var pkg struct {
		Workspaces json.RawMessage `json:"workspaces"`
	}
	if err := decodeJSONC(data, &pkg); err != nil || len(pkg.Workspaces) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(pkg.Workspaces, &list); err == nil {
		return list
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(pkg.Workspaces, &obj); err == nil {
		return obj.Packages
	}
	return nil
}

func decodeJSONC(data []byte, v any) error {
	std, err := hujson.Standardize(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(std, v)
}
