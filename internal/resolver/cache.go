package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tailscale/hujson"
)

// ProjectConfigEntry is one discovered configuration file
type ProjectConfigEntry struct {
	ConfigPath      string   `json:"config_path"` // slash-separated, relative to the root
	ContentHash     string   `json:"content_hash"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
}

// mapping binds one include pattern to the config that claimed it
type mapping struct {
	Pattern    string   `json:"pattern"`
	ConfigPath string   `json:"config_path"`
	Excludes   []string `json:"excludes,omitempty"`
	Order      int      `json:"order"` // registration order, lower is higher priority
	Score      int      `json:"score"` // specificity
}

// cacheState is the complete cache: mappings sorted by specificity plus the
// hash table the cache was built from
type cacheState struct {
	Hashes   map[string]string     `json:"hashes"` // config path -> sha256
	Entries  []*ProjectConfigEntry `json:"entries"`
	Mappings []mapping             `json:"mappings"`
}

// matches reports whether the cache was built from exactly the given files
func (c *cacheState) matches(fp map[string]string) bool {
	if len(c.Hashes) != len(fp) {
		return false
	}
	for p, h := range fp {
		if c.Hashes[p] != h {
			return false
		}
	}
	return true
}

// fingerprint hashes every candidate that currently exists
func (r *Resolver) fingerprint() map[string]string {
	fp := make(map[string]string, len(r.opts.Candidates))
	for _, name := range r.opts.Candidates {
		data, err := os.ReadFile(filepath.Join(r.opts.Root, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		fp[name] = hashContent(data)
	}
	return fp
}

// rebuild scans candidates in priority order. Must be called with r.mu held.
// A malformed file is skipped; it never aborts the rebuild.
func (r *Resolver) rebuild() *cacheState {
	st := &cacheState{Hashes: make(map[string]string)}
	claimed := make(map[string]bool)
	order := 0

	for _, name := range r.opts.Candidates {
		data, err := os.ReadFile(filepath.Join(r.opts.Root, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		// Hash is tracked even for unparseable files so fixing them invalidates the cache
		st.Hashes[name] = hashContent(data)

		entry, err := parseConfig(name, data)
		if err != nil {
			r.logger.Debug("skipping malformed project config", "config", name, "error", err)
			continue
		}
		entry.ContentHash = st.Hashes[name]
		st.Entries = append(st.Entries, entry)

		for _, p := range entry.IncludePatterns {
			if claimed[p] {
				continue
			}
			claimed[p] = true
			st.Mappings = append(st.Mappings, mapping{
				Pattern:    p,
				ConfigPath: name,
				Excludes:   entry.ExcludePatterns,
				Order:      order,
				Score:      specificity(p),
			})
			order++
		}
	}

	sort.SliceStable(st.Mappings, func(i, j int) bool {
		if st.Mappings[i].Score != st.Mappings[j].Score {
			return st.Mappings[i].Score > st.Mappings[j].Score
		}
		return st.Mappings[i].Order < st.Mappings[j].Order
	})

	r.logger.Debug("rebuilt project config cache",
		"configs", len(st.Entries), "mappings", len(st.Mappings))
	return st
}

// rawConfig is the subset of a tsconfig-style file the resolver reads
type rawConfig struct {
	Files   []string `json:"files"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// parseConfig reads a JSON-with-comments config and normalizes its globs
// to root-relative patterns
func parseConfig(name string, data []byte) (*ProjectConfigEntry, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC in %s: %w", name, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(std, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	dir := path.Dir(name)
	entry := &ProjectConfigEntry{ConfigPath: name}

	for _, f := range raw.Files {
		entry.IncludePatterns = append(entry.IncludePatterns, normalizePattern(dir, f, false))
	}
	for _, p := range raw.Include {
		entry.IncludePatterns = append(entry.IncludePatterns, normalizePattern(dir, p, true))
	}
	if len(raw.Files) == 0 && len(raw.Include) == 0 {
		entry.IncludePatterns = []string{normalizePattern(dir, "**/*", true)}
	}

	exclude := raw.Exclude
	if exclude == nil {
		exclude = []string{"node_modules"}
	}
	for _, p := range exclude {
		entry.ExcludePatterns = append(entry.ExcludePatterns, normalizePattern(dir, p, true))
	}

	return entry, nil
}

// normalizePattern makes p relative to the root. Bare directory names
// (no glob characters, no extension) expand to everything beneath them.
func normalizePattern(dir, p string, expandDirs bool) string {
	p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
	p = strings.TrimSuffix(p, "/")
	if expandDirs && !hasGlob(p) && path.Ext(p) == "" {
		p += "/**/*"
	}
	if dir != "." && dir != "" {
		p = path.Join(dir, p)
	}
	return p
}

// specificity scores a pattern by its literal path segments. Patterns
// without ** rank above recursive ones of the same depth.
func specificity(p string) int {
	score := 0
	for _, seg := range strings.Split(p, "/") {
		if !hasGlob(seg) {
			score += 10
		}
	}
	if !strings.Contains(p, "**") {
		score += 5
	}
	return score
}

func hasGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func loadCache(p string) (*cacheState, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var st cacheState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse config cache: %w", err)
	}
	if st.Hashes == nil {
		return nil, fmt.Errorf("config cache has no hash table")
	}
	return &st, nil
}

// saveCache writes through a temp file so readers never see a partial cache
func saveCache(p string, st *cacheState) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config cache: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config cache: %w", err)
	}
	return os.Rename(tmp, p)
}
