// Package resolver maps source files to the project configuration that
// governs them in a multi-project workspace. The mapping is cached and
// validated on every lookup against content checksums of the candidate
// configuration files; any change forces a full rebuild.
package resolver

import (
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar"
	"golang.org/x/sync/singleflight"
)

// DefaultCandidates lists well-known configuration files, most specific first
var DefaultCandidates = []string{
	"tsconfig.webview.json",
	"tsconfig.test.json",
	"tsconfig.node.json",
	"tsconfig.json",
}

// DefaultConfigName is returned when nothing else matches
const DefaultConfigName = "tsconfig.json"

// Options configures a Resolver
type Options struct {
	// Root is the project root; candidate paths and globs are relative to it
	Root string

	// Candidates are config file paths relative to Root, highest priority first.
	// Default: DefaultCandidates
	Candidates []string

	// DefaultConfig is the fallback config path relative to Root.
	// Default: tsconfig.json
	DefaultConfig string

	// CachePath is where the cache is persisted between processes.
	// Empty disables persistence. A loaded cache is always re-validated.
	CachePath string

	// Logger receives debug output; defaults to slog.Default()
	Logger *slog.Logger

	// OnRebuild is called after every rebuild (used by tests and metrics)
	OnRebuild func()
}

// Stats reports resolver activity counters
type Stats struct {
	Rebuilds  int64 `json:"rebuilds"`
	Hits      int64 `json:"hits"`      // lookups answered by a pattern mapping
	Fallbacks int64 `json:"fallbacks"` // lookups answered by heuristics or the default
	Entries   int   `json:"entries"`   // configs registered in the current cache
}

// Resolver maps files to project configs. It is safe for concurrent use:
// lookups share a read lock and concurrent rebuilds are coalesced.
type Resolver struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	cache  *cacheState
	flight singleflight.Group

	rebuilds  atomic.Int64
	hits      atomic.Int64
	fallbacks atomic.Int64
}

// New creates a resolver. It never fails: an unreadable persisted cache is ignored.
func New(opts Options) *Resolver {
	if len(opts.Candidates) == 0 {
		opts.Candidates = DefaultCandidates
	}
	if opts.DefaultConfig == "" {
		opts.DefaultConfig = DefaultConfigName
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{opts: opts, logger: logger}
	if opts.CachePath != "" {
		if st, err := loadCache(opts.CachePath); err == nil {
			r.cache = st
		} else {
			logger.Debug("config cache not loaded", "path", opts.CachePath, "error", err)
		}
	}
	return r
}

// Root returns the absolute project root
func (r *Resolver) Root() string {
	return r.opts.Root
}

// DefaultPath returns the absolute path of the fallback configuration
func (r *Resolver) DefaultPath() string {
	return filepath.Join(r.opts.Root, filepath.FromSlash(r.opts.DefaultConfig))
}

// Resolve returns the absolute path of the configuration governing filePath.
// It never fails; on any internal problem it returns DefaultPath().
func (r *Resolver) Resolve(filePath string) (resolved string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("config resolution failed, using default", "file", filePath, "panic", rec)
			resolved = r.DefaultPath()
		}
	}()

	st := r.current()

	rel, ok := r.relative(filePath)
	if !ok {
		r.fallbacks.Add(1)
		return r.DefaultPath()
	}

	for _, m := range st.Mappings {
		if !globMatch(m.Pattern, rel) || excluded(m.Excludes, rel) {
			continue
		}
		r.hits.Add(1)
		return r.abs(m.ConfigPath)
	}

	r.fallbacks.Add(1)
	if hinted := hintFor(rel, st); hinted != "" {
		return r.abs(hinted)
	}
	return r.DefaultPath()
}

// Entries returns the configurations registered by the last rebuild
func (r *Resolver) Entries() []ProjectConfigEntry {
	st := r.current()
	out := make([]ProjectConfigEntry, 0, len(st.Entries))
	for _, e := range st.Entries {
		out = append(out, *e)
	}
	return out
}

// Invalidate drops the in-memory cache so the next lookup rebuilds
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

// Stats returns a snapshot of the activity counters
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	entries := 0
	if r.cache != nil {
		entries = len(r.cache.Entries)
	}
	r.mu.RUnlock()

	return Stats{
		Rebuilds:  r.rebuilds.Load(),
		Hits:      r.hits.Load(),
		Fallbacks: r.fallbacks.Load(),
		Entries:   entries,
	}
}

// current returns a cache state that matches the files on disk, rebuilding if needed
func (r *Resolver) current() *cacheState {
	fp := r.fingerprint()

	r.mu.RLock()
	st := r.cache
	r.mu.RUnlock()
	if st != nil && st.matches(fp) {
		return st
	}

	v, _, _ := r.flight.Do("rebuild", func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		// Another caller may have finished a rebuild while we waited
		fresh := r.fingerprint()
		if r.cache != nil && r.cache.matches(fresh) {
			return r.cache, nil
		}

		built := r.rebuild()
		r.cache = built
		r.rebuilds.Add(1)
		if r.opts.CachePath != "" {
			if err := saveCache(r.opts.CachePath, built); err != nil {
				r.logger.Debug("failed to persist config cache", "path", r.opts.CachePath, "error", err)
			}
		}
		if r.opts.OnRebuild != nil {
			r.opts.OnRebuild()
		}
		return built, nil
	})
	return v.(*cacheState)
}

// relative converts filePath to a slash-separated path relative to the root.
// Files outside the root report false.
func (r *Resolver) relative(filePath string) (string, bool) {
	if filePath == "" {
		return "", false
	}
	p := filePath
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.opts.Root, p)
	}
	rel, err := filepath.Rel(r.opts.Root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (r *Resolver) abs(configPath string) string {
	return filepath.Join(r.opts.Root, filepath.FromSlash(configPath))
}

func globMatch(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

func excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if globMatch(p, rel) {
			return true
		}
	}
	return false
}

// hintFor guesses a config from path segments when no glob matched. A hint
// is only used if the hinted config was actually discovered.
func hintFor(rel string, st *cacheState) string {
	segments := strings.Split(rel, "/")
	base := path.Base(rel)

	has := func(names ...string) bool {
		for _, s := range segments[:len(segments)-1] {
			for _, n := range names {
				if s == n {
					return true
				}
			}
		}
		return false
	}

	var hints []string
	switch {
	case has("webview", "webviews"):
		hints = append(hints, "webview")
	case has("test", "tests", "__tests__") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec."):
		hints = append(hints, "test")
	case has("scripts", "build") || strings.Contains(base, ".config."):
		hints = append(hints, "node")
	}

	for _, hint := range hints {
		for _, e := range st.Entries {
			if strings.Contains(path.Base(e.ConfigPath), "."+hint+".") {
				return e.ConfigPath
			}
		}
	}
	return ""
}
