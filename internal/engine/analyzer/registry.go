package analyzer

import (
	"context"
	"crypto/sha256"
	"path/filepath"
	"slices"
	"strings"

	"zira/internal/core/ports"
	"zira/internal/shared/observability"
)

// DefaultCacheSize bounds the analysis cache when no size is configured.
const DefaultCacheSize = 256

var aliases = map[string]string{
	"js":         "javascript",
	"jsx":        "javascript",
	"ts":         "typescript",
	"golang":     "go",
	"py":         "python",
	"rs":         "rust",
	"mixed":      "php",
	"phtml":      "php",
	"htm":        "html",
	"stylesheet": "css",
}

// Registry maps languages and file extensions to analyzers. Every analyzer
// it hands out shares one content-addressed result cache.
type Registry struct {
	byLang map[string]ports.LanguageAnalyzer
	byExt  map[string]string
	cache  *lruCache[cacheKey, ports.Analysis]
}

var _ ports.AnalyzerRegistry = (*Registry)(nil)

// NewRegistry builds every built-in analyzer. cacheSize <= 0 selects
// DefaultCacheSize.
func NewRegistry(cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	r := &Registry{
		byLang: make(map[string]ports.LanguageAnalyzer),
		byExt:  make(map[string]string),
		cache:  newLRUCache[cacheKey, ports.Analysis](cacheSize),
	}

	for _, p := range builtinProfiles() {
		r.register(newTreeSitterAnalyzer(p), p.extensions...)
	}

	// Markup with embedded code replaces the plain html grammar.
	for _, spec := range []struct {
		lang string
		exts []string
	}{
		{lang: "php", exts: []string{".php", ".phtml", ".inc"}},
		{lang: "html", exts: []string{".html", ".htm"}},
	} {
		m, err := NewMixedAnalyzer(spec.lang)
		if err != nil {
			return nil, err
		}
		r.register(m, spec.exts...)
	}
	return r, nil
}

func (r *Registry) register(a ports.LanguageAnalyzer, exts ...string) {
	r.byLang[a.Language()] = &cachedAnalyzer{inner: a, cache: r.cache}
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = a.Language()
	}
}

func (r *Registry) ForLanguage(lang string) (ports.LanguageAnalyzer, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if alias, ok := aliases[lang]; ok {
		lang = alias
	}
	a, ok := r.byLang[lang]
	return a, ok
}

func (r *Registry) ForPath(path string) (ports.LanguageAnalyzer, bool) {
	lang, ok := r.LanguageForPath(path)
	if !ok {
		return nil, false
	}
	return r.ForLanguage(lang)
}

// LanguageForPath returns the language id registered for path's extension.
func (r *Registry) LanguageForPath(path string) (string, bool) {
	lang, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Reset drops every cached analysis.
func (r *Registry) Reset() {
	r.cache.clear()
}

// CachedEntries returns the number of cached analyses.
func (r *Registry) CachedEntries() int {
	return r.cache.len()
}

type cacheKey struct {
	lang string
	sum  [sha256.Size]byte
}

type cachedAnalyzer struct {
	inner ports.LanguageAnalyzer
	cache *lruCache[cacheKey, ports.Analysis]
}

func (c *cachedAnalyzer) Language() string { return c.inner.Language() }

func (c *cachedAnalyzer) Analyze(ctx context.Context, text []byte) (ports.Analysis, error) {
	key := cacheKey{lang: c.inner.Language(), sum: sha256.Sum256(text)}
	if hit, ok := c.cache.get(key); ok {
		observability.AnalyzerCacheHitsTotal.Inc()
		return cloneAnalysis(hit), nil
	}
	res, err := c.inner.Analyze(ctx, text)
	if err != nil {
		return ports.Analysis{}, err
	}
	c.cache.put(key, cloneAnalysis(res))
	return res, nil
}

// cloneAnalysis copies the slices so callers may mutate what they receive.
func cloneAnalysis(a ports.Analysis) ports.Analysis {
	return ports.Analysis{
		Language:     a.Language,
		Declarations: slices.Clone(a.Declarations),
		Errors:       slices.Clone(a.Errors),
	}
}
