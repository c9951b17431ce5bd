// Package tools registers the Brave search tools with genkit and routes
// invocations through the coalescing result cache. Each tool variant owns its
// own cache instance so the direct-results and summary flows never collide.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/basket/searchd/internal/audit"
	"github.com/basket/searchd/internal/policy"
	"github.com/basket/searchd/internal/searchcache"
)

const (
	// WebSearchName is the direct-results search tool.
	WebSearchName = "brave_web_search"
	// WebSearchSummaryName is the chained search → summarizer tool.
	WebSearchSummaryName = "brave_web_search_summary"
)

// SearchClient is the upstream surface the registry needs; satisfied by
// *brave.Client and by fakes in tests.
type SearchClient interface {
	Search(ctx context.Context, query string) (string, error)
	Summary(ctx context.Context, query string) (string, error)
	Available() bool
}

// InvokeFunc runs one tool against a raw query string.
type InvokeFunc func(ctx context.Context, query string) (string, error)

// ToolInfo describes a registered tool for listing and schema validation.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema []byte `json:"-"`
}

// Registry holds the tool definitions, their caches, and the policy engine
// used to gate upstream calls.
type Registry struct {
	Policy policy.Checker
	Client SearchClient
	Tools  []ai.ToolRef

	logger   *slog.Logger
	observer searchcache.Observer
	caches   map[string]*searchcache.Cache
	invoke   map[string]InvokeFunc
	infos    map[string]ToolInfo
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithCacheObserver attaches an observer to every tool cache (used to feed
// the OTel counters).
func WithCacheObserver(o searchcache.Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry builds a Registry around the given policy and upstream client.
func NewRegistry(pol policy.Checker, client SearchClient, opts ...RegistryOption) *Registry {
	r := &Registry{
		Policy: pol,
		Client: client,
		logger: slog.Default(),
		invoke: make(map[string]InvokeFunc),
		infos:  make(map[string]ToolInfo),
		caches: make(map[string]*searchcache.Cache),
	}
	for _, opt := range opts {
		opt(r)
	}

	cacheOpts := []searchcache.Option{searchcache.WithLogger(r.logger)}
	if r.observer != nil {
		cacheOpts = append(cacheOpts, searchcache.WithObserver(r.observer))
	}
	r.caches[WebSearchName] = searchcache.New(WebSearchName, cacheOpts...)
	r.caches[WebSearchSummaryName] = searchcache.New(WebSearchSummaryName, cacheOpts...)

	r.invoke[WebSearchName] = r.WebSearch
	r.invoke[WebSearchSummaryName] = r.WebSearchSummary
	r.infos[WebSearchName] = ToolInfo{
		Name:        WebSearchName,
		Description: webSearchDescription,
		InputSchema: []byte(searchInputSchema),
	}
	r.infos[WebSearchSummaryName] = ToolInfo{
		Name:        WebSearchSummaryName,
		Description: webSearchSummaryDescription,
		InputSchema: []byte(searchInputSchema),
	}
	return r
}

// RegisterAll creates and registers the search tools with the Genkit instance.
func (r *Registry) RegisterAll(g *genkit.Genkit) {
	searchTool := registerWebSearch(g, r)
	summaryTool := registerWebSearchSummary(g, r)
	r.Tools = []ai.ToolRef{searchTool, summaryTool}
}

// Invoke runs a tool by name. Used by the gateway.
func (r *Registry) Invoke(ctx context.Context, name, query string) (string, error) {
	fn, ok := r.invoke[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return fn(ctx, query)
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.invoke[name]
	return ok
}

// List returns tool descriptions sorted by name.
func (r *Registry) List() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Info returns the description of one tool.
func (r *Registry) Info(name string) (ToolInfo, bool) {
	info, ok := r.infos[name]
	return info, ok
}

// CacheSizes reports the entry count per tool cache, exposed in healthz.
func (r *Registry) CacheSizes() map[string]int {
	sizes := make(map[string]int, len(r.caches))
	for name, c := range r.caches {
		sizes[name] = c.Len()
	}
	return sizes
}

// checkCapability enforces the policy gate shared by both tools.
func (r *Registry) checkCapability(capability, query string) error {
	pol := r.Policy
	if pol == nil || !pol.AllowCapability(capability) {
		pv := ""
		if pol != nil {
			pv = pol.PolicyVersion()
		}
		audit.Record("deny", capability, "missing_capability", pv, query)
		return fmt.Errorf("policy denied capability %q", capability)
	}
	audit.Record("allow", capability, "capability_granted", pol.PolicyVersion(), query)
	return nil
}
