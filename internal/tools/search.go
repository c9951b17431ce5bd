package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/basket/searchd/internal/searchcache"
)

type SearchInput struct {
	Query string `json:"query"`
}

const (
	webSearchDescription = "Search the web with Brave Search. Returns a JSON array of up to " +
		"5 results with title, url, and description fields, or a notice when nothing was found. " +
		"Keep the query under 400 characters / 50 words."

	webSearchSummaryDescription = "Search the web with Brave Search and return an AI-generated " +
		"summary of the results instead of links. Keep the query under 400 characters / 50 words."
)

func registerWebSearch(g *genkit.Genkit, reg *Registry) ai.Tool {
	return genkit.DefineTool(g, WebSearchName, webSearchDescription,
		func(ctx *ai.ToolContext, input SearchInput) (string, error) {
			return reg.WebSearch(ctx, input.Query)
		},
	)
}

func registerWebSearchSummary(g *genkit.Genkit, reg *Registry) ai.Tool {
	return genkit.DefineTool(g, WebSearchSummaryName, webSearchSummaryDescription,
		func(ctx *ai.ToolContext, input SearchInput) (string, error) {
			return reg.WebSearchSummary(ctx, input.Query)
		},
	)
}

// WebSearch serves the direct-results variant through its cache.
func (r *Registry) WebSearch(ctx context.Context, query string) (string, error) {
	return r.search(ctx, WebSearchName, "tools.web_search", query, r.Client.Search)
}

// WebSearchSummary serves the chained summarizer variant through its cache.
// Both upstream stages run inside one cache entry: a failure in either stage
// evicts the whole key.
func (r *Registry) WebSearchSummary(ctx context.Context, query string) (string, error) {
	return r.search(ctx, WebSearchSummaryName, "tools.web_search_summary", query, r.Client.Summary)
}

func (r *Registry) search(ctx context.Context, tool, capability, query string, upstream func(context.Context, string) (string, error)) (string, error) {
	key := searchcache.Normalize(query)
	if key == "" {
		return "", fmt.Errorf("empty search query")
	}
	if err := r.checkCapability(capability, query); err != nil {
		return "", err
	}

	cache := r.caches[tool]
	start := time.Now()
	result, err := cache.GetOrCompute(ctx, key, func(ctx context.Context) (string, error) {
		return upstream(ctx, key)
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("search served",
		"tool", tool, "query", key, "took_ms", time.Since(start).Milliseconds(),
		"cached_entries", cache.Len())
	return result, nil
}
