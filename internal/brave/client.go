// Package brave talks to the Brave Search API. It covers the two call shapes
// used by the search tools: plain web search and the chained web-search →
// summarizer lookup. The package does no caching and no retries: a transport
// error, a non-2xx status or a missing summarizer key is surfaced to the
// caller as a plain error.
package brave

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/basket/searchd/internal/audit"
	"github.com/basket/searchd/internal/policy"
)

const (
	// DefaultSearchURL is the Brave web search endpoint.
	DefaultSearchURL = "https://api.search.brave.com/res/v1/web/search"
	// DefaultSummarizerURL is the Brave summarizer endpoint.
	DefaultSummarizerURL = "https://api.search.brave.com/res/v1/summarizer/search"

	// NoResultsText is returned when the upstream result list is empty.
	// It is a successful outcome, cached like any other result.
	NoResultsText = "No search results found for this query."

	// searchCount is the result count requested upstream; only the first
	// maxResults records make it into the rendered output.
	searchCount = 10
	maxResults  = 5

	maxBodyBytes = 1 << 20
)

// ErrNoAPIKey is returned when a request is attempted without a configured
// subscription token.
var ErrNoAPIKey = errors.New("brave: api key not configured (set brave.apikey in config.yaml or BRAVE_API_KEY)")

// Config holds client settings, populated from the brave: block of config.yaml.
type Config struct {
	APIKey        string
	SearchURL     string
	SummarizerURL string
	Timeout       time.Duration
}

// Client issues Brave API calls with the subscription token header set.
// The API key can be swapped at runtime on config hot-reload; the other
// settings are fixed at construction.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	http   *http.Client
	policy policy.Checker
}

// NewClient creates a Brave API client. Zero-value config fields fall back to
// the production endpoints and a 10s timeout.
func NewClient(cfg Config, pol policy.Checker) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.SummarizerURL == "" {
		cfg.SummarizerURL = DefaultSummarizerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: pol,
	}
}

// Available reports whether the client has credentials.
func (c *Client) Available() bool { return c.apiKey() != "" }

// SetAPIKey replaces the subscription token. Used by config hot-reload.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.cfg.APIKey = strings.TrimSpace(key)
	c.mu.Unlock()
}

func (c *Client) apiKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.APIKey
}

// Domains lists the upstream hosts the client needs in the policy allowlist.
func (c *Client) Domains() []string {
	return []string{"api.search.brave.com"}
}

// Record is one rendered search result. Fields missing upstream are rendered
// as empty strings here, at the serialization boundary, not earlier.
type Record struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// webSearchResponse matches the relevant fields of the Brave API response.
// Per-record fields are pointers so "absent" stays distinguishable from ""
// until rendering. The result list itself is not optional: if the search
// variant gets a body without web.results, that is a malformed response, not
// an empty one.
type webSearchResponse struct {
	Web *struct {
		Results *[]struct {
			Title       *string `json:"title"`
			URL         *string `json:"url"`
			Description *string `json:"description"`
		} `json:"results"`
	} `json:"web"`
	Summarizer *struct {
		Key *string `json:"key"`
	} `json:"summarizer"`
}

// Search runs the direct-results variant: one web search call, rendered as a
// JSON array of up to five {title,url,description} records, or NoResultsText
// for an empty result list.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	reqURL := c.cfg.SearchURL + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(searchCount)
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return "", err
	}

	var resp webSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse brave response: %w", err)
	}
	if resp.Web == nil || resp.Web.Results == nil {
		return "", errors.New("brave response missing web.results")
	}

	records := make([]Record, 0, maxResults)
	for _, r := range *resp.Web.Results {
		records = append(records, Record{
			Title:       deref(r.Title),
			URL:         deref(r.URL),
			Description: deref(r.Description),
		})
		if len(records) >= maxResults {
			break
		}
	}
	if len(records) == 0 {
		return NoResultsText, nil
	}

	rendered, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("render results: %w", err)
	}
	return string(rendered), nil
}

// Summary runs the chained variant: a web search call with summary=true to
// obtain a summarizer key, then a summarizer lookup whose raw body is the
// result. A failure in either stage fails the whole call.
func (c *Client) Summary(ctx context.Context, query string) (string, error) {
	reqURL := c.cfg.SearchURL + "?q=" + url.QueryEscape(query) + "&summary=true"
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return "", err
	}

	var resp webSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse brave response: %w", err)
	}
	if resp.Summarizer == nil || resp.Summarizer.Key == nil || *resp.Summarizer.Key == "" {
		return "", errors.New("brave response missing summarizer.key")
	}

	sumURL := c.cfg.SummarizerURL + "?key=" + url.QueryEscape(*resp.Summarizer.Key)
	sumBody, err := c.get(ctx, sumURL)
	if err != nil {
		return "", fmt.Errorf("summarizer lookup: %w", err)
	}
	return string(sumBody), nil
}

// get issues a policy-checked GET with the Brave headers and returns the
// decompressed body. Setting Accept-Encoding by hand disables net/http's
// transparent gzip handling, so the response is inflated here when needed.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	apiKey := c.apiKey()
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if c.policy != nil {
		if !c.policy.AllowHTTPURL(rawURL) {
			audit.Record("deny", "tools.web_search", "url_denied", c.policy.PolicyVersion(), rawURL)
			return nil, fmt.Errorf("policy denied search URL %q", rawURL)
		}
		audit.Record("allow", "tools.web_search", "url_allowed", c.policy.PolicyVersion(), rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, string(snippet))
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
