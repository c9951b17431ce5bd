package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakePolicy struct {
	allowCaps map[string]bool
}

func (f fakePolicy) AllowHTTPURL(string) bool { return true }
func (f fakePolicy) AllowCapability(c string) bool {
	return f.allowCaps[c]
}
func (f fakePolicy) PolicyVersion() string { return "test" }

func allowAll() fakePolicy {
	return fakePolicy{allowCaps: map[string]bool{
		"tools.web_search":         true,
		"tools.web_search_summary": true,
	}}
}

// fakeClient counts upstream calls and can be told to fail.
type fakeClient struct {
	searchCalls  atomic.Int32
	summaryCalls atomic.Int32
	searchErr    error
	summaryErr   error
}

func (f *fakeClient) Search(_ context.Context, query string) (string, error) {
	f.searchCalls.Add(1)
	if f.searchErr != nil {
		return "", f.searchErr
	}
	return "results for " + query, nil
}

func (f *fakeClient) Summary(_ context.Context, query string) (string, error) {
	f.summaryCalls.Add(1)
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "summary of " + query, nil
}

func (f *fakeClient) Available() bool { return true }

func TestWebSearchNormalizesAndCaches(t *testing.T) {
	client := &fakeClient{}
	reg := NewRegistry(allowAll(), client)

	v1, err := reg.WebSearch(context.Background(), "  Foo Bar  ")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := reg.WebSearch(context.Background(), "foo bar")
	if err != nil {
		t.Fatal(err)
	}
	if v1 != "results for foo bar" || v1 != v2 {
		t.Fatalf("got %q / %q", v1, v2)
	}
	if n := client.searchCalls.Load(); n != 1 {
		t.Fatalf("upstream called %d times, want 1", n)
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	reg := NewRegistry(allowAll(), &fakeClient{})
	if _, err := reg.WebSearch(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestWebSearchCapabilityDenied(t *testing.T) {
	client := &fakeClient{}
	reg := NewRegistry(fakePolicy{allowCaps: map[string]bool{}}, client)
	if _, err := reg.WebSearch(context.Background(), "q"); err == nil {
		t.Fatal("expected policy denial")
	}
	if n := client.searchCalls.Load(); n != 0 {
		t.Fatalf("upstream reached despite denial (%d calls)", n)
	}
}

func TestWebSearchEvictsFailures(t *testing.T) {
	client := &fakeClient{searchErr: errors.New("upstream down")}
	reg := NewRegistry(allowAll(), client)

	if _, err := reg.WebSearch(context.Background(), "q"); err == nil {
		t.Fatal("expected upstream error")
	}

	client.searchErr = nil
	out, err := reg.WebSearch(context.Background(), "q")
	if err != nil {
		t.Fatalf("retry after eviction: %v", err)
	}
	if out != "results for q" {
		t.Fatalf("got %q", out)
	}
	if n := client.searchCalls.Load(); n != 2 {
		t.Fatalf("upstream called %d times, want 2 (failure evicted, retry recomputed)", n)
	}
}

func TestSummaryFailureEvicts(t *testing.T) {
	client := &fakeClient{summaryErr: errors.New("summarizer stage failed")}
	reg := NewRegistry(allowAll(), client)

	if _, err := reg.WebSearchSummary(context.Background(), "q"); err == nil {
		t.Fatal("expected summary failure")
	}

	client.summaryErr = nil
	out, err := reg.WebSearchSummary(context.Background(), "q")
	if err != nil {
		t.Fatalf("retry after eviction: %v", err)
	}
	if out != "summary of q" {
		t.Fatalf("got %q", out)
	}
	if n := client.summaryCalls.Load(); n != 2 {
		t.Fatalf("upstream called %d times, want 2", n)
	}
}

func TestVariantsUseSeparateCaches(t *testing.T) {
	client := &fakeClient{}
	reg := NewRegistry(allowAll(), client)

	if _, err := reg.WebSearch(context.Background(), "same query"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.WebSearchSummary(context.Background(), "same query"); err != nil {
		t.Fatal(err)
	}
	if n := client.searchCalls.Load(); n != 1 {
		t.Fatalf("search calls = %d, want 1", n)
	}
	if n := client.summaryCalls.Load(); n != 1 {
		t.Fatalf("summary calls = %d, want 1", n)
	}

	sizes := reg.CacheSizes()
	if sizes[WebSearchName] != 1 || sizes[WebSearchSummaryName] != 1 {
		t.Fatalf("cache sizes = %v", sizes)
	}
}

func TestInvokeByName(t *testing.T) {
	client := &fakeClient{}
	reg := NewRegistry(allowAll(), client)

	out, err := reg.Invoke(context.Background(), WebSearchSummaryName, "q")
	if err != nil {
		t.Fatal(err)
	}
	if out != "summary of q" {
		t.Fatalf("got %q", out)
	}

	if _, err := reg.Invoke(context.Background(), "no_such_tool", "q"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if reg.Has("no_such_tool") {
		t.Fatal("Has() true for unknown tool")
	}
	if !reg.Has(WebSearchName) {
		t.Fatal("Has() false for registered tool")
	}
}

func TestList(t *testing.T) {
	reg := NewRegistry(allowAll(), &fakeClient{})
	infos := reg.List()
	if len(infos) != 2 {
		t.Fatalf("got %d tools, want 2", len(infos))
	}
	// Sorted by name: brave_web_search before brave_web_search_summary.
	if infos[0].Name != WebSearchName || infos[1].Name != WebSearchSummaryName {
		t.Fatalf("unexpected order: %s, %s", infos[0].Name, infos[1].Name)
	}
	for _, info := range infos {
		if info.Description == "" || len(info.InputSchema) == 0 {
			t.Fatalf("tool %s missing description or schema", info.Name)
		}
	}

	if _, ok := reg.Info(WebSearchName); !ok {
		t.Fatal("Info() missing registered tool")
	}
	if _, ok := reg.Info("nope"); ok {
		t.Fatal("Info() returned unknown tool")
	}
}
