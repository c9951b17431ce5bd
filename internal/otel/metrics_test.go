package otel

import (
	"context"
	"testing"

	"github.com/basket/searchd/internal/searchcache"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ToolCallDuration == nil {
		t.Error("ToolCallDuration is nil")
	}
	if m.ToolCallErrors == nil {
		t.Error("ToolCallErrors is nil")
	}
	if m.UpstreamDuration == nil {
		t.Error("UpstreamDuration is nil")
	}
	if m.UpstreamErrors == nil {
		t.Error("UpstreamErrors is nil")
	}
	if m.CacheHits == nil {
		t.Error("CacheHits is nil")
	}
	if m.CacheMisses == nil {
		t.Error("CacheMisses is nil")
	}
	if m.CacheCoalesced == nil {
		t.Error("CacheCoalesced is nil")
	}
	if m.CacheEvictions == nil {
		t.Error("CacheEvictions is nil")
	}
	if m.AuthRejects == nil {
		t.Error("AuthRejects is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns a noop meter; metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}

func TestCacheObserver(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	obs := NewCacheObserver(m)

	// All event kinds must be accepted without panicking, including through
	// a real cache emitting them.
	for _, ev := range []searchcache.Event{
		searchcache.EventHit, searchcache.EventMiss,
		searchcache.EventCoalesced, searchcache.EventEvicted,
	} {
		obs.On(searchcache.EventData{Event: ev, Cache: "test", Key: "k"})
	}

	c := searchcache.New("test", searchcache.WithObserver(obs))
	if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "v", nil
	}); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
}

func TestCacheObserver_NilSafe(t *testing.T) {
	var obs *CacheObserver
	obs.On(searchcache.EventData{Event: searchcache.EventHit})

	NewCacheObserver(nil).On(searchcache.EventData{Event: searchcache.EventMiss})
}
