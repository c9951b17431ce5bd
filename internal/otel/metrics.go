package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/searchd/internal/searchcache"
)

// Metrics holds all searchd metrics instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	ToolCallDuration metric.Float64Histogram
	ToolCallErrors   metric.Int64Counter
	UpstreamDuration metric.Float64Histogram
	UpstreamErrors   metric.Int64Counter
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	CacheCoalesced   metric.Int64Counter
	CacheEvictions   metric.Int64Counter
	AuthRejects      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("searchd.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("searchd.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("searchd.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.UpstreamDuration, err = meter.Float64Histogram("searchd.upstream.duration",
		metric.WithDescription("Brave API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.UpstreamErrors, err = meter.Int64Counter("searchd.upstream.errors",
		metric.WithDescription("Brave API call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("searchd.cache.hits",
		metric.WithDescription("Search cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("searchd.cache.misses",
		metric.WithDescription("Search cache misses (new upstream flights)"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheCoalesced, err = meter.Int64Counter("searchd.cache.coalesced",
		metric.WithDescription("Callers attached to an in-flight computation"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter("searchd.cache.evictions",
		metric.WithDescription("Cache entries evicted after upstream failure"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthRejects, err = meter.Int64Counter("searchd.auth.rejects",
		metric.WithDescription("Gateway requests rejected by authentication"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// CacheObserver bridges cache events to the OTel counters. It satisfies
// searchcache.Observer and is attached to every tool cache by the registry.
type CacheObserver struct {
	metrics *Metrics
}

// NewCacheObserver wraps the metrics in an observer the caches can emit to.
func NewCacheObserver(m *Metrics) *CacheObserver {
	return &CacheObserver{metrics: m}
}

// On records one cache event, labeled with the owning cache's name.
func (o *CacheObserver) On(data searchcache.EventData) {
	if o == nil || o.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cache", data.Cache))
	ctx := context.Background()
	switch data.Event {
	case searchcache.EventHit:
		o.metrics.CacheHits.Add(ctx, 1, attrs)
	case searchcache.EventMiss:
		o.metrics.CacheMisses.Add(ctx, 1, attrs)
	case searchcache.EventCoalesced:
		o.metrics.CacheCoalesced.Add(ctx, 1, attrs)
	case searchcache.EventEvicted:
		o.metrics.CacheEvictions.Add(ctx, 1, attrs)
	}
}
