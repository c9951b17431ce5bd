// Package searchcache provides the request-coalescing result cache behind the
// web search tools. For any normalized query key at most one upstream call
// sequence is in flight at a time: concurrent callers for the same key share a
// single memoized computation. Successful results are cached for the process
// lifetime; failures are evicted so the next caller retries from scratch.
package searchcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// entry is a single-assignment future. The goroutine that created it writes
// text/err exactly once and then closes done; everyone else only reads after
// done is closed.
type entry struct {
	done chan struct{}
	text string
	err  error
}

// Cache is a concurrent map from normalized query key to a shared in-flight or
// completed result. The zero value is not usable; construct with New.
type Cache struct {
	name     string
	logger   *slog.Logger
	observer Observer

	entries sync.Map // key → *entry
	size    atomic.Int64
}

// Option configures a Cache created by New.
type Option func(*Cache)

// WithObserver attaches an Observer that receives hit, miss, coalesced and
// evicted events for the lifetime of the cache.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache. The name appears in log lines and events so multiple
// caches (one per tool variant) can be told apart.
func New(name string, opts ...Option) *Cache {
	c := &Cache{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cache's configured name.
func (c *Cache) Name() string { return c.name }

// Len returns the number of entries currently in the cache, counting both
// in-flight and completed ones.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// GetOrCompute returns the cached result for key, computing it if absent.
//
// The insert is a single LoadOrStore, so exactly one caller per key installs
// the pending entry and runs compute; every other concurrent caller attaches
// to the same entry and observes the same terminal outcome. compute runs on
// its own goroutine with cancellation detached from the installing caller's
// context: a waiter that gives up (ctx done) returns early, but the shared
// flight keeps going for everyone else.
//
// On failure the key is deleted before the entry resolves. Callers already
// waiting on the failed flight get the error; the next GetOrCompute for the
// key starts a fresh computation. Successful entries are never removed.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (string, error)) (string, error) {
	fresh := &entry{done: make(chan struct{})}
	actual, loaded := c.entries.LoadOrStore(key, fresh)
	ent := actual.(*entry)

	if !loaded {
		c.size.Add(1)
		c.emit(EventMiss, key)
		go c.run(context.WithoutCancel(ctx), key, ent, compute)
	} else {
		select {
		case <-ent.done:
			c.emit(EventHit, key)
		default:
			c.emit(EventCoalesced, key)
		}
	}

	select {
	case <-ent.done:
		return ent.text, ent.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run executes the computation for a freshly installed entry. The eviction
// must happen before done is closed: once waiters (or anyone who loaded the
// failed entry) can observe the error, the key has to be absent already, so a
// subsequent call never replays the failure.
func (c *Cache) run(ctx context.Context, key string, ent *entry, compute func(context.Context) (string, error)) {
	ent.text, ent.err = compute(ctx)
	if ent.err != nil {
		c.entries.Delete(key)
		c.size.Add(-1)
		c.logger.Error("search computation failed, evicting key",
			"cache", c.name, "query", key, "error", ent.err)
		c.emit(EventEvicted, key)
	}
	close(ent.done)
}

func (c *Cache) emit(event Event, key string) {
	if c.observer == nil {
		return
	}
	c.observer.On(EventData{Event: event, Cache: c.name, Key: key})
}
