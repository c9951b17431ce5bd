package bus

// Cache event topics. The suffix matches searchcache.Event.String(), so a
// subscription on the "cache." prefix sees every cache event.
const (
	TopicCacheHit       = "cache.hit"
	TopicCacheMiss      = "cache.miss"
	TopicCacheCoalesced = "cache.coalesced"
	TopicCacheEvicted   = "cache.evicted"
)

// Tool invocation topics, published by the gateway.
const (
	TopicToolInvoked = "tool.invoked"
	TopicToolFailed  = "tool.failed"
)

// Hot-reload topics, published by the config watcher loop.
const (
	TopicConfigReloaded = "config.reloaded"
	TopicPolicyReloaded = "policy.reloaded"
)

// CacheEvent is the payload on cache.* topics.
type CacheEvent struct {
	Cache string `json:"cache"` // Cache name (tool that owns it)
	Key   string `json:"key"`   // Normalized query key
}

// ToolEvent is the payload on tool.* topics.
type ToolEvent struct {
	Tool    string `json:"tool"`            // Tool name
	TraceID string `json:"trace_id"`        // Trace ID of the invocation
	TookMS  int64  `json:"took_ms"`         // Wall time (invoked only)
	Error   string `json:"error,omitempty"` // Error text (failed only)
}

// ReloadEvent is the payload on config.reloaded and policy.reloaded.
type ReloadEvent struct {
	Path    string `json:"path"`    // File that changed
	Version string `json:"version"` // Policy version or config fingerprint now active
}
