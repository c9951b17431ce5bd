package bus

import "github.com/basket/searchd/internal/searchcache"

// CacheObserver republishes cache lifecycle events on the bus so gateway
// subscribers can watch cache behavior live. It implements
// searchcache.Observer and is safe to share across caches.
type CacheObserver struct {
	bus *Bus
}

// NewCacheObserver creates an observer publishing to b.
func NewCacheObserver(b *Bus) *CacheObserver {
	return &CacheObserver{bus: b}
}

func (o *CacheObserver) On(data searchcache.EventData) {
	if o == nil || o.bus == nil {
		return
	}
	o.bus.Publish("cache."+data.Event.String(), CacheEvent{
		Cache: data.Cache,
		Key:   data.Key,
	})
}
