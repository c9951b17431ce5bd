package searchcache

// Observer receives cache lifecycle events. Implementations must be safe
// for concurrent use; the cache may emit from any goroutine.
type Observer interface {
	On(eventData EventData)
}

// Event represents a cache event type.
type Event int

const (
	// EventHit is emitted when GetOrCompute finds a completed entry.
	EventHit Event = iota
	// EventMiss is emitted when GetOrCompute installs a new entry and
	// starts the computation.
	EventMiss
	// EventCoalesced is emitted when a caller attaches to an entry that is
	// still in flight instead of triggering a new computation.
	EventCoalesced
	// EventEvicted is emitted when a failed entry is removed so the next
	// caller can retry.
	EventEvicted
)

func (e Event) String() string {
	switch e {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventCoalesced:
		return "coalesced"
	case EventEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// EventData carries the details of a cache event. Cache is the name the
// owning cache was created with, so one observer can serve several caches.
type EventData struct {
	Event Event
	Cache string
	Key   string
}

// Multi returns an Observer that forwards each event to every given observer.
// Nil entries are skipped.
func Multi(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) On(eventData EventData) {
	for _, o := range m {
		if o != nil {
			o.On(eventData)
		}
	}
}
