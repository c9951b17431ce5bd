package searchcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{" Foo Bar ", "foo bar"},
		{"foo bar", "foo bar"},
		{"\tGoLang Concurrency\n", "golang concurrency"},
		{"", ""},
		{"   ", ""},
		{"ALREADY LOWER?", "already lower?"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGetOrCompute_CachesResult(t *testing.T) {
	c := New("test")
	var calls atomic.Int32

	compute := func(context.Context) (string, error) {
		calls.Add(1)
		return "result", nil
	}

	v1, err := c.GetOrCompute(context.Background(), "k", compute)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		t.Error("compute invoked on a cache hit")
		return "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v1 != "result" || v2 != "result" {
		t.Fatalf("got %q, %q; want %q", v1, v2, "result")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute called %d times, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("cache has %d entries, want 1", c.Len())
	}
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c := New("test")
	var calls atomic.Int32
	release := make(chan struct{})

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)

	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "shared", nil
			})
		}(i)
	}

	// Give the goroutines a moment to pile onto the same entry, then let
	// the single flight finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Fatalf("caller %d: got %q, want %q", i, results[i], "shared")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("compute called %d times, want 1", got)
	}
}

func TestGetOrCompute_EvictsOnFailure(t *testing.T) {
	c := New("test")
	boom := errors.New("upstream exploded")

	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got err %v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Fatalf("failed entry still cached, Len=%d", c.Len())
	}

	var calls atomic.Int32
	v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		calls.Add(1)
		return "recovered", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != "recovered" {
		t.Fatalf("got %q, want %q", v, "recovered")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute called %d times after eviction, want 1", n)
	}
}

func TestGetOrCompute_ConcurrentWaitersShareFailure(t *testing.T) {
	c := New("test")
	boom := errors.New("boom")
	release := make(chan struct{})
	var calls atomic.Int32

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := range n {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "", boom
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range n {
		if !errors.Is(errs[i], boom) {
			t.Fatalf("waiter %d: got %v, want %v", i, errs[i], boom)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("compute called %d times, want 1", got)
	}
	if c.Len() != 0 {
		t.Fatalf("failed entry still cached, Len=%d", c.Len())
	}
}

func TestGetOrCompute_DistinctKeysIndependent(t *testing.T) {
	c := New("test")

	_, err := c.GetOrCompute(context.Background(), "a", func(context.Context) (string, error) {
		return "", errors.New("a failed")
	})
	if err == nil {
		t.Fatal("expected failure for key a")
	}

	v, err := c.GetOrCompute(context.Background(), "b", func(context.Context) (string, error) {
		return "b ok", nil
	})
	if err != nil {
		t.Fatalf("key b affected by key a failure: %v", err)
	}
	if v != "b ok" {
		t.Fatalf("got %q, want %q", v, "b ok")
	}
	if c.Len() != 1 {
		t.Fatalf("cache has %d entries, want 1 (only b)", c.Len())
	}
}

func TestGetOrCompute_WaiterCancellationDoesNotAbortFlight(t *testing.T) {
	c := New("test")
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "survived", nil
		})
	}()
	<-started

	// Second waiter joins the flight and then gives up.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
		t.Error("compute invoked while flight in progress")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter got %v, want context.Canceled", err)
	}

	close(release)

	// The shared flight must have completed successfully despite the
	// cancelled waiter, and its result must be served from cache.
	v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		t.Error("compute invoked on a cache hit")
		return "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != "survived" {
		t.Fatalf("got %q, want %q", v, "survived")
	}
}

func TestGetOrCompute_InstallerCancellationDetached(t *testing.T) {
	c := New("test")
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = c.GetOrCompute(ctx, "k", func(computeCtx context.Context) (string, error) {
			close(started)
			<-release
			// The compute context must not inherit the installer's
			// cancellation.
			if computeCtx.Err() != nil {
				return "", computeCtx.Err()
			}
			return "detached", nil
		})
	}()
	<-started
	cancel()
	close(release)

	v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "", errors.New("should be cached already")
	})
	if err != nil {
		t.Fatalf("flight aborted by installer cancellation: %v", err)
	}
	if v != "detached" {
		t.Fatalf("got %q, want %q", v, "detached")
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []EventData
}

func (r *recordingObserver) On(ev EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) count(e Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Event == e {
			n++
		}
	}
	return n
}

func TestObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	c := New("test", WithObserver(obs))

	// miss
	if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "v", nil
	}); err != nil {
		t.Fatal(err)
	}
	// hit
	if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "v", nil
	}); err != nil {
		t.Fatal(err)
	}
	// miss then evicted
	if _, err := c.GetOrCompute(context.Background(), "bad", func(context.Context) (string, error) {
		return "", errors.New("nope")
	}); err == nil {
		t.Fatal("expected error")
	}

	if got := obs.count(EventMiss); got != 2 {
		t.Errorf("miss events = %d, want 2", got)
	}
	if got := obs.count(EventHit); got != 1 {
		t.Errorf("hit events = %d, want 1", got)
	}
	if got := obs.count(EventEvicted); got != 1 {
		t.Errorf("evicted events = %d, want 1", got)
	}
}

func TestEventString(t *testing.T) {
	for ev, want := range map[Event]string{
		EventHit:       "hit",
		EventMiss:      "miss",
		EventCoalesced: "coalesced",
		EventEvicted:   "evicted",
		Event(99):      "unknown",
	} {
		if got := ev.String(); got != want {
			t.Errorf("Event(%d).String() = %q, want %q", ev, got, want)
		}
	}
}

func BenchmarkGetOrCompute_Hit(b *testing.B) {
	c := New("bench")
	if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "v", nil
	}); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
				return "v", nil
			}); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkGetOrCompute_DistinctKeys(b *testing.B) {
	c := New("bench")
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("k-%d", i%1024)
			i++
			if _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (string, error) {
				return "v", nil
			}); err != nil {
				b.Fatal(err)
			}
		}
	})
}
