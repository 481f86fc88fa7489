package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := New()

	if _, ok := c.Get("s1", "frame"); ok {
		t.Errorf("Expected miss on empty cache")
	}

	c.Put("s1", "frame", 42)
	v, ok := c.Get("s1", "frame")
	if !ok || v.(int) != 42 {
		t.Errorf("Expected 42, got %v ok=%v", v, ok)
	}

	// Keys are scoped per session.
	if _, ok := c.Get("s2", "frame"); ok {
		t.Errorf("Artifact leaked across sessions")
	}
}

func TestGetOrPopulateSingleFlight(t *testing.T) {
	c := New()
	var populated int32

	const n = 8
	results := make([]interface{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrPopulate("s1", "frame", func() (interface{}, error) {
				atomic.AddInt32(&populated, 1)
				time.Sleep(10 * time.Millisecond)
				return "artifact", nil
			})
			if err != nil {
				t.Errorf("GetOrPopulate failed: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&populated); got != 1 {
		t.Errorf("Expected 1 population under contention, got %d", got)
	}
	for i, v := range results {
		if v != "artifact" {
			t.Errorf("Caller %d got %v", i, v)
		}
	}
}

func TestFailedPopulationRetried(t *testing.T) {
	c := New()
	var calls int32

	_, err := c.GetOrPopulate("s1", "frame", func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("transient failure")
	})
	if err == nil {
		t.Fatalf("Expected population error")
	}

	v, err := c.GetOrPopulate("s1", "frame", func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("Retry failed: %v %v", v, err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 populations, got %d", calls)
	}

	// The failed attempt left nothing behind; the success is cached.
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestDiscard(t *testing.T) {
	c := New()
	c.Put("s1", "frame", 1)
	c.Put("s1", "stats", 2)

	c.Discard("s1", "frame")
	if _, ok := c.Get("s1", "frame"); ok {
		t.Errorf("Discarded artifact still present")
	}
	if _, ok := c.Get("s1", "stats"); !ok {
		t.Errorf("Unrelated artifact dropped")
	}
}

func TestPurgeSession(t *testing.T) {
	c := New()
	c.Put("s1", "frame", 1)
	c.Put("s1", "stats", 2)
	c.Put("s2", "frame", 3)

	if n := c.PurgeSession("s1"); n != 2 {
		t.Errorf("Expected 2 purged, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 surviving entry, got %d", c.Len())
	}
	if _, ok := c.Get("s2", "frame"); !ok {
		t.Errorf("Other session's artifact purged")
	}
}
