package models

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

func testConfig() Config {
	return Config{
		DefaultQuota:  4,
		IdleTimeout:   10 * time.Minute,
		SweepInterval: time.Hour,
	}
}

func newRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(cfg)
	t.Cleanup(func() { r.Close() })
	return r
}

type closableModel struct {
	closed *int32
}

func (m closableModel) Close() error {
	if m.closed != nil {
		atomic.AddInt32(m.closed, 1)
	}
	return nil
}

func countingConstructor(n *int32) Constructor {
	return func(ctx context.Context, opts Options) (interface{}, error) {
		atomic.AddInt32(n, 1)
		return closableModel{}, nil
	}
}

func TestAcquireConstructsOnce(t *testing.T) {
	r := newRegistry(t, testConfig())
	var built int32

	h1, err := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	h2, err := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built))
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("Expected the same handle to be shared")
	}
	if built != 1 {
		t.Errorf("Expected 1 construction, got %d", built)
	}
	if r.Refs(h1) != 2 {
		t.Errorf("Expected refs 2, got %d", r.Refs(h1))
	}

	r.Release(h1)
	r.Release(h2)
}

func TestConcurrentAcquireSingleConstruction(t *testing.T) {
	r := newRegistry(t, testConfig())
	var built int32
	slow := func(ctx context.Context, opts Options) (interface{}, error) {
		atomic.AddInt32(&built, 1)
		time.Sleep(20 * time.Millisecond)
		return closableModel{}, nil
	}

	const n = 16
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Acquire(context.Background(), "acme", "gpt", slow)
			if err != nil {
				t.Errorf("Acquire %d failed: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&built); got != 1 {
		t.Errorf("Expected exactly 1 construction under contention, got %d", got)
	}
	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("Handle %d differs from handle 0", i)
		}
	}
	if r.Refs(handles[0]) != n {
		t.Errorf("Expected refs %d, got %d", n, r.Refs(handles[0]))
	}
	for _, h := range handles {
		r.Release(h)
	}
}

func TestQuotaExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultQuota = 2
	r := newRegistry(t, cfg)
	var built int32

	for _, kind := range []string{"a", "b"} {
		if _, err := r.Acquire(context.Background(), "acme", kind, countingConstructor(&built)); err != nil {
			t.Fatalf("Acquire %s failed: %v", kind, err)
		}
	}

	_, err := r.Acquire(context.Background(), "acme", "c", countingConstructor(&built))
	if !cferr.IsCode(err, cferr.CodeQuotaExceeded) {
		t.Fatalf("Expected QuotaExceeded, got %v", err)
	}
	// Rejection happens before the build is paid.
	if built != 2 {
		t.Errorf("Expected 2 constructions, got %d", built)
	}

	// Another tenant is unaffected.
	if _, err := r.Acquire(context.Background(), "other", "c", countingConstructor(&built)); err != nil {
		t.Errorf("Other tenant blocked by foreign quota: %v", err)
	}
}

func TestTenantQuotaOverride(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultQuota = 1
	cfg.TenantQuotas = map[string]int{"vip": 2}
	r := newRegistry(t, cfg)
	var built int32

	if _, err := r.Acquire(context.Background(), "vip", "a", countingConstructor(&built)); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := r.Acquire(context.Background(), "vip", "b", countingConstructor(&built)); err != nil {
		t.Errorf("VIP override not applied: %v", err)
	}
	if _, err := r.Acquire(context.Background(), "basic", "a", countingConstructor(&built)); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := r.Acquire(context.Background(), "basic", "b", countingConstructor(&built)); !cferr.IsCode(err, cferr.CodeQuotaExceeded) {
		t.Errorf("Expected QuotaExceeded for basic tenant, got %v", err)
	}
}

func TestUpdateQuotasAppliesImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultQuota = 1
	r := newRegistry(t, cfg)
	var built int32

	if _, err := r.Acquire(context.Background(), "acme", "a", countingConstructor(&built)); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := r.Acquire(context.Background(), "acme", "b", countingConstructor(&built)); !cferr.IsCode(err, cferr.CodeQuotaExceeded) {
		t.Fatalf("Expected QuotaExceeded, got %v", err)
	}

	r.UpdateQuotas(2, nil)
	if _, err := r.Acquire(context.Background(), "acme", "b", countingConstructor(&built)); err != nil {
		t.Errorf("Raised quota not honored: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	r := newRegistry(t, testConfig())
	var built int32

	h1, _ := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built))
	h2, _ := r.Acquire(context.Background(), "other", "gpt", countingConstructor(&built))

	if h1 == h2 {
		t.Errorf("Tenants must never share an instance")
	}
	if built != 2 {
		t.Errorf("Expected 2 constructions, got %d", built)
	}
}

func TestByokKeyPrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.SystemKeys = map[string]string{"gpt": "system-key"}
	r := newRegistry(t, cfg)

	var seenKeys []string
	ctor := func(ctx context.Context, opts Options) (interface{}, error) {
		seenKeys = append(seenKeys, opts.APIKey)
		return closableModel{}, nil
	}

	// System fallback when the tenant has no key.
	if _, err := r.Acquire(context.Background(), "acme", "gpt", ctor); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Tenant key wins for a tenant that registered one.
	r.SetTenantKey("vip", "gpt", "tenant-key")
	if _, err := r.Acquire(context.Background(), "vip", "gpt", ctor); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if len(seenKeys) != 2 || seenKeys[0] != "system-key" || seenKeys[1] != "tenant-key" {
		t.Errorf("Wrong key resolution: %v", seenKeys)
	}
}

func TestConstructionFailureNotCached(t *testing.T) {
	r := newRegistry(t, testConfig())
	var attempts int32

	failing := func(ctx context.Context, opts Options) (interface{}, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("upstream down")
	}

	_, err := r.Acquire(context.Background(), "acme", "gpt", failing)
	if !cferr.IsCode(err, cferr.CodeModelConstruct) {
		t.Fatalf("Expected ModelConstruct, got %v", err)
	}

	// A later acquire retries construction instead of caching the failure.
	var built int32
	if _, err := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built)); err != nil {
		t.Fatalf("Retry after failure did not construct: %v", err)
	}
	if attempts != 1 || built != 1 {
		t.Errorf("Unexpected attempt counts: failing=%d ok=%d", attempts, built)
	}
}

func TestReleaseBelowZero(t *testing.T) {
	r := newRegistry(t, testConfig())
	var built int32

	h, err := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := r.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := r.Release(h); !cferr.IsCode(err, cferr.CodeHandleReleased) {
		t.Errorf("Expected HandleReleased, got %v", err)
	}
}

func TestSweepEvictsIdleZeroRef(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Millisecond
	r := newRegistry(t, cfg)

	var closed int32
	ctor := func(ctx context.Context, opts Options) (interface{}, error) {
		return closableModel{closed: &closed}, nil
	}

	idle, _ := r.Acquire(context.Background(), "acme", "idle", ctor)
	held, _ := r.Acquire(context.Background(), "acme", "held", ctor)
	r.Release(idle)

	time.Sleep(5 * time.Millisecond)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("Expected 1 eviction, got %d", n)
	}
	if atomic.LoadInt32(&closed) != 1 {
		t.Errorf("Evicted instance not closed")
	}
	if r.TenantCount("acme") != 1 {
		t.Errorf("Held handle must survive the sweep")
	}

	// A post-eviction acquire reconstructs.
	var built int32
	if _, err := r.Acquire(context.Background(), "acme", "idle", countingConstructor(&built)); err != nil || built != 1 {
		t.Errorf("Reconstruction after eviction failed: err=%v built=%d", err, built)
	}

	r.Release(held)
}

func TestCloseReportsHeldHandles(t *testing.T) {
	r := NewRegistry(testConfig())
	var built int32

	h, err := r.Acquire(context.Background(), "acme", "gpt", countingConstructor(&built))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := r.Close(); err == nil {
		t.Errorf("Close must report handles still referenced")
	}
	_ = h
}
