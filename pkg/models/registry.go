// Package models provides the model-lifecycle registry: at most one live
// instance per (tenant, kind), constructed lazily on first demand, shared
// by reference count, bounded by per-tenant quotas, and evicted by an
// idle sweep. Instances never cross tenant lines.
package models

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// Options are passed to a constructor when a new instance is built.
// API keys resolve tenant-provided key first, system fallback second.
type Options struct {
	Tenant string
	Kind   string
	APIKey string
}

// Constructor builds a model instance. It is a capability supplied by the
// caller and opaque to the registry; construction may be slow and may fail.
type Constructor func(ctx context.Context, opts Options) (interface{}, error)

// Handle is a live, constructed model instance plus lifecycle metadata.
// Handles are shared by all concurrent requests from the same tenant for
// the same kind and must be returned with Release.
type Handle struct {
	Tenant        string
	Kind          string
	ConstructedAt time.Time

	instance   interface{}
	refs       int
	lastAccess time.Time
}

// Instance returns the constructed model. The instance is shared read-only;
// callers must not mutate it.
func (h *Handle) Instance() interface{} {
	return h.instance
}

// Config controls quotas and eviction.
type Config struct {
	// DefaultQuota is the active-instance ceiling for tenants without an
	// explicit entry. Zero means unlimited.
	DefaultQuota int

	// TenantQuotas overrides the ceiling per tenant.
	TenantQuotas map[string]int

	// IdleTimeout is how long a zero-ref handle may sit before eviction.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration

	// SystemKeys are fallback API keys per model kind.
	SystemKeys map[string]string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultQuota:  4,
		IdleTimeout:   10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type handleKey struct {
	tenant string
	kind   string
}

// Registry manages model handles.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	handles map[handleKey]*Handle

	// tenantKeys holds per-tenant API keys (BYOK) by model kind.
	tenantKeys map[string]map[string]string

	group singleflight.Group

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry and starts its idle-sweep loop.
func NewRegistry(cfg Config) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}

	r := &Registry{
		cfg:        cfg,
		handles:    make(map[handleKey]*Handle),
		tenantKeys: make(map[string]map[string]string),
		stopChan:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweepLoop()

	return r
}

// SetTenantKey stores a tenant-supplied API key for a model kind.
// Tenant keys take priority over system fallback keys.
func (r *Registry) SetTenantKey(tenant, kind, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tenantKeys[tenant] == nil {
		r.tenantKeys[tenant] = make(map[string]string)
	}
	r.tenantKeys[tenant][kind] = key
}

// UpdateQuotas swaps the quota table; used by config hot reload.
func (r *Registry) UpdateQuotas(defaultQuota int, tenantQuotas map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.DefaultQuota = defaultQuota
	r.cfg.TenantQuotas = tenantQuotas
}

func (r *Registry) quotaFor(tenant string) int {
	if q, ok := r.cfg.TenantQuotas[tenant]; ok {
		return q
	}
	return r.cfg.DefaultQuota
}

func (r *Registry) keyFor(tenant, kind string) string {
	if keys, ok := r.tenantKeys[tenant]; ok {
		if k, ok := keys[kind]; ok && k != "" {
			return k
		}
	}
	return r.cfg.SystemKeys[kind]
}

// Acquire returns a handle for (tenant, kind), constructing the instance on
// first demand. Concurrent acquires that would both construct serialize
// through singleflight so exactly one construction proceeds; losers wait
// and receive the winner's handle. A tenant at its active-instance ceiling
// gets QuotaExceededError without anything being constructed.
func (r *Registry) Acquire(ctx context.Context, tenant, kind string, construct Constructor) (*Handle, error) {
	key := handleKey{tenant: tenant, kind: kind}

	// Fast path: live handle.
	r.mu.Lock()
	if h, ok := r.handles[key]; ok {
		h.refs++
		h.lastAccess = time.Now()
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	flightKey := tenant + "\x00" + kind
	v, err, _ := r.group.Do(flightKey, func() (interface{}, error) {
		// Re-check under the flight: another caller may have registered the
		// handle between our fast path and winning the flight.
		r.mu.Lock()
		if h, ok := r.handles[key]; ok {
			r.mu.Unlock()
			return h, nil
		}

		// Quota is checked before construction so an over-quota tenant
		// never pays a build.
		quota := r.quotaFor(tenant)
		if quota > 0 && r.tenantCountLocked(tenant) >= quota {
			r.mu.Unlock()
			return nil, cferr.QuotaExceeded(tenant, quota)
		}
		apiKey := r.keyFor(tenant, kind)
		r.mu.Unlock()

		instance, err := construct(ctx, Options{Tenant: tenant, Kind: kind, APIKey: apiKey})
		if err != nil {
			return nil, cferr.Wrap(err, cferr.CodeModelConstruct, "model construction failed").
				WithContext("tenant", tenant).
				WithContext("kind", kind)
		}

		h := &Handle{
			Tenant:        tenant,
			Kind:          kind,
			ConstructedAt: time.Now(),
			instance:      instance,
			lastAccess:    time.Now(),
		}

		r.mu.Lock()
		r.handles[key] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}

	h := v.(*Handle)
	r.mu.Lock()
	h.refs++
	h.lastAccess = time.Now()
	r.mu.Unlock()
	return h, nil
}

// Release returns a handle. When the count reaches zero the handle becomes
// idle-eligible but is not torn down synchronously; the sweep handles that,
// so short gaps between requests do not pay reconstruction.
func (r *Registry) Release(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.refs <= 0 {
		return cferr.New(cferr.CodeHandleReleased, "handle released more times than acquired").
			WithContext("tenant", h.Tenant).
			WithContext("kind", h.Kind)
	}
	h.refs--
	h.lastAccess = time.Now()
	return nil
}

// tenantCountLocked counts live instances for a tenant. Caller holds r.mu.
func (r *Registry) tenantCountLocked(tenant string) int {
	n := 0
	for k := range r.handles {
		if k.tenant == tenant {
			n++
		}
	}
	return n
}

// TenantCount reports the live-instance count for a tenant.
func (r *Registry) TenantCount(tenant string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenantCountLocked(tenant)
}

// Refs reports the current reference count of a handle.
func (r *Registry) Refs(h *Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.refs
}

// Sweep evicts every handle with zero references that has been idle past
// the configured threshold. Returns the number evicted. Normally driven by
// the background loop; exported for tests and manual maintenance.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var evicted []*Handle
	for k, h := range r.handles {
		if h.refs == 0 && h.lastAccess.Before(cutoff) {
			delete(r.handles, k)
			evicted = append(evicted, h)
		}
	}
	r.mu.Unlock()

	// Close outside the lock: teardown may be slow.
	for _, h := range evicted {
		if closer, ok := h.instance.(io.Closer); ok {
			closer.Close()
		}
	}
	return len(evicted)
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops the sweep loop and tears down every idle handle. Handles
// still referenced are left to their holders.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()

	r.mu.Lock()
	var held int
	var evicted []*Handle
	for k, h := range r.handles {
		if h.refs > 0 {
			held++
			continue
		}
		delete(r.handles, k)
		evicted = append(evicted, h)
	}
	r.mu.Unlock()

	for _, h := range evicted {
		if closer, ok := h.instance.(io.Closer); ok {
			closer.Close()
		}
	}

	if held > 0 {
		return fmt.Errorf("registry closed with %d handles still referenced", held)
	}
	return nil
}
