// Package admission implements the pre-flight gates applied before any
// ledger or provider work happens: a sliding-window request rate limit and a
// cap on concurrently processing jobs, both per owner.
//
// State is process-local and ephemeral, kept in a map with opportunistic
// garbage collection of idle entries. That is deliberate: admission is an
// abuse-bounding heuristic, not a safety invariant, so "eventually consistent
// enough" is the bar. Balance safety lives in the ledger's guarded updates,
// never here. The one failure mode that is not acceptable is a permanently
// stuck in-flight counter, which the orchestrator's reconciliation sweep
// repairs via Sync.
package admission

import (
	"fmt"
	"sync"
	"time"
)

// Config bounds request admission per owner.
type Config struct {
	// WindowRequests is the maximum number of requests per Window.
	WindowRequests int
	// Window is the sliding rate-limit window.
	Window time.Duration
	// MaxConcurrent caps jobs simultaneously in PROCESSING per owner.
	MaxConcurrent int
	// IdleTTL evicts owners with no recent activity; defaults to 10m.
	IdleTTL time.Duration
}

// visitor holds the admission state for one owner and the last time it was
// seen, used to opportunistically evict idle entries.
type visitor struct {
	stamps   []time.Time // request timestamps inside the rate window
	inflight int
	lastSeen time.Time
}

// Controller applies the rate and concurrency gates. Safe for concurrent use.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	visitors map[string]*visitor
	cleanupN uint64
}

// NewController constructs a Controller with the given limits. Zero or
// negative limits are coerced to permissive defaults.
func NewController(cfg Config) *Controller {
	if cfg.WindowRequests <= 0 {
		cfg.WindowRequests = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Controller{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
	}
}

// key picks the admission identity: the owner when known, otherwise the
// network origin. Prefixes keep the namespaces from colliding.
func key(ownerKey, origin string) string {
	if ownerKey != "" {
		return "owner:" + ownerKey
	}
	return "origin:" + origin
}

// getVisitor returns (and touches) the visitor for k, creating it if absent.
// It performs opportunistic GC of idle entries after ~5000 lookups, before
// touching the requested visitor so an old entry can still be evicted.
// Callers must hold c.mu.
func (c *Controller) getVisitor(k string, now time.Time) *visitor {
	c.cleanupN++
	if c.cleanupN >= 5000 {
		for vk, vv := range c.visitors {
			if vv.inflight == 0 && now.Sub(vv.lastSeen) >= c.cfg.IdleTTL {
				delete(c.visitors, vk)
			}
		}
		c.cleanupN = 0
	}

	v, ok := c.visitors[k]
	if !ok {
		v = &visitor{}
		c.visitors[k] = v
	}
	v.lastSeen = now
	return v
}

// CheckRate applies the sliding-window rate limit and, when allowed, records
// the request. On rejection it returns the number of seconds after which the
// oldest in-window request will have aged out.
func (c *Controller) CheckRate(ownerKey, origin string) (allowed bool, retryAfterSeconds int) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.getVisitor(key(ownerKey, origin), now)

	// Drop timestamps that slid out of the window.
	cutoff := now.Add(-c.cfg.Window)
	kept := v.stamps[:0]
	for _, ts := range v.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	v.stamps = kept

	if len(v.stamps) >= c.cfg.WindowRequests {
		wait := c.cfg.Window - now.Sub(v.stamps[0])
		secs := int(wait/time.Second) + 1
		return false, secs
	}
	v.stamps = append(v.stamps, now)
	return true, 0
}

// CheckConcurrency reports whether the owner may start another job. The
// counter itself is moved by Acquire/Release on the PROCESSING and terminal
// transitions.
func (c *Controller) CheckConcurrency(ownerKey string) (allowed bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.getVisitor(key(ownerKey, ""), time.Now())
	if v.inflight >= c.cfg.MaxConcurrent {
		return false, fmt.Sprintf("%d jobs already processing (limit %d)", v.inflight, c.cfg.MaxConcurrent)
	}
	return true, ""
}

// Acquire increments the owner's in-flight counter. Called when a job
// transitions to PROCESSING.
func (c *Controller) Acquire(ownerKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.getVisitor(key(ownerKey, ""), time.Now())
	v.inflight++
}

// Release decrements the owner's in-flight counter, flooring at zero. Called
// on every terminal transition, including crash-recovery paths.
func (c *Controller) Release(ownerKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.getVisitor(key(ownerKey, ""), time.Now())
	if v.inflight > 0 {
		v.inflight--
	}
}

// Sync overwrites the owner's in-flight counter with an authoritative count
// from storage. The reconciliation sweep uses it to release counters whose
// decrement was lost.
func (c *Controller) Sync(ownerKey string, inflight int) {
	if inflight < 0 {
		inflight = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.getVisitor(key(ownerKey, ""), time.Now())
	v.inflight = inflight
}

// InFlight returns the owner's current in-flight count.
func (c *Controller) InFlight(ownerKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.visitors[key(ownerKey, "")]
	if !ok {
		return 0
	}
	return v.inflight
}
