// Package cache keeps compiled modules keyed by program identity so that
// unchanged templates are not rebuilt.
//
// Entries are validated against a hash of the generated source: a lookup
// with a different hash drops the stale module. The cache is bounded by an
// LRU capacity and an optional TTL. Modules are handed out through reference
// counted handles and released once they are both evicted and unused.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/textform/internal/compiler"
	"github.com/conneroisu/textform/internal/logging"
)

// Defaults for the shared cache
const (
	DefaultCapacity = 64
	DefaultTTL      = time.Duration(0)
)

// ModuleCache caches compiled modules with LRU eviction and TTL
type ModuleCache struct {
	entries  map[string]*record
	mutex    sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	logger   logging.Logger
	group    singleflight.Group

	// Contexts of in-flight compiles, cancelled when their last waiter leaves
	flights   map[string]*flightContext
	flightsMu sync.Mutex

	// LRU doubly-linked list with dummy head and tail
	head *record
	tail *record

	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	inserts   int64
	evictions int64
}

// Record describes a cached module
type Record struct {
	Identity   string
	SourceHash string
	CreatedAt  time.Time
	LastAccess time.Time
}

type record struct {
	Record
	module compiler.Module

	refs     int
	removed  bool
	released bool

	prev *record
	next *record
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Inserts   int64
	Evictions int64
}

// Option configures a ModuleCache
type Option func(*ModuleCache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *ModuleCache) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *ModuleCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache holding at most capacity modules; 0 means unbounded.
// Entries older than ttl are dropped on lookup; 0 disables expiry.
func New(capacity int, ttl time.Duration, opts ...Option) *ModuleCache {
	c := &ModuleCache{
		entries:  make(map[string]*record),
		flights:  make(map[string]*flightContext),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cache")

	// Initialize LRU doubly-linked list with dummy head and tail
	c.head = &record{}
	c.tail = &record{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

var (
	sharedOnce  sync.Once
	sharedCache *ModuleCache
)

// Shared returns the process-wide cache
func Shared() *ModuleCache {
	sharedOnce.Do(func() {
		sharedCache = New(DefaultCapacity, DefaultTTL)
	})
	return sharedCache
}

// Handle is a lease on a module. Close must be called once the module is no
// longer in use.
type Handle struct {
	Module compiler.Module

	cache *ModuleCache
	rec   *record
	once  sync.Once
	err   error
}

// Uncached wraps a module the caller owns; closing the handle releases it
func Uncached(m compiler.Module) *Handle {
	return &Handle{Module: m}
}

// Cached reports whether the module belongs to a cache
func (h *Handle) Cached() bool {
	return h.cache != nil
}

// Close ends the lease. Uncached modules are released; cached ones are
// released only if they were evicted and this was the last lease.
func (h *Handle) Close() error {
	h.once.Do(func() {
		if h.cache == nil {
			if h.Module != nil {
				h.err = h.Module.Release()
			}
			return
		}
		h.err = h.cache.unlease(h.rec)
	})
	return h.err
}

// Find returns a lease on the module cached for identity if its source hash
// matches and it has not expired.
func (c *ModuleCache) Find(identity, sourceHash string) (*Handle, bool) {
	c.mutex.Lock()

	rec, exists := c.entries[identity]
	if !exists {
		c.mutex.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if rec.SourceHash != sourceHash || c.expired(rec) {
		stale := c.detach(rec)
		c.mutex.Unlock()
		atomic.AddInt64(&c.misses, 1)
		c.release(stale)
		return nil, false
	}

	// Move to front (mark as recently used)
	c.moveToFront(rec)
	c.touch(rec)
	rec.refs++
	c.mutex.Unlock()

	atomic.AddInt64(&c.hits, 1)
	return &Handle{Module: rec.module, cache: c, rec: rec}, true
}

// Insert stores a module and returns a lease on it. An existing entry for
// the identity is replaced, and least recently used entries are evicted once
// the capacity is exceeded.
func (c *ModuleCache) Insert(identity, sourceHash string, m compiler.Module) *Handle {
	now := c.now()
	rec := &record{
		Record: Record{
			Identity:   identity,
			SourceHash: sourceHash,
			CreatedAt:  now,
			LastAccess: now,
		},
		module: m,
		refs:   1,
	}

	c.mutex.Lock()
	var stale []*record
	if existing, exists := c.entries[identity]; exists {
		stale = append(stale, c.detach(existing)...)
	}
	c.entries[identity] = rec
	c.addToFront(rec)

	// Efficient LRU eviction - remove from tail (least recently used)
	for c.capacity > 0 && len(c.entries) > c.capacity && c.tail.prev != c.head {
		lru := c.tail.prev
		stale = append(stale, c.detach(lru)...)
		atomic.AddInt64(&c.evictions, 1)
	}
	c.mutex.Unlock()

	atomic.AddInt64(&c.inserts, 1)
	for i, old := range stale {
		if old.module == m {
			stale = append(stale[:i], stale[i+1:]...)
			break
		}
	}
	c.release(stale)
	return &Handle{Module: m, cache: c, rec: rec}
}

// Do returns a lease on the module for identity, compiling it at most once
// across concurrent callers. Results with error diagnostics are returned
// without a handle and are not cached.
//
// The shared compile runs until its last waiting caller gives up; a caller
// whose ctx is cancelled returns ctx.Err() without affecting the others.
func (c *ModuleCache) Do(ctx context.Context, identity, sourceHash string,
	compile func(context.Context) (*compiler.Result, error),
) (*Handle, *compiler.Result, error) {
	if h, ok := c.Find(identity, sourceHash); ok {
		return h, &compiler.Result{Module: h.Module}, nil
	}

	key := identity + "\x00" + sourceHash
	var (
		v   interface{}
		err error
	)
	for attempt := 0; ; attempt++ {
		v, err = c.await(ctx, key, identity, sourceHash, compile)
		if err == nil || ctx.Err() != nil || !errors.Is(err, context.Canceled) || attempt == maxFlightRetries {
			break
		}
		// Joined a compile abandoned by all of its earlier waiters
		c.group.Forget(key)
		c.logger.Debug(ctx, "Shared compile was cancelled, retrying", "identity", identity)
	}
	if err != nil {
		return nil, nil, err
	}

	f := v.(flight)
	if f.rec == nil {
		return nil, f.result, nil
	}
	if h, ok := c.lease(f.rec); ok {
		return h, f.result, nil
	}

	// Evicted and released before this caller could take a lease
	c.logger.Debug(ctx, "Module evicted before use, compiling uncached", "identity", identity)
	result, err := compile(ctx)
	if err != nil {
		return nil, nil, err
	}
	if result == nil || result.Module == nil || result.HasErrors() {
		return nil, result, nil
	}
	return Uncached(result.Module), result, nil
}

const maxFlightRetries = 2

type flightContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// await joins or starts the compile for key and waits for it or for ctx
func (c *ModuleCache) await(ctx context.Context, key, identity, sourceHash string,
	compile func(context.Context) (*compiler.Result, error),
) (interface{}, error) {
	fc := c.join(ctx, key)
	defer c.leave(key, fc)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		defer c.finish(key, fc)
		return c.build(fc.ctx, identity, sourceHash, compile)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ModuleCache) join(ctx context.Context, key string) *flightContext {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	fc, ok := c.flights[key]
	if !ok || fc.ctx.Err() != nil {
		if ok {
			// Later callers must not join the abandoned compile
			c.group.Forget(key)
		}
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fc = &flightContext{ctx: fctx, cancel: cancel}
		c.flights[key] = fc
	}
	fc.waiters++
	return fc
}

func (c *ModuleCache) leave(key string, fc *flightContext) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	fc.waiters--
	if fc.waiters == 0 {
		fc.cancel()
		if c.flights[key] == fc {
			delete(c.flights, key)
		}
	}
}

func (c *ModuleCache) finish(key string, fc *flightContext) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	if c.flights[key] == fc {
		delete(c.flights, key)
	}
}

func (c *ModuleCache) build(ctx context.Context, identity, sourceHash string,
	compile func(context.Context) (*compiler.Result, error),
) (interface{}, error) {
	result, err := compile(ctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("compiler returned no result for %s", identity)
	}
	if result.Module == nil || result.HasErrors() {
		return flight{result: result}, nil
	}
	h := c.Insert(identity, sourceHash, result.Module)
	rec := h.rec
	if err := h.Close(); err != nil {
		return nil, err
	}
	return flight{result: result, rec: rec}, nil
}

type flight struct {
	result *compiler.Result
	rec    *record
}

// Remove drops the entry for identity
func (c *ModuleCache) Remove(identity string) bool {
	c.mutex.Lock()
	rec, exists := c.entries[identity]
	var stale []*record
	if exists {
		stale = c.detach(rec)
	}
	c.mutex.Unlock()

	c.release(stale)
	return exists
}

// Purge drops every entry, releasing modules that are not leased
func (c *ModuleCache) Purge() error {
	c.mutex.Lock()
	var stale []*record
	for _, rec := range c.entries {
		stale = append(stale, c.detach(rec)...)
	}
	c.mutex.Unlock()

	return c.release(stale)
}

// Lookup returns the record for identity without touching it
func (c *ModuleCache) Lookup(identity string) (Record, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	rec, exists := c.entries[identity]
	if !exists {
		return Record{}, false
	}
	return rec.Record, true
}

// Stats returns cache statistics
func (c *ModuleCache) Stats() Stats {
	c.mutex.Lock()
	entries := len(c.entries)
	c.mutex.Unlock()

	return Stats{
		Entries:   entries,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Inserts:   atomic.LoadInt64(&c.inserts),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// Len returns the number of cached modules
func (c *ModuleCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

func (c *ModuleCache) lease(rec *record) (*Handle, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if rec.released {
		return nil, false
	}
	rec.refs++
	return &Handle{Module: rec.module, cache: c, rec: rec}, true
}

func (c *ModuleCache) unlease(rec *record) error {
	c.mutex.Lock()
	rec.refs--
	var stale []*record
	if rec.removed && rec.refs == 0 && !rec.released {
		rec.released = true
		stale = append(stale, rec)
	}
	c.mutex.Unlock()

	return c.release(stale)
}

func (c *ModuleCache) expired(rec *record) bool {
	return c.ttl > 0 && c.now().Sub(rec.CreatedAt) > c.ttl
}

// touch advances LastAccess; it never moves backwards
func (c *ModuleCache) touch(rec *record) {
	if now := c.now(); now.After(rec.LastAccess) {
		rec.LastAccess = now
	}
}

// detach unlinks rec and returns it if nothing holds a lease on it
func (c *ModuleCache) detach(rec *record) []*record {
	if rec.removed {
		return nil
	}
	c.removeFromList(rec)
	delete(c.entries, rec.Identity)
	rec.removed = true
	if rec.refs > 0 {
		return nil
	}
	rec.released = true
	return []*record{rec}
}

// release runs outside the lock; it may touch the file system
func (c *ModuleCache) release(recs []*record) error {
	var err error
	for _, rec := range recs {
		if rec.module == nil {
			continue
		}
		if rerr := rec.module.Release(); rerr != nil {
			c.logger.Warn(context.Background(), rerr, "Failed to release module", "identity", rec.Identity)
			err = multierr.Append(err, rerr)
		}
	}
	return err
}

// LRU doubly-linked list operations
func (c *ModuleCache) addToFront(rec *record) {
	rec.prev = c.head
	rec.next = c.head.next
	c.head.next.prev = rec
	c.head.next = rec
}

func (c *ModuleCache) removeFromList(rec *record) {
	rec.prev.next = rec.next
	rec.next.prev = rec.prev
	rec.prev = nil
	rec.next = nil
}

func (c *ModuleCache) moveToFront(rec *record) {
	c.removeFromList(rec)
	c.addToFront(rec)
}

// SourceHash fingerprints everything that influences a compiled module
func SourceHash(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
