// Package querycache holds keyed query results for the UI layer. Entries are
// refreshed by invalidation: observed entries re-fetch once in the
// background, unobserved ones are dropped and re-read on demand.
//
// Cached values are shared between readers and must be treated as immutable;
// local writes go through SetData/UpdateWhere with copy-on-write functions.
package querycache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tuzemoon/internal/observability"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("querycache: closed")

// Fetcher loads the value of one query.
type Fetcher func(ctx context.Context) (any, error)

// Options tunes cache behavior.
type Options struct {
	// StaleTime is how long data counts as fresh without an invalidation.
	// Zero keeps data fresh until invalidated.
	StaleTime time.Duration
	// FetchTimeout bounds background re-fetches. Zero means no bound.
	FetchTimeout time.Duration
}

type entry struct {
	key Key

	data      any
	hasData   bool
	err       error // last background fetch error
	updatedAt time.Time

	stale          bool
	refetchPending bool
	fetching       bool // the pending refetch has called its fetcher
	dirty          bool // invalidated after the pending refetch started
	generation     uint64
	revision       uint64 // advances on every stored fetch result

	fetcher   Fetcher
	observers map[*Observer]struct{}
}

// Cache is a concurrency-safe query cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	sf     singleflight.Group
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty cache.
func New(opts Options, logger *slog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries: make(map[string]*entry),
		opts:    opts,
		logger:  logger.With(slog.String("component", "querycache")),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Read returns fresh cached data for key or awaits fetch. Concurrent reads
// of the same key share one fetch.
func (c *Cache) Read(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	ks := key.String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(key, ks)
	if e.hasData && !e.stale && c.freshLocked(e) {
		data := e.data
		c.mu.Unlock()
		observability.RecordCacheRead(key.Prefix, true)
		return data, nil
	}
	gen := e.generation
	c.mu.Unlock()
	observability.RecordCacheRead(key.Prefix, false)

	ch := c.sf.DoChan(ks+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		data, err := fetch(ctx)
		if err == nil {
			c.store(ks, e, gen, data)
		}
		return data, err
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns cached data without fetching.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

// Observe mounts an observer on key. The first observer of an empty entry
// triggers a fetch; later invalidations re-fetch with the newest fetcher.
func (c *Cache) Observe(key Key, fetch Fetcher) *Observer {
	o := &Observer{
		cache:   c,
		key:     key,
		ks:      key.String(),
		updates: make(chan struct{}, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		o.closed = true
		return o
	}
	e := c.entryLocked(key, o.ks)
	e.fetcher = fetch
	e.observers[o] = struct{}{}
	if (!e.hasData || e.stale || !c.freshLocked(e)) && !e.refetchPending {
		c.scheduleLocked(e)
	}
	if e.hasData {
		o.signal()
	}
	return o
}

// Invalidate marks matching entries stale and returns how many matched.
// Observed entries get one background re-fetch. Invalidations that arrive
// before a pending re-fetch starts share it; one that arrives while it is
// running queues exactly one more. Unobserved entries are dropped.
func (c *Cache) Invalidate(m Matcher) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(m)
}

func (c *Cache) invalidateLocked(m Matcher) int {
	if c.closed {
		return 0
	}

	n := 0
	for ks, e := range c.entries {
		if !m(e.key) {
			continue
		}
		n++
		observability.RecordInvalidation(e.key.Prefix)

		if len(e.observers) == 0 {
			e.generation++
			delete(c.entries, ks)
			continue
		}
		if e.stale && e.refetchPending {
			if e.fetching {
				e.dirty = true
			}
			continue
		}
		e.stale = true
		c.scheduleLocked(e)
	}
	return n
}

// SetData replaces the cached value of key with fn(old). It is a no-op
// when key holds no data. Observers are signalled.
func (c *Cache) SetData(key Key, fn func(old any) any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok || !e.hasData {
		return false
	}
	e.data = fn(e.data)
	e.signalLocked()
	return true
}

// UpdateWhere applies fn to the data of every matching entry that holds data.
// It returns the number of entries updated.
func (c *Cache) UpdateWhere(m Matcher, fn func(key Key, old any) any) int {
	return c.UpdateRevisions(m, func(key Key, _ uint64, old any) any { return fn(key, old) })
}

// UpdateRevisions is UpdateWhere with each entry's revision passed to fn.
// The revision identifies the fetched snapshot under the data: local edits
// keep it, every stored fetch result advances it. Callers undoing an earlier
// edit compare it to skip entries the server has since replaced.
func (c *Cache) UpdateRevisions(m Matcher, fn func(key Key, rev uint64, old any) any) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !e.hasData || !m(e.key) {
			continue
		}
		e.data = fn(e.key, e.revision, e.data)
		e.signalLocked()
		n++
	}
	return n
}

// Keys returns the keys of all entries matching m.
func (c *Cache) Keys(m Matcher) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []Key
	for _, e := range c.entries {
		if m(e.key) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Close stops background re-fetches. Results arriving later are dropped.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		e.generation++
		for o := range e.observers {
			o.closed = true
			close(o.updates)
		}
		e.observers = nil
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) entryLocked(key Key, ks string) *entry {
	e, ok := c.entries[ks]
	if !ok {
		e = &entry{key: key, observers: make(map[*Observer]struct{})}
		c.entries[ks] = e
	}
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	return c.opts.StaleTime <= 0 || c.now().Sub(e.updatedAt) < c.opts.StaleTime
}

// store saves a fetch result if the entry was neither dropped nor invalidated meanwhile.
func (c *Cache) store(ks string, e *entry, gen uint64, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.entries[ks] != e || e.generation != gen {
		return false
	}
	e.data = data
	e.hasData = true
	e.err = nil
	e.stale = false
	e.revision++
	e.updatedAt = c.now()
	e.signalLocked()
	return true
}

// scheduleLocked starts one background fetch for e with a new generation.
func (c *Cache) scheduleLocked(e *entry) {
	if e.fetcher == nil {
		return
	}
	e.generation++
	e.refetchPending = true
	e.fetching = false
	e.dirty = false
	gen := e.generation
	fetch := e.fetcher
	ks := e.key.String()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx := c.ctx
		if c.opts.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
			defer cancel()
		}

		c.mu.Lock()
		if c.closed || c.entries[ks] != e || e.generation != gen {
			c.mu.Unlock()
			return
		}
		e.fetching = true
		c.mu.Unlock()

		data, err := fetch(ctx)
		observability.RecordRefetch(e.key.Prefix, err)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed || c.entries[ks] != e || e.generation != gen {
			return
		}
		e.refetchPending = false
		e.fetching = false
		if err != nil {
			e.err = err
			c.logger.Warn("background refetch failed",
				slog.String("key", ks),
				slog.Any("error", err),
			)
		} else {
			e.data = data
			e.hasData = true
			e.err = nil
			e.stale = false
			e.revision++
			e.updatedAt = c.now()
		}
		e.signalLocked()

		// the result may predate a change reported while it was in flight
		if e.dirty {
			e.stale = true
			c.scheduleLocked(e)
		}
	}()
}

func (e *entry) signalLocked() {
	for o := range e.observers {
		o.signal()
	}
}
