package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/tandasync/internal/metrics"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
)

const cacheKey = "cache/tandas"

// Source fetches the authoritative tanda list.
type Source interface {
	FetchTandas(ctx context.Context) ([]tanda.Tanda, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]tanda.Tanda, error)

// FetchTandas calls f.
func (f SourceFunc) FetchTandas(ctx context.Context) ([]tanda.Tanda, error) {
	return f(ctx)
}

// Cache is the offline-first tanda list.
//
// Load answers from memory or the store without touching the network.
// Refresh fetches from the Source, merges, and replaces the cache.
// RefreshAsync does the same in the background and only logs failures.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache struct {
	kv      store.KV
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	tandas []tanda.Tanda
	loaded bool

	flight singleflight.Group
	wg     sync.WaitGroup
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the prometheus collectors.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCache creates a cache persisted in kv and refreshed from source.
func NewCache(kv store.KV, source Source, opts ...CacheOption) *Cache {
	c := &Cache{
		kv:     kv,
		source: source,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewUnregistered()
	}
	return c
}

// Load returns the cached list. The first call reads the store; a missing
// entry is an empty list.
func (c *Cache) Load(ctx context.Context) ([]tanda.Tanda, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return cloneAll(c.tandas), nil
}

// Get returns one cached tanda.
func (c *Cache) Get(ctx context.Context, id string) (tanda.Tanda, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return tanda.Tanda{}, false, err
	}
	for _, t := range c.tandas {
		if t.ID == id {
			return t.Clone(), true, nil
		}
	}
	return tanda.Tanda{}, false, nil
}

// Refresh fetches the remote list, merges it with the cache and persists
// the result. Concurrent calls share one fetch.
func (c *Cache) Refresh(ctx context.Context) ([]tanda.Tanda, Report, error) {
	type result struct {
		tandas []tanda.Tanda
		report Report
	}
	v, err, _ := c.flight.Do("refresh", func() (any, error) {
		remote, err := c.source.FetchTandas(ctx)
		if err != nil {
			c.metrics.Syncs.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("fetch tandas: %w", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.ensureLoadedLocked(ctx); err != nil {
			return nil, err
		}
		merged, rep := MergeWithReport(c.tandas, remote)
		if err := c.replaceLocked(ctx, merged); err != nil {
			return nil, err
		}
		c.metrics.Syncs.WithLabelValues("ok").Inc()
		c.metrics.LocalOnly.Set(float64(rep.LocalOnly))
		if rep.Regressed > 0 {
			c.logger.Warn("ledger reported an earlier tanda status than cached",
				"regressed", rep.Regressed,
			)
		}
		c.logger.Debug("tandas synced",
			"remote", rep.Remote,
			"local_only", rep.LocalOnly,
			"replaced", rep.Replaced,
		)
		return result{tandas: cloneAll(merged), report: rep}, nil
	})
	if err != nil {
		return nil, Report{}, err
	}
	r := v.(result)
	return cloneAll(r.tandas), r.report, nil
}

// RefreshAsync runs Refresh in the background. Failures are logged and
// swallowed; the cached list stays valid. The returned channel closes when
// the refresh is done.
func (c *Cache) RefreshAsync(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if _, _, err := c.Refresh(ctx); err != nil {
			c.logger.Warn("background sync failed", "error", err)
		}
	}()
	return done
}

// Wait blocks until every RefreshAsync has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// PutLocal inserts or replaces t by id and persists the cache.
func (c *Cache) PutLocal(ctx context.Context, t tanda.Tanda) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	next := cloneAll(c.tandas)
	replaced := false
	for i := range next {
		if next[i].ID == t.ID {
			next[i] = t.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, t.Clone())
	}
	return c.replaceLocked(ctx, next)
}

// Remove drops id from the cache. Removing an unknown id is a no-op.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	next := make([]tanda.Tanda, 0, len(c.tandas))
	for _, t := range c.tandas {
		if t.ID != id {
			next = append(next, t)
		}
	}
	return c.replaceLocked(ctx, next)
}

func (c *Cache) ensureLoadedLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	var ts []tanda.Tanda
	err := store.GetJSON(ctx, c.kv, cacheKey, &ts)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load tanda cache: %w", err)
	}
	c.tandas = ts
	c.loaded = true
	return nil
}

func (c *Cache) replaceLocked(ctx context.Context, ts []tanda.Tanda) error {
	if ts == nil {
		ts = []tanda.Tanda{}
	}
	if err := store.PutJSON(ctx, c.kv, cacheKey, ts); err != nil {
		return fmt.Errorf("save tanda cache: %w", err)
	}
	c.tandas = ts
	c.loaded = true
	return nil
}

func cloneAll(ts []tanda.Tanda) []tanda.Tanda {
	out := make([]tanda.Tanda, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}
