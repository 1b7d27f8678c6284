// Package query is a small data-fetching layer: keyed queries that share a
// last-known-value cache, deduplicate concurrent fetches of the same key and
// publish loading/fetching state to subscribers, plus mutations with
// success/error/settled hooks.
package query

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/meilidash/internal/logging"
)

// Key identifies a cached resource, e.g. {"settings", host, index}.
type Key []string

// String joins the key parts with "/".
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Equal reports whether two keys have identical parts.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTTL sets how long a fetched value is served as last-known data.
func WithTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of cached keys.
func WithMaxEntries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.WithComponent("query")
		}
	}
}

// Client owns the cache shared by every Query created from it.
type Client struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	group  singleflight.Group
	logger *logging.Logger
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewClient creates a Client. Defaults: 5 minute TTL, 256 entries.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		ttl:        5 * time.Minute,
		maxEntries: 256,
		now:        time.Now,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peek returns the cached value for key if present and not expired.
func (c *Client) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return e.value, true
}

// Set stores value as the last-known data for key.
func (c *Client) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	if elem, ok := c.entries[k]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = c.now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxEntries {
		c.removeLocked(c.lru.Back())
	}
	c.entries[k] = c.lru.PushFront(&entry{key: k, value: value, expiresAt: c.now().Add(c.ttl)})
}

// Invalidate drops the cached value for key.
func (c *Client) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key.String()]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of cached keys, including expired ones not yet purged.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Client) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	delete(c.entries, elem.Value.(*entry).key)
	c.lru.Remove(elem)
}

// fetch runs fn once per key no matter how many callers are waiting on it,
// and caches a successful result.
func (c *Client) fetch(ctx context.Context, key Key, fn func(context.Context) (any, error)) (any, error) {
	k := key.String()
	v, err, shared := c.group.Do(k, func() (any, error) {
		start := c.now()
		v, err := fn(ctx)
		if err != nil {
			c.logger.Debug("fetch failed", "key", k, "error", err.Error())
			return nil, err
		}
		c.Set(key, v)
		c.logger.Debug("fetch completed", "key", k, "duration_ms", c.now().Sub(start).Milliseconds())
		return v, nil
	})
	if shared {
		c.logger.Debug("fetch shared", "key", k)
	}
	return v, err
}

// typed asserts a cached or fetched value to T.
func typed[T any](key Key, v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var zero T
	return zero, fmt.Errorf("query %s: cached value has type %T, want %T", key, v, zero)
}
