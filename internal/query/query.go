package query

import (
	"context"
	"sync"
	"time"
)

// Fetcher loads the value for key.
type Fetcher[T any] func(ctx context.Context, key Key) (T, error)

// State is a point-in-time view of a Query.
type State[T any] struct {
	Key Key
	// Data is the last value fetched for Key; meaningful only when HasData.
	Data    T
	HasData bool
	// Err is the error of the most recent fetch. Data is kept when a
	// later fetch fails.
	Err error
	// IsLoading is true while the first fetch for Key is in flight.
	IsLoading bool
	// IsFetching is true while any fetch for Key is in flight.
	IsFetching bool
	UpdatedAt  time.Time
	// Version increases every time Data is replaced, across keys.
	Version uint64
	// Seq increases with every change. Listeners may be called
	// concurrently, so a state can arrive after a newer one; the one with
	// the highest Seq is current.
	Seq uint64
}

// Query tracks one keyed resource. Changing the key discards the results of
// fetches still running for the previous key.
type Query[T any] struct {
	client  *Client
	fetcher Fetcher[T]

	mu        sync.Mutex
	state     State[T]
	gen       uint64
	inflight  int
	version   uint64
	seq       uint64
	listeners map[int]func(State[T])
	nextID    int
}

// New creates a Query for key, seeded with the client's cached value if any.
// It does not fetch; call Refetch or RefetchAsync.
func New[T any](client *Client, key Key, fetcher Fetcher[T]) *Query[T] {
	q := &Query[T]{
		client:    client,
		fetcher:   fetcher,
		listeners: make(map[int]func(State[T])),
	}
	q.state = q.seedLocked(key)
	q.bumpLocked()
	return q
}

// seedLocked builds the initial state for key from the cache.
func (q *Query[T]) seedLocked(key Key) State[T] {
	st := State[T]{Key: key}
	if v, ok := q.client.Peek(key); ok {
		if data, err := typed[T](key, v); err == nil {
			q.version++
			st.Data = data
			st.HasData = true
			st.UpdatedAt = q.client.now()
			st.Version = q.version
		}
	}
	return st
}

// State returns the current state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Key returns the current key.
func (q *Query[T]) Key() Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Key
}

// Subscribe registers fn to be called after every state change. Callbacks run
// on the goroutine that caused the change, never under the query's lock.
func (q *Query[T]) Subscribe(fn func(State[T])) (cancel func()) {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// SetKey switches the query to key and starts a background fetch. Results of
// fetches for the previous key are dropped when they arrive.
func (q *Query[T]) SetKey(key Key) {
	q.mu.Lock()
	if q.state.Key.Equal(key) {
		q.mu.Unlock()
		return
	}
	q.gen++
	q.inflight = 0
	q.state = q.seedLocked(key)
	q.bumpLocked()
	st, listeners := q.state, q.listenersLocked()
	q.mu.Unlock()

	notify(listeners, st)
	q.RefetchAsync()
}

// Refetch fetches the current key and blocks until the result is applied.
// A result that arrives after the key changed is discarded and Refetch
// returns nil.
func (q *Query[T]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	gen, key := q.gen, q.state.Key
	q.inflight++
	q.state.IsFetching = true
	q.state.IsLoading = !q.state.HasData
	q.bumpLocked()
	st, listeners := q.state, q.listenersLocked()
	q.mu.Unlock()
	notify(listeners, st)

	v, err := q.client.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return q.fetcher(ctx, key)
	})
	var data T
	if err == nil {
		data, err = typed[T](key, v)
	}

	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return nil
	}
	q.inflight--
	q.state.IsFetching = q.inflight > 0
	if err != nil {
		q.state.Err = err
	} else {
		q.version++
		q.state.Data = data
		q.state.HasData = true
		q.state.Err = nil
		q.state.UpdatedAt = q.client.now()
		q.state.Version = q.version
	}
	q.state.IsLoading = q.state.IsFetching && !q.state.HasData
	q.bumpLocked()
	st, listeners = q.state, q.listenersLocked()
	q.mu.Unlock()
	notify(listeners, st)

	return err
}

// RefetchAsync starts Refetch on a new goroutine with a background context.
func (q *Query[T]) RefetchAsync() {
	go func() {
		_ = q.Refetch(context.Background())
	}()
}

func (q *Query[T]) bumpLocked() {
	q.seq++
	q.state.Seq = q.seq
}

func (q *Query[T]) listenersLocked() []func(State[T]) {
	fns := make([]func(State[T]), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify[T any](listeners []func(State[T]), st State[T]) {
	for _, fn := range listeners {
		fn(st)
	}
}
