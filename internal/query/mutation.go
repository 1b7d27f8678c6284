package query

import (
	"context"
	"sync"
)

// MutateFunc performs a write.
type MutateFunc[I, O any] func(ctx context.Context, in I) (O, error)

// MutationOptions hold the hooks run when a mutation resolves. OnSuccess or
// OnError runs first, then OnSettled. Hooks run while the mutation still
// counts as pending.
type MutationOptions[I, O any] struct {
	OnSuccess func(out O, in I)
	OnError   func(err error, in I)
	OnSettled func(out O, err error, in I)
}

// Mutation runs writes and tracks whether any is in flight.
type Mutation[I, O any] struct {
	fn   MutateFunc[I, O]
	opts MutationOptions[I, O]

	mu        sync.Mutex
	pending   int
	listeners map[int]func(pending bool)
	nextID    int
	wg        sync.WaitGroup
}

// NewMutation creates a Mutation around fn.
func NewMutation[I, O any](fn MutateFunc[I, O], opts MutationOptions[I, O]) *Mutation[I, O] {
	return &Mutation[I, O]{
		fn:        fn,
		opts:      opts,
		listeners: make(map[int]func(bool)),
	}
}

// Mutate starts the write on a new goroutine and returns immediately.
// IsPending reports true from the moment Mutate returns.
func (m *Mutation[I, O]) Mutate(ctx context.Context, in I) {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.run(ctx, in)
	}()
}

// MutateSync runs the write on the calling goroutine.
func (m *Mutation[I, O]) MutateSync(ctx context.Context, in I) (O, error) {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
	return m.run(ctx, in)
}

func (m *Mutation[I, O]) run(ctx context.Context, in I) (O, error) {
	out, err := m.fn(ctx, in)
	if err != nil {
		if m.opts.OnError != nil {
			m.opts.OnError(err, in)
		}
	} else if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(out, in)
	}
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(out, err, in)
	}

	m.mu.Lock()
	m.pending--
	pending := m.pending > 0
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(pending)
	}
	return out, err
}

// IsPending reports whether any write is in flight.
func (m *Mutation[I, O]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Subscribe registers fn to be called each time a write settles.
func (m *Mutation[I, O]) Subscribe(fn func(pending bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Wait blocks until every write started with Mutate has settled.
func (m *Mutation[I, O]) Wait() {
	m.wg.Wait()
}
