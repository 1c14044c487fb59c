package feed

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
)

// Codec converts between T and its graph record.
type Codec[T any] struct {
	Key     func(T) string
	Decode  DecodeFunc[T]
	Encode  func(T) (graph.Record, error)
	Compare func(a, b T) int
}

// Reconciler materializes one graph soul into an ordered []T. Subscribers
// get the full snapshot on every change; SnapshotSync answers without
// waiting on the network.
type Reconciler[T any] struct {
	name  string
	node  *graph.Node
	codec Codec[T]
	store *KeyedRecordStore[T]

	// notifyMu serializes snapshot delivery so no subscriber sees an older
	// snapshot after a newer one.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	snapshot []T
	subs     map[string]subscription[T]
	order    []string
	gen      uint64
	off      func()
}

type subscription[T any] struct {
	fn  func([]T)
	gen uint64
}

func NewReconciler[T any](name string, node *graph.Node, codec Codec[T]) *Reconciler[T] {
	return &Reconciler[T]{
		name:  name,
		node:  node,
		codec: codec,
		store: NewKeyedRecordStore(name, codec.Decode),
		subs:  make(map[string]subscription[T]),
	}
}

// Start attaches to the graph. Existing records are replayed before it
// returns for backends that replay synchronously.
func (r *Reconciler[T]) Start() error {
	r.mu.Lock()
	if r.off != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	off, err := r.node.On(r.onChange)
	if err != nil {
		return fmt.Errorf("start %s feed: %w", r.name, err)
	}

	r.mu.Lock()
	r.off = off
	r.mu.Unlock()
	return nil
}

// Close detaches from the graph. Subscriptions stay registered but receive
// nothing further.
func (r *Reconciler[T]) Close() {
	r.mu.Lock()
	off := r.off
	r.off = nil
	r.mu.Unlock()
	if off != nil {
		off()
	}
}

func (r *Reconciler[T]) onChange(key string, fields graph.Record) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	if !r.store.Apply(key, fields) {
		return
	}
	snap := r.store.Snapshot()
	if r.codec.Compare != nil {
		slices.SortFunc(snap, r.codec.Compare)
	}
	metrics.SnapshotSize.WithLabelValues(r.name).Set(float64(len(snap)))

	r.mu.Lock()
	r.snapshot = snap
	subs := r.subscribersLocked()
	r.mu.Unlock()

	for _, fn := range subs {
		fn(slices.Clone(snap))
	}
}

func (r *Reconciler[T]) subscribersLocked() []func([]T) {
	out := make([]func([]T), 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id].fn)
	}
	return out
}

// Subscribe registers fn under id and delivers the current snapshot to it.
// Subscribing again with the same id replaces the earlier callback rather
// than adding a second one. fn must not call Subscribe, and must not block
// on a write's acknowledgement.
func (r *Reconciler[T]) Subscribe(id string, fn func([]T)) (unsubscribe func()) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, exists := r.subs[id]; !exists {
		r.order = append(r.order, id)
	}
	r.gen++
	gen := r.gen
	r.subs[id] = subscription[T]{fn: fn, gen: gen}
	snap := slices.Clone(r.snapshot)
	r.mu.Unlock()

	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(id, gen) })
	}
}

func (r *Reconciler[T]) unsubscribe(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A replaced registration must not be removed by the stale handle.
	if cur, ok := r.subs[id]; !ok || cur.gen != gen {
		return
	}
	delete(r.subs, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

// Subscribers returns the number of registered subscribers.
func (r *Reconciler[T]) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// SnapshotSync returns the latest materialized collection.
func (r *Reconciler[T]) SnapshotSync() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.snapshot)
}

// Get returns one decoded record from the cache.
func (r *Reconciler[T]) Get(key string) (T, bool) {
	return r.store.Get(key)
}

// Write encodes v and puts it at its key without waiting. The channel
// reports the store's result.
func (r *Reconciler[T]) Write(ctx context.Context, v T) <-chan error {
	rec, err := r.codec.Encode(v)
	if err != nil {
		ch := make(chan error, 1)
		ch <- fmt.Errorf("encode %s record: %w", r.name, err)
		close(ch)
		return ch
	}
	return r.node.Get(r.codec.Key(v)).Put(ctx, rec)
}

// WriteFields puts only the named fields of key.
func (r *Reconciler[T]) WriteFields(ctx context.Context, key string, fields graph.Record) <-chan error {
	return r.node.Get(key).Put(ctx, fields)
}

// ReadField fetches one field of key from the store rather than the cache,
// as the read half of a read-modify-write.
func (r *Reconciler[T]) ReadField(ctx context.Context, key, field string) (any, bool, error) {
	rec, err := r.node.Get(key).Get(field).Once(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := rec[field]
	return v, ok, nil
}

// UpdateField reads one field of key, passes it through fn and writes the
// result back. Concurrent updates of the same field can lose each other.
func (r *Reconciler[T]) UpdateField(ctx context.Context, key, field string, fn func(raw any) (any, error)) <-chan error {
	ch := make(chan error, 1)
	raw, _, err := r.ReadField(ctx, key, field)
	if err != nil {
		ch <- fmt.Errorf("read %s of %s: %w", field, key, err)
		close(ch)
		return ch
	}
	next, err := fn(raw)
	if err != nil {
		ch <- err
		close(ch)
		return ch
	}
	return r.WriteFields(ctx, key, graph.Record{field: next})
}
