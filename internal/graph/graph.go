// Package graph is the boundary to the eventually consistent graph store
// that holds the shared gallery, the artist registry and presence.
//
// The store is addressed as soul -> record key -> field. A soul is a
// top-level node, a record is a flat map of scalar fields. Writes merge
// field by field, last write wins. Subscribers see the existing records once
// and then every change.
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/rs/zerolog"
)

// Record is one keyed entry inside a soul.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// ChangeFunc receives the fields of key that changed.
type ChangeFunc func(key string, fields Record)

// Backend stores and watches records. Implementations must deliver the
// callbacks of a single Watch serially.
type Backend interface {
	Name() string
	Put(ctx context.Context, soul, key string, fields Record) error
	// Read returns nil when the record does not exist.
	Read(ctx context.Context, soul, key string) (Record, error)
	// Watch replays the current records of soul and then streams changes
	// until stop is called.
	Watch(soul string, fn ChangeFunc) (stop func(), err error)
	Close() error
}

var (
	ErrClosed   = errors.New("graph: closed")
	ErrNotField = errors.New("graph: put on a soul node needs a record key")
)

const writeQueueSize = 1024

type writeOp struct {
	ctx    context.Context
	soul   string
	key    string
	fields Record
	done   chan error
}

// Graph serializes writes to a backend in submission order and fans
// subscriptions out to nodes.
type Graph struct {
	backend Backend
	log     zerolog.Logger

	writes chan writeOp
	quit   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New starts the graph's writer.
func New(backend Backend) *Graph {
	g := &Graph{
		backend: backend,
		log:     logging.Component("graph").With().Str("backend", backend.Name()).Logger(),
		writes:  make(chan writeOp, writeQueueSize),
		quit:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	g.wg.Add(1)
	go g.runWriter()
	return g
}

func (g *Graph) runWriter() {
	defer g.wg.Done()
	for {
		select {
		case op := <-g.writes:
			g.apply(op)
		case <-g.quit:
			// Drain whatever was accepted before Close.
			for {
				select {
				case op := <-g.writes:
					g.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (g *Graph) apply(op writeOp) {
	start := time.Now()
	err := g.backend.Put(op.ctx, op.soul, op.key, op.fields)
	metrics.GraphWriteDuration.WithLabelValues(g.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GraphWrites.WithLabelValues(g.backend.Name(), "error").Inc()
		g.log.Warn().Err(err).Str("soul", op.soul).Str("key", op.key).Msg("graph put failed")
	} else {
		metrics.GraphWrites.WithLabelValues(g.backend.Name(), "ok").Inc()
	}
	op.done <- err
	close(op.done)
}

// Get returns the node for a soul.
func (g *Graph) Get(soul string) *Node {
	return &Node{g: g, path: []string{soul}}
}

// Close stops accepting writes, flushes queued ones and closes the backend.
func (g *Graph) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.closed)
		close(g.quit)
		g.wg.Wait()
		err = g.backend.Close()
	})
	return err
}

func (g *Graph) enqueue(ctx context.Context, soul, key string, fields Record) <-chan error {
	done := make(chan error, 1)
	op := writeOp{
		// Writes outlive the caller; there is no cancellation of in-flight writes.
		ctx:    context.WithoutCancel(ctx),
		soul:   soul,
		key:    key,
		fields: fields.Clone(),
		done:   done,
	}
	select {
	case <-g.closed:
		done <- ErrClosed
		close(done)
		return done
	default:
	}
	select {
	case g.writes <- op:
	case <-g.closed:
		done <- ErrClosed
		close(done)
	case <-ctx.Done():
		done <- ctx.Err()
		close(done)
	}
	return done
}

// Node addresses a soul, a record or a single field.
type Node struct {
	g    *Graph
	path []string

	mu   sync.Mutex
	offs []func()
}

// Get descends one level: soul -> record -> field.
func (n *Node) Get(sub string) *Node {
	path := append(append([]string(nil), n.path...), sub)
	return &Node{g: n.g, path: path}
}

// Path is the dotted address of the node, for logs.
func (n *Node) Path() string {
	return strings.Join(n.path, ".")
}

// Put writes value without waiting. The returned channel yields the
// backend's result once and is then closed; callers may ignore it.
//
// On a record node value must be a Record (or map[string]any) and is merged
// field by field. On a field node value is the field's new scalar.
func (n *Node) Put(ctx context.Context, value any) <-chan error {
	switch len(n.path) {
	case 2:
		fields, err := asRecord(value)
		if err != nil {
			return failed(err)
		}
		return n.g.enqueue(ctx, n.path[0], n.path[1], fields)
	case 3:
		return n.g.enqueue(ctx, n.path[0], n.path[1], Record{n.path[2]: value})
	default:
		return failed(fmt.Errorf("%w: %s", ErrNotField, n.Path()))
	}
}

func asRecord(v any) (Record, error) {
	switch r := v.(type) {
	case Record:
		return r, nil
	case map[string]any:
		return Record(r), nil
	default:
		return nil, fmt.Errorf("graph: record put needs a map, got %T", v)
	}
}

func failed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// Once reads the current value of a record node, or of a field node wrapped
// in a one-field Record. A missing record yields (nil, nil).
func (n *Node) Once(ctx context.Context) (Record, error) {
	if len(n.path) < 2 {
		return nil, fmt.Errorf("graph: once needs a record node, got %s", n.Path())
	}
	rec, err := n.g.backend.Read(ctx, n.path[0], n.path[1])
	if err != nil || rec == nil {
		return nil, err
	}
	if len(n.path) == 3 {
		v, ok := rec[n.path[2]]
		if !ok {
			return nil, nil
		}
		return Record{n.path[2]: v}, nil
	}
	return rec, nil
}

// On subscribes to the node. On a soul node fn sees every record (the
// map().on pattern); on a record node only that record. The returned func
// detaches this subscription; Off detaches all of them.
func (n *Node) On(fn ChangeFunc) (func(), error) {
	soul := n.path[0]
	var key string
	if len(n.path) >= 2 {
		key = n.path[1]
	}
	cb := fn
	if key != "" {
		cb = func(k string, fields Record) {
			if k == key {
				fn(k, fields)
			}
		}
	}

	stop, err := n.g.backend.Watch(soul, cb)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", n.Path(), err)
	}

	var once sync.Once
	off := func() { once.Do(stop) }

	n.mu.Lock()
	n.offs = append(n.offs, off)
	n.mu.Unlock()
	return off, nil
}

// Off detaches every subscription made through this node.
func (n *Node) Off() {
	n.mu.Lock()
	offs := n.offs
	n.offs = nil
	n.mu.Unlock()
	for _, off := range offs {
		off()
	}
}
