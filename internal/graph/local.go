package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Local keeps the graph in process memory and, when given a badger
// database, writes every merged record through to it so the replica
// survives restarts. Changes are delivered to watchers synchronously,
// which gives local echo of this device's own writes.
type Local struct {
	db        *badger.DB
	ephemeral map[string]bool

	mu       sync.RWMutex
	souls    map[string]map[string]Record
	watchers map[string]map[*watcher]struct{}
	closed   bool
}

type watcher struct {
	mu     sync.Mutex
	fn     ChangeFunc
	active bool
}

func (w *watcher) deliver(key string, fields Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		w.fn(key, fields)
	}
}

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// WithEphemeralSouls keeps the named souls in memory only. They are never
// written to badger and any copy left from older runs is ignored on load.
func WithEphemeralSouls(souls ...string) LocalOption {
	return func(l *Local) {
		for _, s := range souls {
			l.ephemeral[s] = true
		}
	}
}

// NewLocal opens a local backend. db may be nil for a memory-only graph.
func NewLocal(db *badger.DB, opts ...LocalOption) (*Local, error) {
	l := &Local{
		db:        db,
		ephemeral: make(map[string]bool),
		souls:     make(map[string]map[string]Record),
		watchers:  make(map[string]map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if db != nil {
		if err := l.load(); err != nil {
			return nil, fmt.Errorf("load graph replica: %w", err)
		}
	}
	return l, nil
}

// OpenBadger opens the replica directory. An empty dir gives an in-memory
// database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

const keySep = "\x00"

func badgerKey(soul, key string) []byte {
	return []byte(soul + keySep + key)
}

func (l *Local) load() error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			soul, key, ok := strings.Cut(string(item.Key()), keySep)
			if !ok || l.ephemeral[soul] {
				continue
			}
			err := item.Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode %s/%s: %w", soul, key, err)
				}
				l.recordsOf(soul)[key] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Local) recordsOf(soul string) map[string]Record {
	recs, ok := l.souls[soul]
	if !ok {
		recs = make(map[string]Record)
		l.souls[soul] = recs
	}
	return recs
}

func (l *Local) Name() string { return "local" }

func (l *Local) Put(ctx context.Context, soul, key string, fields Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	recs := l.recordsOf(soul)
	merged := recs[key].Clone()
	if merged == nil {
		merged = make(Record, len(fields))
	}
	for f, v := range fields {
		merged[f] = v
	}

	if l.db != nil && !l.ephemeral[soul] {
		data, err := json.Marshal(merged)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("encode %s/%s: %w", soul, key, err)
		}
		err = l.db.Update(func(txn *badger.Txn) error {
			return txn.Set(badgerKey(soul, key), data)
		})
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("persist %s/%s: %w", soul, key, err)
		}
	}
	recs[key] = merged
	ws := l.watchersOf(soul)
	l.mu.Unlock()

	for _, w := range ws {
		w.deliver(key, fields.Clone())
	}
	return nil
}

func (l *Local) watchersOf(soul string) []*watcher {
	ws := make([]*watcher, 0, len(l.watchers[soul]))
	for w := range l.watchers[soul] {
		ws = append(ws, w)
	}
	return ws
}

func (l *Local) Read(ctx context.Context, soul, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.souls[soul][key].Clone(), nil
}

// Watch replays the soul's records and then delivers changes. stop must not
// be called from inside fn.
func (l *Local) Watch(soul string, fn ChangeFunc) (func(), error) {
	w := &watcher{fn: fn, active: true}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.watchers[soul] == nil {
		l.watchers[soul] = make(map[*watcher]struct{})
	}
	l.watchers[soul][w] = struct{}{}
	existing := make(map[string]Record, len(l.souls[soul]))
	for k, rec := range l.souls[soul] {
		existing[k] = rec.Clone()
	}
	// Hold the watcher before releasing the store so live changes queue
	// behind the replay.
	w.mu.Lock()
	l.mu.Unlock()

	for k, rec := range existing {
		w.fn(k, rec)
	}
	w.mu.Unlock()

	stop := func() {
		l.mu.Lock()
		delete(l.watchers[soul], w)
		l.mu.Unlock()
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
	}
	return stop, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.watchers = make(map[string]map[*watcher]struct{})
	l.mu.Unlock()

	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
