// Package feed turns the graph's live, out-of-order record events into
// ordered, decoded collections the UI can read synchronously or subscribe to.
package feed

import (
	"reflect"
	"sync"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/rs/zerolog"
)

// DecodeFunc builds a T from a record's merged raw fields. It reports
// fields it could not decode through report and substitutes defaults; it
// returns false only when the record is not usable at all (e.g. no id yet).
type DecodeFunc[T any] func(key string, raw graph.Record, report func(field string, err error)) (T, bool)

// KeyedRecordStore keeps the latest raw fields and decoded value per key.
// Field updates merge into the raw entry (last applied wins per field) and
// the entry is re-decoded as a whole.
type KeyedRecordStore[T any] struct {
	name   string
	decode DecodeFunc[T]
	log    zerolog.Logger

	mu      sync.RWMutex
	raw     map[string]graph.Record
	decoded map[string]T
}

func NewKeyedRecordStore[T any](name string, decode DecodeFunc[T]) *KeyedRecordStore[T] {
	return &KeyedRecordStore[T]{
		name:    name,
		decode:  decode,
		log:     logging.Component("feed").With().Str("feed", name).Logger(),
		raw:     make(map[string]graph.Record),
		decoded: make(map[string]T),
	}
}

// Apply merges fields into key's entry. It reports whether the decoded
// collection may have changed; re-applying identical fields returns false.
func (s *KeyedRecordStore[T]) Apply(key string, fields graph.Record) bool {
	if len(fields) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.raw[key]
	merged := prev.Clone()
	if merged == nil {
		merged = make(graph.Record, len(fields))
	}
	for f, v := range fields {
		merged[f] = v
	}
	if prev != nil && reflect.DeepEqual(prev, merged) {
		return false
	}
	s.raw[key] = merged
	metrics.RecordsApplied.WithLabelValues(s.name).Inc()

	v, ok := s.decode(key, merged, func(field string, err error) {
		metrics.DecodeFailures.WithLabelValues(s.name, field).Inc()
		s.log.Debug().Err(err).Str("key", key).Str("field", field).Msg("nested field fell back to default")
	})
	if !ok {
		_, had := s.decoded[key]
		delete(s.decoded, key)
		return had
	}
	s.decoded[key] = v
	return true
}

// Get returns the decoded entry for key.
func (s *KeyedRecordStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.decoded[key]
	return v, ok
}

// Raw returns a copy of key's merged raw fields.
func (s *KeyedRecordStore[T]) Raw(key string) graph.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw[key].Clone()
}

// Snapshot returns every decoded entry in unspecified order.
func (s *KeyedRecordStore[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.decoded))
	for _, v := range s.decoded {
		out = append(out, v)
	}
	return out
}

func (s *KeyedRecordStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decoded)
}
