package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStream stores each record field as its own key in a JetStream
// key-value bucket (soul.key.field), so concurrent writers to different
// fields never clobber each other. Every device attached to the same NATS
// deployment converges on the bucket's latest values.
type JetStream struct {
	kv  jetstream.KeyValue
	log zerolog.Logger

	mu      sync.Mutex
	cancels map[*struct{}]context.CancelFunc
	wg      sync.WaitGroup
}

// NewJetStream binds to (or creates) the bucket.
func NewJetStream(ctx context.Context, js jetstream.JetStream, bucket string) (*JetStream, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "pulse graph records, one key per field",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return &JetStream{
		kv:      kv,
		log:     logging.Component("graph").With().Str("bucket", bucket).Logger(),
		cancels: make(map[*struct{}]context.CancelFunc),
	}, nil
}

func (j *JetStream) Name() string { return "jetstream" }

func (j *JetStream) Put(ctx context.Context, soul, key string, fields Record) error {
	var errs []error
	for field, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", field, err))
			continue
		}
		if _, err := j.kv.Put(ctx, fieldKey(soul, key, field), data); err != nil {
			errs = append(errs, fmt.Errorf("put %s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}

func (j *JetStream) Read(ctx context.Context, soul, key string) (Record, error) {
	w, err := j.kv.Watch(ctx, encodeSegment(soul)+"."+encodeSegment(key)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", soul, key, err)
	}
	defer w.Stop()

	var rec Record
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				// nil marks the end of the initial values.
				return rec, nil
			}
			_, _, field, ok := parseFieldKey(entry.Key())
			if !ok {
				continue
			}
			var v any
			if err := json.Unmarshal(entry.Value(), &v); err != nil {
				j.log.Debug().Err(err).Str("key", entry.Key()).Msg("skipping undecodable value")
				continue
			}
			if rec == nil {
				rec = make(Record)
			}
			rec[field] = v
		}
	}
}

// Watch groups the initial values per record before delivering them, then
// streams single-field changes.
func (j *JetStream) Watch(soul string, fn ChangeFunc) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := j.kv.Watch(ctx, encodeSegment(soul)+".>", jetstream.IgnoreDeletes())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", soul, err)
	}

	token := &struct{}{}
	j.mu.Lock()
	j.cancels[token] = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer w.Stop()
		j.pump(ctx, w, fn)
	}()

	stop := func() {
		j.mu.Lock()
		delete(j.cancels, token)
		j.mu.Unlock()
		cancel()
	}
	return stop, nil
}

func (j *JetStream) pump(ctx context.Context, w jetstream.KeyWatcher, fn ChangeFunc) {
	initial := make(map[string]Record)
	replaying := true
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			if entry == nil {
				for key, rec := range initial {
					fn(key, rec)
				}
				initial = nil
				replaying = false
				continue
			}
			_, key, field, ok := parseFieldKey(entry.Key())
			if !ok {
				continue
			}
			var v any
			if err := json.Unmarshal(entry.Value(), &v); err != nil {
				j.log.Debug().Err(err).Str("key", entry.Key()).Msg("skipping undecodable value")
				continue
			}
			if replaying {
				if initial[key] == nil {
					initial[key] = make(Record)
				}
				initial[key][field] = v
				continue
			}
			fn(key, Record{field: v})
		}
	}
}

// Close stops all watchers. The NATS connection is owned by the caller.
func (j *JetStream) Close() error {
	j.mu.Lock()
	for token, cancel := range j.cancels {
		cancel()
		delete(j.cancels, token)
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("graph: timed out stopping jetstream watchers")
	}
}
