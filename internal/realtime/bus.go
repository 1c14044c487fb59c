// Package realtime is the same-device broadcast bus. It fans events out to
// every subscriber in this process immediately and to the other pulse
// processes on the device through a cross-process channel.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/rs/zerolog"
)

type Sender string

const (
	SenderLocal  Sender = "local"
	SenderRemote Sender = "remote"
)

// Well-known message types.
const (
	TypeHeartbeat    = "heartbeat"
	TypePost         = "post"
	TypeLike         = "like"
	TypeFollow       = "follow"
	TypeChat         = "chat"
	TypeNotification = "notification"
)

// Message is what subscribers receive. Timestamp is unix milliseconds.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OriginID  string          `json:"originId"`
	Timestamp int64           `json:"timestamp"`
	Sender    Sender          `json:"-"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Channel carries encoded messages between processes. Receive callbacks
// must be delivered serially.
type Channel interface {
	Publish(data []byte) error
	Receive(fn func(data []byte)) (stop func(), err error)
	Close() error
}

// Bus stamps, delivers and forwards messages.
type Bus struct {
	originID string
	channel  Channel
	now      func() time.Time
	log      zerolog.Logger

	// sendMu keeps per-process send order on the channel.
	sendMu sync.Mutex

	mu     sync.RWMutex
	subs   map[uint64]func(Message)
	nextID uint64

	stopRecv func()
}

// NewBus attaches to channel. A nil channel keeps the bus process-local.
func NewBus(channel Channel) (*Bus, error) {
	b := &Bus{
		originID: uuid.NewString(),
		channel:  channel,
		now:      time.Now,
		log:      logging.Component("realtime"),
		subs:     make(map[uint64]func(Message)),
	}
	if channel != nil {
		stop, err := channel.Receive(b.receive)
		if err != nil {
			return nil, fmt.Errorf("attach broadcast channel: %w", err)
		}
		b.stopRecv = stop
	}
	return b, nil
}

// OriginID identifies this process on the channel.
func (b *Bus) OriginID() string { return b.originID }

// Send delivers to local subscribers before returning, then forwards to
// other processes. Forwarding failures are logged, not returned: the bus
// only makes same-device views feel live.
func (b *Bus) Send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg := Message{
		Type:      msgType,
		Payload:   raw,
		OriginID:  b.originID,
		Timestamp: b.now().UnixMilli(),
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	local := msg
	local.Sender = SenderLocal
	b.deliver(local)

	if b.channel == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}
	if err := b.channel.Publish(data); err != nil {
		b.log.Warn().Err(err).Str("type", msgType).Msg("broadcast publish failed")
	}
	return nil
}

func (b *Bus) receive(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.log.Debug().Err(err).Msg("dropping undecodable broadcast")
		return
	}
	if msg.OriginID == b.originID {
		return
	}
	msg.Sender = SenderRemote
	b.deliver(msg)
}

func (b *Bus) deliver(msg Message) {
	b.mu.RLock()
	subs := make([]func(Message), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	metrics.BusMessages.WithLabelValues(string(msg.Sender), msg.Type).Inc()
	for _, fn := range subs {
		fn(msg)
	}
}

// Subscribe registers fn for every message, local and remote.
func (b *Bus) Subscribe(fn func(Message)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Close detaches from the channel.
func (b *Bus) Close() error {
	if b.stopRecv != nil {
		b.stopRecv()
	}
	if b.channel != nil {
		return b.channel.Close()
	}
	return nil
}

// Run blocks until ctx ends, then closes the bus.
func (b *Bus) Run(ctx context.Context) error {
	<-ctx.Done()
	return b.Close()
}
