package realtime

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSChannel uses a core NATS subject on the device's server.
type NATSChannel struct {
	nc      *nats.Conn
	subject string
}

func NewNATSChannel(nc *nats.Conn, subject string) *NATSChannel {
	return &NATSChannel{nc: nc, subject: subject}
}

func (c *NATSChannel) Publish(data []byte) error {
	return c.nc.Publish(c.subject, data)
}

// Receive subscribes asynchronously; the NATS client calls the handler
// from one goroutine per subscription, which keeps delivery serial.
func (c *NATSChannel) Receive(fn func([]byte)) (func(), error) {
	sub, err := c.nc.Subscribe(c.subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	// Make sure the server knows about the subscription before returning.
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", c.subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close leaves the connection open; it belongs to the caller.
func (c *NATSChannel) Close() error {
	return c.nc.FlushTimeout(nats.DefaultTimeout)
}

// MemoryHub links in-process channels, standing in for separate processes
// in tests and single-binary setups.
type MemoryHub struct {
	mu      sync.Mutex
	members map[*MemoryChannel]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[*MemoryChannel]struct{})}
}

// Join returns a channel attached to the hub.
func (h *MemoryHub) Join() *MemoryChannel {
	c := &MemoryChannel{hub: h}
	h.mu.Lock()
	h.members[c] = struct{}{}
	h.mu.Unlock()
	return c
}

type MemoryChannel struct {
	hub *MemoryHub

	mu sync.Mutex
	fn func([]byte)
}

// Publish hands data to every member, including the sender, the way a
// broadcast subject echoes to its own subscriber.
func (c *MemoryChannel) Publish(data []byte) error {
	c.hub.mu.Lock()
	members := make([]*MemoryChannel, 0, len(c.hub.members))
	for m := range c.hub.members {
		members = append(members, m)
	}
	c.hub.mu.Unlock()

	for _, m := range members {
		m.mu.Lock()
		if m.fn != nil {
			m.fn(append([]byte(nil), data...))
		}
		m.mu.Unlock()
	}
	return nil
}

func (c *MemoryChannel) Receive(fn func([]byte)) (func(), error) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.fn = nil
		c.mu.Unlock()
	}, nil
}

func (c *MemoryChannel) Close() error {
	c.hub.mu.Lock()
	delete(c.hub.members, c)
	c.hub.mu.Unlock()
	return nil
}
