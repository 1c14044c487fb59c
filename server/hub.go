// Package server serves the browser UI of this device: a websocket hub
// that fans live state out to tabs, and the JSON API behind it.
package server

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/metrics"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/protocol"
)

const sendBufferSize = 256

// Client represents a connected browser tab.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	user   *models.User
	topics map[string]bool
	voice  *voiceBridge
}

// Hub manages tab connections and topic fan-out.
type Hub struct {
	log zerolog.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex
	topics    map[string]map[*Client]bool // topic -> clients
	topicsMu  sync.RWMutex

	broadcast chan topicMessage

	// onSubscribe sends the current state of a topic to a new subscriber.
	onSubscribe func(c *Client, topic string)
}

type topicMessage struct {
	topic string
	data  []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		log:       logging.Component("hub"),
		clients:   make(map[*Client]bool),
		topics:    make(map[string]map[*Client]bool),
		broadcast: make(chan topicMessage, sendBufferSize),
	}
}

// Serve fans broadcasts out until ctx ends, then disconnects every tab.
// It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case msg := <-h.broadcast:
			h.topicsMu.RLock()
			subs := make([]*Client, 0, len(h.topics[msg.topic]))
			for c := range h.topics[msg.topic] {
				subs = append(subs, c)
			}
			h.topicsMu.RUnlock()

			for _, c := range subs {
				if !c.trySend(msg.data) {
					// Slow tab, disconnect it.
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()
	if !ok {
		return
	}
	metrics.UIClients.Set(float64(n))

	client.mu.Lock()
	topics := client.topics
	client.topics = make(map[string]bool)
	bridge := client.voice
	client.voice = nil
	client.mu.Unlock()

	for topic := range topics {
		h.removeFromTopic(client, topic)
	}
	if bridge != nil {
		bridge.Close()
	}
	h.log.Debug().Str("user", client.Alias()).Msg("tab disconnected")
}

func (h *Hub) closeAll() {
	for _, c := range h.Clients() {
		h.drop(c)
	}
}

// Subscribe adds a client to a topic and hands it the topic's current state.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.topicsMu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	h.topicsMu.Unlock()

	client.mu.Lock()
	client.topics[topic] = true
	client.mu.Unlock()

	if h.onSubscribe != nil {
		h.onSubscribe(client, topic)
	}
}

// Unsubscribe removes a client from a topic.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.removeFromTopic(client, topic)

	client.mu.Lock()
	delete(client.topics, topic)
	client.mu.Unlock()
}

func (h *Hub) removeFromTopic(client *Client, topic string) {
	h.topicsMu.Lock()
	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}
	h.topicsMu.Unlock()
}

// Publish sends the same envelope to every subscriber of topic.
func (h *Hub) Publish(topic string, msgType protocol.MessageType, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(msgType)).Msg("failed to encode envelope")
		return
	}
	select {
	case h.broadcast <- topicMessage{topic: topic, data: data}:
	default:
		h.log.Warn().Str("topic", topic).Msg("broadcast queue full, dropping update")
	}
}

// Subscribers returns the clients subscribed to topic, for per-tab views.
func (h *Hub) Subscribers(topic string) []*Client {
	h.topicsMu.RLock()
	defer h.topicsMu.RUnlock()
	out := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		out = append(out, c)
	}
	return out
}

// NewClient creates a new client for the hub.
func (h *Hub) NewClient(conn *websocket.Conn, user *models.User) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		user:   user,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
	}
}

// Register registers a client with the hub. Sends to it are accepted
// once Register returns.
func (h *Hub) Register(client *Client) {
	h.clientsMu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	metrics.UIClients.Set(float64(n))
	h.log.Debug().Str("user", client.Alias()).Msg("tab connected")
}

// Unregister unregisters a client from the hub. It is safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.drop(client)
}

// Clients returns all connected clients.
func (h *Hub) Clients() []*Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// trySend queues data unless the buffer is full or the client is gone.
func (c *Client) trySend(data []byte) (ok bool) {
	c.hub.clientsMu.RLock()
	defer c.hub.clientsMu.RUnlock()
	if !c.hub.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SendEnvelope sends a protocol envelope to the client.
func (c *Client) SendEnvelope(msgType protocol.MessageType, data any) error {
	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}
	c.trySend(raw)
	return nil
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) {
	_ = c.SendEnvelope(protocol.TypeError, protocol.ErrorMessage{
		Code:    code,
		Message: message,
	})
}

// User returns the tab's user, nil for anonymous tabs.
func (c *Client) User() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Alias is the tab user's alias or "".
func (c *Client) Alias() string {
	if u := c.User(); u != nil {
		return u.Name
	}
	return ""
}

// Conn returns the client's WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the client's send channel.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

func (h *Hub) String() string { return "ui-hub" }
