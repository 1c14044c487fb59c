package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/broker"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (i *inbox) add(m Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
}

func (i *inbox) all() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Message(nil), i.msgs...)
}

type heartbeat struct {
	Identity string `json:"identity"`
	TS       int64  `json:"ts"`
}

func TestLocalDeliveryIsSynchronous(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)
	defer bus.Close()

	var got inbox
	bus.Subscribe(got.add)
	require.NoError(t, bus.Send(TypeHeartbeat, heartbeat{Identity: "ada", TS: 1}))

	msgs := got.all()
	require.Len(t, msgs, 1, "delivered before Send returns")
	assert.Equal(t, SenderLocal, msgs[0].Sender)
	assert.Equal(t, TypeHeartbeat, msgs[0].Type)
	assert.Equal(t, bus.OriginID(), msgs[0].OriginID)
	assert.NotZero(t, msgs[0].Timestamp)

	var hb heartbeat
	require.NoError(t, msgs[0].Decode(&hb))
	assert.Equal(t, "ada", hb.Identity)
}

func TestRemoteTagAndNoEcho(t *testing.T) {
	hub := NewMemoryHub()
	a, err := NewBus(hub.Join())
	require.NoError(t, err)
	b, err := NewBus(hub.Join())
	require.NoError(t, err)

	var atA, atB inbox
	a.Subscribe(atA.add)
	b.Subscribe(atB.add)

	require.NoError(t, a.Send(TypePost, map[string]string{"id": "p1"}))

	require.Len(t, atA.all(), 1, "own channel echo dropped")
	assert.Equal(t, SenderLocal, atA.all()[0].Sender)
	require.Len(t, atB.all(), 1)
	assert.Equal(t, SenderRemote, atB.all()[0].Sender)
	assert.Equal(t, a.OriginID(), atB.all()[0].OriginID)
}

func TestSendOrderPreserved(t *testing.T) {
	hub := NewMemoryHub()
	a, _ := NewBus(hub.Join())
	b, _ := NewBus(hub.Join())

	var atB inbox
	b.Subscribe(atB.add)
	for i := 0; i < 20; i++ {
		require.NoError(t, a.Send(TypeChat, i))
	}

	msgs := atB.all()
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		var n int
		require.NoError(t, m.Decode(&n))
		assert.Equal(t, i, n)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus, _ := NewBus(nil)
	var got inbox
	unsub := bus.Subscribe(got.add)
	unsub()
	require.NoError(t, bus.Send(TypeLike, nil))
	assert.Empty(t, got.all())
}

func TestNATSChannelAcrossConnections(t *testing.T) {
	srv, err := broker.StartEmbedded(broker.Config{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	connect := func(name string) *Bus {
		nc, err := broker.Connect(srv.ClientURL(), name)
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		bus, err := NewBus(NewNATSChannel(nc, "pulse.realtime.test"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	}
	a, b := connect("tab-a"), connect("tab-b")

	var atB inbox
	b.Subscribe(atB.add)
	require.NoError(t, a.Send(TypeHeartbeat, heartbeat{Identity: "ada"}))

	require.Eventually(t, func() bool { return len(atB.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, SenderRemote, atB.all()[0].Sender)
}
