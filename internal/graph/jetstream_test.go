package graph

import (
	"context"
	"testing"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJetStreamGraph(t *testing.T) (*Graph, *Graph) {
	t.Helper()
	srv, err := broker.StartEmbedded(broker.Config{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	open := func(name string) *Graph {
		nc, err := broker.Connect(srv.ClientURL(), name)
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		js, err := broker.JetStream(nc)
		require.NoError(t, err)
		backend, err := NewJetStream(context.Background(), js, "pulse_graph_test")
		require.NoError(t, err)
		g := New(backend)
		t.Cleanup(func() { _ = g.Close() })
		return g
	}
	return open("device-a"), open("device-b")
}

func TestJetStreamConvergesAcrossDevices(t *testing.T) {
	a, b := newJetStreamGraph(t)
	ctx := context.Background()

	require.NoError(t, <-a.Get("cp_v2_global_gallery_mesh").Get("p1").Put(ctx, Record{"id": "p1", "caption": "sunset"}))

	var rec recorder
	_, err := b.Get("cp_v2_global_gallery_mesh").On(rec.fn)
	require.NoError(t, err)
	waitFor(t, func() bool { return rec.len() == 1 })
	assert.Equal(t, Record{"id": "p1", "caption": "sunset"}, rec.last().fields)

	require.NoError(t, <-a.Get("cp_v2_global_gallery_mesh").Get("p1").Get("rating").Put(ctx, 4))
	waitFor(t, func() bool { return rec.len() == 2 })
	assert.Equal(t, "p1", rec.last().key)
	assert.Equal(t, float64(4), rec.last().fields["rating"])

	got, err := b.Get("cp_v2_global_gallery_mesh").Get("p1").Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sunset", got["caption"])
	assert.Equal(t, float64(4), got["rating"])
}

func TestJetStreamEncodesAwkwardKeys(t *testing.T) {
	a, _ := newJetStreamGraph(t)
	ctx := context.Background()

	require.NoError(t, <-a.Get("cp_v2_global_user_mesh").Get("ada.lovelace").Put(ctx, Record{"name": "Ada.Lovelace"}))
	got, err := a.Get("cp_v2_global_user_mesh").Get("ada.lovelace").Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada.Lovelace", got["name"])
}
