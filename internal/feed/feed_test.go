package feed

import (
	"context"
	"io"
	"testing"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newGraph(t *testing.T) *graph.Graph {
	t.Helper()
	backend, err := graph.NewLocal(nil)
	require.NoError(t, err)
	g := graph.New(backend)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func await(t *testing.T, ack <-chan error) {
	t.Helper()
	require.NoError(t, Wait(context.Background(), ack))
}
