package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(DecodeFailures.WithLabelValues("posts", "comments"))
	DecodeFailures.WithLabelValues("posts", "comments").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DecodeFailures.WithLabelValues("posts", "comments")))
}

func TestGaugeSet(t *testing.T) {
	PresenceOnline.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(PresenceOnline))
}
