package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BatchCommitted(3, nil)
	m.BatchCommitted(1, errors.New("disk full"))
	m.AuthzRejected("role")
	m.ActivityDropped()
	m.StateTransition("suspension", "rejected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchCommits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchCommits.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authzRejections.WithLabelValues("role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activityDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("suspension", "rejected")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchCommitted(1, nil)
		m.AuthzRejected("approved")
		m.ActivityDropped()
		m.StateTransition("approval", "applied")
	})
}
