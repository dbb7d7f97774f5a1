package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageSent()
	m.StatusTransition("delivered")
	m.EventDropped("receive-message", "buffer_full")

	require.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DroppedEvents.WithLabelValues("receive-message", "buffer_full")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnectionOpened()
		m.SetOnlineUsers(3)
		m.EventError("join", "validation")
	})
}
