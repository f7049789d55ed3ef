package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
)

func TestStateHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)
	hook := m.StateHook("lamp-1")

	hook(connection.StateIdle, connection.StateConnecting)
	hook(connection.StateConnecting, connection.StateHandshaking)
	hook(connection.StateHandshaking, connection.StateSubscribing)
	hook(connection.StateSubscribing, connection.StateStreaming)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionStatus.WithLabelValues("lamp-1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("lamp-1")))

	hook(connection.StateStreaming, connection.StateBackoff)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionStatus.WithLabelValues("lamp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("lamp-1")))

	hook(connection.StateBackoff, connection.StateIdle)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionStatus.WithLabelValues("lamp-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("lamp-1", "STREAMING")))
}

func TestAuthHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	hook := m.AuthHook("lamp-1")
	hook(errors.New("handshake rejected"))
	hook(errors.New("handshake rejected"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("lamp-1")))
}

func TestRegisterLiveness(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	var last time.Time
	require.NoError(t, m.RegisterLiveness("test", "lamp-1", func() time.Time { return last }))

	families, err := reg.Gather()
	require.NoError(t, err)
	value := func() float64 {
		families, err = reg.Gather()
		require.NoError(t, err)
		for _, f := range families {
			if f.GetName() == "test_seconds_since_last_data" {
				return f.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("gauge not found")
		return 0
	}

	assert.Equal(t, -1.0, value(), "no data yet")

	last = time.Now().Add(-90 * time.Second)
	assert.InDelta(t, 90.0, value(), 2.0)

	// Registering the same device twice collides.
	err = m.RegisterLiveness("test", "lamp-1", func() time.Time { return last })
	assert.Error(t, err)
}
