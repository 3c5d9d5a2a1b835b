package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHostMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHost(reg)

	m.Tick()
	m.Tick()
	m.ClassifierFailed()
	m.ObserveClassify(20 * time.Millisecond)
	m.EventDetected("siren")
	m.Published("/result", nil)
	m.Published("/result", errors.New("offline"))
	m.HeartbeatSent()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifierFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.classifyLatency))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDetected.WithLabelValues("siren")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("/result", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("/result", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeatsSent))
}

func TestCompanionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCompanion(reg)

	m.HeartbeatObserved()
	m.SetPeerAlive(true)
	m.Alert(AlertRaised)
	m.Alert(AlertSuppressed)
	m.Alert(AlertSuppressed)
	m.SetAlertActive(true)
	m.LogConflict()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeatsObserved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerAlive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.alerts.WithLabelValues(AlertSuppressed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logConflicts))

	m.SetPeerAlive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.peerAlive))
}

func TestNilMetrics(t *testing.T) {
	var h *Host
	var c *Companion
	assert.NotPanics(t, func() {
		h.Tick()
		h.Published("/count", nil)
		c.Alert(AlertExpired)
		c.SetAlertActive(false)
	})
}
