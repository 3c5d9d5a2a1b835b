// Package metrics 两个服务的 prometheus 指标
//
// 指标注册在调用方提供的 Registerer 上（测试使用独立的 Registry）。
// 所有方法对 nil 接收者安全，组件可以不带指标运行。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 报警结果
const (
	AlertRaised        = "raised"
	AlertSuppressed    = "suppressed"
	AlertExpired       = "expired"
	AlertDismissed     = "dismissed"
	AlertPersistFailed = "persist_failed"
)

// Host 检测服务指标
type Host struct {
	ticks              prometheus.Counter
	classifierFailures prometheus.Counter
	classifyLatency    prometheus.Histogram
	eventsDetected     *prometheus.CounterVec
	published          *prometheus.CounterVec
	heartbeatsSent     prometheus.Counter
}

// NewHost 创建并注册检测服务指标
func NewHost(reg prometheus.Registerer) *Host {
	m := &Host{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helga_sample_ticks_total",
			Help: "Sampling loop ticks executed.",
		}),
		classifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helga_classifier_failures_total",
			Help: "Classifier invocations that failed and were skipped.",
		}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helga_classify_latency_seconds",
			Help:    "Latency of one classifier invocation.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		eventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helga_events_detected_total",
			Help: "Classifications that passed the event filter.",
		}, []string{"label"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helga_peer_publish_total",
			Help: "Peer link sends by path and result.",
		}, []string{"path", "result"}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helga_heartbeats_sent_total",
			Help: "Heartbeat counters written to /count.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.classifierFailures, m.classifyLatency,
			m.eventsDetected, m.published, m.heartbeatsSent)
	}
	return m
}

// Tick 一次采样 tick
func (m *Host) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// ClassifierFailed 分类失败
func (m *Host) ClassifierFailed() {
	if m == nil {
		return
	}
	m.classifierFailures.Inc()
}

// ObserveClassify 记录分类耗时
func (m *Host) ObserveClassify(d time.Duration) {
	if m == nil {
		return
	}
	m.classifyLatency.Observe(d.Seconds())
}

// EventDetected 事件通过过滤
func (m *Host) EventDetected(label string) {
	if m == nil {
		return
	}
	m.eventsDetected.WithLabelValues(label).Inc()
}

// HeartbeatSent 发送一次心跳
func (m *Host) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// Published 发送结果（可直接作为 peerlink.PublishObserver）
func (m *Host) Published(path string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(path, result(err)).Inc()
}

// Companion 报警服务指标
type Companion struct {
	heartbeatsObserved prometheus.Counter
	peerAlive          prometheus.Gauge
	alerts             *prometheus.CounterVec
	alertActive        prometheus.Gauge
	logConflicts       prometheus.Counter
	published          *prometheus.CounterVec
}

// NewCompanion 创建并注册报警服务指标
func NewCompanion(reg prometheus.Registerer) *Companion {
	m := &Companion{
		heartbeatsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helga_heartbeats_observed_total",
			Help: "Heartbeat counters received from the host.",
		}),
		peerAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helga_peer_alive",
			Help: "1 when the host is considered alive.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helga_alerts_total",
			Help: "Alert state machine outcomes.",
		}, []string{"outcome"}),
		alertActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helga_alert_active",
			Help: "1 while an alert is shown.",
		}),
		logConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helga_event_log_conflicts_total",
			Help: "Event log appends rejected with a duplicate key.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helga_peer_publish_total",
			Help: "Peer link sends by path and result.",
		}, []string{"path", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.heartbeatsObserved, m.peerAlive, m.alerts,
			m.alertActive, m.logConflicts, m.published)
	}
	return m
}

// HeartbeatObserved 收到一次心跳
func (m *Companion) HeartbeatObserved() {
	if m == nil {
		return
	}
	m.heartbeatsObserved.Inc()
}

// SetPeerAlive 对端存活状态
func (m *Companion) SetPeerAlive(alive bool) {
	if m == nil {
		return
	}
	m.peerAlive.Set(boolValue(alive))
}

// Alert 记录一次报警状态机结果
func (m *Companion) Alert(outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

// SetAlertActive 报警是否显示中
func (m *Companion) SetAlertActive(active bool) {
	if m == nil {
		return
	}
	m.alertActive.Set(boolValue(active))
}

// LogConflict 日志键冲突
func (m *Companion) LogConflict() {
	if m == nil {
		return
	}
	m.logConflicts.Inc()
}

// Published 发送结果（可直接作为 peerlink.PublishObserver）
func (m *Companion) Published(path string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(path, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
