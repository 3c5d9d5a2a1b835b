// Package alert 报警状态机
//
// 两个状态：IDLE（无报警）和 ACTIVE（正在显示一个报警）。
// IDLE 收到事件时先写报警日志，写成功才进入 ACTIVE 并提醒；
// ACTIVE 期间收到的事件全部丢弃；用户关闭或超时后回到 IDLE。
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-companion/internal/repository"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultExpiry 报警自动消失时间
const DefaultExpiry = 10 * time.Second

// Appender 报警日志写入
type Appender interface {
	Append(ctx context.Context, entry models.LogEntry) error
}

// Signals 给展示层的信号（都可以为 nil）
type Signals struct {
	OnEventDetected  func(label string)
	OnAlertDismissed func()
}

// Machine 报警状态机（每台设备一个实例）
type Machine struct {
	log      Appender
	notifier Notifier
	signals  Signals
	expiry   time.Duration
	clock    clock.Clock
	metrics  *metrics.Companion
	logger   *zap.Logger

	mu        sync.Mutex
	active    bool
	label     string
	since     time.Time
	pending   bool // 正在写日志，此时到达的事件同样丢弃
	gen       uint64
	timer     *clock.Timer
	peerAlive bool

	// 持有 emitMu 期间执行副作用，保证提醒和撤销的顺序与状态转换一致
	emitMu sync.Mutex
}

// NewMachine 创建状态机
func NewMachine(log Appender, notifier Notifier, signals Signals, expiry time.Duration,
	clk clock.Clock, m *metrics.Companion, logger *zap.Logger) *Machine {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Machine{
		log:      log,
		notifier: notifier,
		signals:  signals,
		expiry:   expiry,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// HandleEvent 处理一个检测事件；返回是否触发了新的报警
func (m *Machine) HandleEvent(ctx context.Context, ev models.DetectedEvent) bool {
	m.mu.Lock()
	if m.active || m.pending {
		m.mu.Unlock()
		m.metrics.Alert(metrics.AlertSuppressed)
		m.logger.Debug("Alert already showing, event dropped", zap.String("label", ev.Label))
		return false
	}
	// 订阅时回放的旧结果：对端不在线时可能是很久以前的数据
	if ev.Replayed && !m.peerAlive {
		m.mu.Unlock()
		m.logger.Info("Stale replayed event dropped", zap.String("label", ev.Label))
		return false
	}
	m.pending = true
	now := m.clock.Now()
	m.mu.Unlock()

	// 写日志期间不持有锁
	entry := models.NewLogEntry(ev.Label, now)
	err := m.log.Append(ctx, entry)

	m.mu.Lock()
	m.pending = false
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, repository.ErrDuplicateKey) {
			m.metrics.LogConflict()
			m.logger.Warn("Alert log key conflict, alert dropped",
				zap.String("label", ev.Label),
				zap.String("key", entry.Timestamp),
			)
		} else {
			m.logger.Error("Failed to persist alert, alert dropped",
				zap.String("label", ev.Label),
				zap.Error(err),
			)
		}
		m.metrics.Alert(metrics.AlertPersistFailed)
		return false
	}

	m.active = true
	m.label = ev.Label
	m.since = now
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.expiry, func() { m.expire(gen) })

	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	m.metrics.Alert(metrics.AlertRaised)
	m.metrics.SetAlertActive(true)
	m.logger.Info("Alert raised", zap.String("label", ev.Label), zap.Time("since", now))
	m.notifier.Notify(ev.Label)
	if m.signals.OnEventDetected != nil {
		m.signals.OnEventDetected(ev.Label)
	}
	return true
}

// Dismiss 用户关闭报警；先取消超时定时器再转换状态。返回是否有报警被关闭
func (m *Machine) Dismiss() bool {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	label := m.reset()
	m.finish(metrics.AlertDismissed, label)
	return true
}

// expire 超时回调；gen 不一致说明这个定时器已经过期
func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	if !m.active || m.gen != gen {
		m.mu.Unlock()
		return
	}
	label := m.reset()
	m.finish(metrics.AlertExpired, label)
}

// reset 回到 IDLE；调用方持有 mu
func (m *Machine) reset() string {
	label := m.label
	m.active = false
	m.label = ""
	m.since = time.Time{}
	m.timer = nil
	return label
}

// finish 释放 mu 并执行回到 IDLE 的副作用
func (m *Machine) finish(outcome, label string) {
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	m.metrics.Alert(outcome)
	m.metrics.SetAlertActive(false)
	m.logger.Info("Alert cleared", zap.String("label", label), zap.String("reason", outcome))
	m.notifier.Cancel()
	if m.signals.OnAlertDismissed != nil {
		m.signals.OnAlertDismissed()
	}
}

// State 当前状态快照
func (m *Machine) State() models.AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return models.AlertState{}
	}
	label := m.label
	since := m.since
	return models.AlertState{Active: true, CurrentLabel: &label, Since: &since}
}

// SetPeerAlive 对端存活状态变化（正在显示的报警不受影响）
func (m *Machine) SetPeerAlive(alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerAlive = alive
}

// Stop 停止超时定时器（服务关闭时调用）
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}
