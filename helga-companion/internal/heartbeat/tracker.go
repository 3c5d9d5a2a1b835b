// Package heartbeat 伴侣设备上的心跳跟踪：根据主机的 /count 判断主机是否存活
package heartbeat

import (
	"context"
	"sync"
	"time"

	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-common/schedule"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultMissedThreshold 默认连续错过次数
const DefaultMissedThreshold = 5

// LivenessHandler 存活状态变化回调；每次状态翻转只调用一次
type LivenessHandler func(alive bool)

// Tracker 心跳跟踪
// 收到任意计数立即判定存活；本地 tick 连续 threshold 次没有收到新计数时判定断开
// 初始状态为未存活，不触发回调
type Tracker struct {
	threshold int
	interval  time.Duration
	clock     clock.Clock
	metrics   *metrics.Companion
	logger    *zap.Logger

	mu       sync.Mutex
	missed   int
	alive    bool
	last     models.HeartbeatCounter
	lastSeen time.Time
	onChange []LivenessHandler

	// 持有 emitMu 期间调用回调，保证回调顺序与状态翻转顺序一致
	emitMu sync.Mutex
}

// NewTracker 创建心跳跟踪
func NewTracker(interval time.Duration, threshold int, clk clock.Clock, m *metrics.Companion, logger *zap.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultMissedThreshold
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		threshold: threshold,
		interval:  interval,
		clock:     clk,
		metrics:   m,
		logger:    logger,
	}
}

// OnChange 注册存活状态变化回调（在 Run 之前注册）
func (t *Tracker) OnChange(h LivenessHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, h)
}

// Observe 收到一个心跳计数
func (t *Tracker) Observe(c models.HeartbeatCounter) {
	t.metrics.HeartbeatObserved()

	t.mu.Lock()
	t.missed = 0
	t.last = c
	t.lastSeen = t.clock.Now()
	changed := !t.alive
	t.alive = true
	t.emit(changed, true)
}

// Tick 本地 tick：没有收到新计数的 tick 累加，达到阈值时判定断开
func (t *Tracker) Tick() {
	t.mu.Lock()
	t.missed++
	changed := t.alive && t.missed >= t.threshold
	if changed {
		t.alive = false
	}
	t.emit(changed, false)
}

// emit 释放 mu；状态翻转时按顺序调用回调
func (t *Tracker) emit(changed, alive bool) {
	if !changed {
		t.mu.Unlock()
		return
	}
	handlers := append([]LivenessHandler(nil), t.onChange...)
	missed, last := t.missed, t.last
	t.emitMu.Lock()
	t.mu.Unlock()
	defer t.emitMu.Unlock()

	t.metrics.SetPeerAlive(alive)
	if alive {
		t.logger.Info("Peer heartbeat resumed", zap.Int64("count", int64(last)))
	} else {
		t.logger.Warn("Peer heartbeat lost",
			zap.Int("missed_ticks", missed),
			zap.Int64("last_count", int64(last)),
		)
	}
	for _, h := range handlers {
		h(alive)
	}
}

// Alive 当前存活状态
func (t *Tracker) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// Status 心跳状态快照
type Status struct {
	Alive       bool                    `json:"alive"`
	MissedTicks int                     `json:"missed_ticks"`
	LastCount   models.HeartbeatCounter `json:"last_count"`
	LastSeen    *time.Time              `json:"last_seen"`
}

// Status 返回状态快照
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{Alive: t.alive, MissedTicks: t.missed, LastCount: t.last}
	if !t.lastSeen.IsZero() {
		seen := t.lastSeen
		s.LastSeen = &seen
	}
	return s
}

// Run 运行本地定时器直到 ctx 取消
func (t *Tracker) Run(ctx context.Context) error {
	p := &schedule.Periodic{
		Name:     "heartbeat-tracker",
		First:    t.interval,
		Interval: t.interval,
		Clock:    t.clock,
		Logger:   t.logger,
	}
	return p.Run(ctx, func(context.Context) { t.Tick() })
}
