// Package heartbeat 主机心跳：按固定周期把递增计数写到 /count 数据项
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-common/peerlink"
	"helga/helga-common/schedule"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Enqueuer 非阻塞写数据项（peerlink.Publisher 实现了该接口）
type Enqueuer interface {
	PutDataItem(path string, data []byte) bool
}

// Sender 心跳发送方
// 计数从 0 开始，每个 tick 先写当前值再加一；只在进程重启时归零
type Sender struct {
	out      Enqueuer
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Host
	logger   *zap.Logger

	counter atomic.Int64
}

// NewSender 创建心跳发送方
func NewSender(out Enqueuer, interval time.Duration, clk clock.Clock, m *metrics.Host, logger *zap.Logger) *Sender {
	if clk == nil {
		clk = clock.New()
	}
	return &Sender{
		out:      out,
		interval: interval,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// Run 运行直到 ctx 取消；第一次 tick 立即执行
func (s *Sender) Run(ctx context.Context) error {
	p := &schedule.Periodic{
		Name:     "heartbeat",
		Interval: s.interval,
		Clock:    s.clock,
		Logger:   s.logger,
	}
	return p.Run(ctx, func(context.Context) { s.Tick() })
}

// Tick 发送一次心跳，返回本次发送的计数
// 写入只是入队，网络发送不阻塞定时器
func (s *Sender) Tick() models.HeartbeatCounter {
	c := models.HeartbeatCounter(s.counter.Add(1) - 1)
	if !s.out.PutDataItem(peerlink.PathCount, peerlink.EncodeCount(c)) {
		s.logger.Warn("Heartbeat not queued", zap.Int64("count", int64(c)))
		return c
	}
	s.metrics.HeartbeatSent()
	s.logger.Debug("Heartbeat queued", zap.Int64("count", int64(c)))
	return c
}

// Current 下一次将要发送的计数
func (s *Sender) Current() models.HeartbeatCounter {
	return models.HeartbeatCounter(s.counter.Load())
}
