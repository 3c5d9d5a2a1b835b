package consumer

import (
	"bytes"
	"context"
	"sync"
	"time"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// EventHandler 检测事件的处理方（alert.Machine）
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.DetectedEvent) bool
}

// HeartbeatObserver 心跳计数的处理方（heartbeat.Tracker）
type HeartbeatObserver interface {
	Observe(c models.HeartbeatCounter)
}

// LinkConsumer 把 /result 和 /count 数据项转换成检测事件和心跳
type LinkConsumer struct {
	events     EventHandler
	heartbeats HeartbeatObserver
	clock      clock.Clock
	timeout    time.Duration // 单个事件处理（含写日志）的超时
	logger     *zap.Logger

	ctx context.Context

	mu      sync.Mutex
	handled map[string][]byte // 每个对端最近一次处理过的 /result 内容
}

// NewLinkConsumer 创建消费者
func NewLinkConsumer(events EventHandler, heartbeats HeartbeatObserver, clk clock.Clock, logger *zap.Logger) *LinkConsumer {
	if clk == nil {
		clk = clock.New()
	}
	return &LinkConsumer{
		events:     events,
		heartbeats: heartbeats,
		clock:      clk,
		timeout:    5 * time.Second,
		logger:     logger,
		ctx:        context.Background(),
		handled:    make(map[string][]byte),
	}
}

// Register 在链路上注册处理函数；ctx 取消后不再处理事件
func (c *LinkConsumer) Register(ctx context.Context, link peerlink.Link) {
	c.ctx = ctx
	link.HandleDataItem(peerlink.PathResult, c.handleResult)
	link.HandleDataItem(peerlink.PathCount, c.handleCount)
}

func (c *LinkConsumer) handleResult(item peerlink.DataItem) {
	if c.ctx.Err() != nil {
		return
	}
	// 重连后 broker 回放的保留值与上次处理的相同，不是新事件
	if item.Snapshot && c.seen(item) {
		c.logger.Debug("Ignoring replayed result already handled", zap.String("owner", item.Owner))
		return
	}
	label, err := peerlink.DecodeLabel(item.Data)
	if err != nil {
		c.logger.Warn("Invalid result payload", zap.String("owner", item.Owner), zap.Error(err))
		return
	}

	c.logger.Debug("Result received",
		zap.String("owner", item.Owner),
		zap.String("label", label),
		zap.Bool("snapshot", item.Snapshot),
	)

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	accepted := c.events.HandleEvent(ctx, models.DetectedEvent{
		Label:     label,
		Timestamp: c.clock.Now(),
		Replayed:  item.Snapshot,
	})
	// 被拒绝的回放不记录，对端在线后再次回放时仍可报警
	if accepted || !item.Snapshot {
		c.mu.Lock()
		c.handled[item.Owner] = append([]byte(nil), item.Data...)
		c.mu.Unlock()
	}
}

func (c *LinkConsumer) seen(item peerlink.DataItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.handled[item.Owner]
	return ok && bytes.Equal(last, item.Data)
}

func (c *LinkConsumer) handleCount(item peerlink.DataItem) {
	// 回放的计数是旧值，不能证明对端现在在线
	if item.Snapshot {
		c.logger.Debug("Ignoring replayed heartbeat", zap.String("owner", item.Owner))
		return
	}
	count, err := peerlink.DecodeCount(item.Data)
	if err != nil {
		c.logger.Warn("Invalid count payload", zap.String("owner", item.Owner), zap.Error(err))
		return
	}
	c.heartbeats.Observe(count)
}
