// Package schedule 提供自校正的周期任务调度。
//
// 每个周期任务各自保存上一次的触发时间，下一次截止时间按
// lastDeadline + interval 计算，用剩余时间睡眠，而不是固定延迟，
// 避免执行耗时造成的累计漂移。
package schedule

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Periodic 自校正周期任务
// tick 串行执行：上一次 tick 未结束时不会重叠执行下一次，但也不会被跳过
type Periodic struct {
	Name     string
	First    time.Duration // 第一次触发的延迟
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Run 阻塞执行周期任务，直到 ctx 被取消；返回 ctx.Err()
func (p *Periodic) Run(ctx context.Context, tick func(ctx context.Context)) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	deadline := clk.Now().Add(p.First)
	for {
		if err := SleepUntil(ctx, clk, deadline); err != nil {
			return err
		}

		tick(ctx)

		now := clk.Now()
		next := NextDeadline(deadline, p.Interval, now)
		if next.Equal(now) {
			logger.Warn("Periodic task fell behind, re-anchoring schedule",
				zap.String("task", p.Name),
				zap.Duration("lag", now.Sub(deadline)),
			)
		}
		deadline = next
	}
}

// NextDeadline 计算下一次截止时间
// 正常情况为 last + interval；若落后超过一个完整周期，则以 now 重新锚定，避免补发一串 tick
func NextDeadline(last time.Time, interval time.Duration, now time.Time) time.Time {
	next := last.Add(interval)
	if now.Sub(next) >= interval {
		return now
	}
	return next
}

// SleepUntil 睡眠到指定的绝对截止时间；ctx 取消时立即返回 ctx.Err()
func SleepUntil(ctx context.Context, clk clock.Clock, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := deadline.Sub(clk.Now())
	if wait <= 0 {
		return nil
	}

	timer := clk.Timer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
