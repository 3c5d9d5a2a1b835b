// Package sampler 采样循环：定时取最新音频窗口 → 分类 → 过滤 → 交给下游
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-common/schedule"
	"helga/helga-host/internal/capture"
	"helga/helga-host/internal/classifier"
	"helga/helga-host/internal/evaluator"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ErrAlreadyRunning 采样循环已经在运行
var ErrAlreadyRunning = errors.New("sampling loop already running")

// SourceFactory 每次启动时打开新的音频来源
type SourceFactory func() (capture.Source, error)

// EventHandler 接收一次 tick 中通过过滤的全部事件（至少一个）
type EventHandler func(events []models.DetectedEvent)

// Config 采样循环配置
type Config struct {
	FirstDelay time.Duration
	Interval   time.Duration
	Clock      clock.Clock
}

// Loop 采样循环
type Loop struct {
	cfg        Config
	openSource SourceFactory
	classifier classifier.Classifier
	filter     *evaluator.Filter
	onEvents   EventHandler
	metrics    *metrics.Host
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	source capture.Source
	done   chan struct{}
}

// NewLoop 创建采样循环
func NewLoop(cfg Config, openSource SourceFactory, cls classifier.Classifier, filter *evaluator.Filter,
	onEvents EventHandler, m *metrics.Host, logger *zap.Logger) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Loop{
		cfg:        cfg,
		openSource: openSource,
		classifier: cls,
		filter:     filter,
		onEvents:   onEvents,
		metrics:    m,
		logger:     logger,
	}
}

// Start 打开音频来源并在后台开始采样
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	src, err := l.openSource()
	if err != nil {
		return fmt.Errorf("failed to open audio source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.source = src
	l.done = done

	periodic := &schedule.Periodic{
		Name:     "sampling",
		First:    l.cfg.FirstDelay,
		Interval: l.cfg.Interval,
		Clock:    l.cfg.Clock,
		Logger:   l.logger,
	}
	go func() {
		defer close(done)
		err := periodic.Run(runCtx, func(ctx context.Context) { l.tick(ctx, src) })
		l.logger.Info("Sampling loop exited", zap.Error(err))
	}()

	l.logger.Info("Sampling loop started",
		zap.Duration("first_delay", l.cfg.FirstDelay),
		zap.Duration("interval", l.cfg.Interval),
	)
	return nil
}

// Stop 同步停止：取消定时器、释放音频来源，并等待进行中的 tick 退出
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, src, done := l.cancel, l.source, l.done
	l.cancel, l.source, l.done = nil, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := src.Close(); err != nil {
		l.logger.Warn("Failed to close audio source", zap.Error(err))
	}
	<-done
	l.logger.Info("Sampling loop stopped")
}

// Running 是否在运行
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// tick 一次采样；所有失败只记录日志，循环继续
func (l *Loop) tick(ctx context.Context, src capture.Source) {
	l.metrics.Tick()

	window, err := src.Next(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("Audio acquisition failed, skipping tick", zap.Error(err))
		}
		return
	}

	start := l.cfg.Clock.Now()
	results, err := l.classifier.Classify(ctx, window)
	l.metrics.ObserveClassify(l.cfg.Clock.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.metrics.ClassifierFailed()
		l.logger.Warn("Classification failed, skipping tick",
			zap.Int("samples", len(window.Samples)),
			zap.Error(err),
		)
		return
	}

	events := l.filter.Apply(results)
	if len(events) == 0 {
		return
	}
	for _, e := range events {
		l.metrics.EventDetected(e.Label)
		l.logger.Info("Sound event detected", zap.String("label", e.Label))
	}
	l.onEvents(events)
}
