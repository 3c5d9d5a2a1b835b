// Package capture 伴侣设备上的音频转发：把本地麦克风（PCM 流或文件）的窗口发给主机分类
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"helga/helga-common/peerlink"
	"helga/helga-common/schedule"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ErrSourceExhausted 不可回绕的流已经读完
var ErrSourceExhausted = errors.New("audio source exhausted")

// Sender 消息发送（peerlink.Publisher）
type Sender interface {
	SendMessage(peerID, path string, data []byte) bool
}

// Config 转发参数
type Config struct {
	WindowSamples    int
	Interval         time.Duration
	TargetCapability string
	DiscoverTimeout  time.Duration
	Clock            clock.Clock
}

// Forwarder 周期性读取一个窗口，发给具备转写能力的对端（优先近端节点）
type Forwarder struct {
	cfg        Config
	src        io.Reader
	discoverer peerlink.Discoverer
	out        Sender
	logger     *zap.Logger

	mu     sync.Mutex
	target string
	sent   int
}

// NewForwarder 创建转发器；src 实现 io.Seeker 时读到结尾会从头开始
func NewForwarder(cfg Config, src io.Reader, discoverer peerlink.Discoverer, out Sender, logger *zap.Logger) *Forwarder {
	if cfg.TargetCapability == "" {
		cfg.TargetCapability = peerlink.CapabilityVoiceTranscription
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Forwarder{cfg: cfg, src: src, discoverer: discoverer, out: out, logger: logger}
}

// Run 阻塞运行直到 ctx 取消或流读完
func (f *Forwarder) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	p := &schedule.Periodic{
		Name:     "audio-forward",
		Interval: f.cfg.Interval,
		Clock:    f.cfg.Clock,
		Logger:   f.logger,
	}
	err := p.Run(ctx, func(ctx context.Context) {
		if err := f.Tick(ctx); err != nil && errors.Is(err, ErrSourceExhausted) {
			runErr = err
			cancel()
		}
	})
	if runErr != nil {
		f.logger.Info("Audio forwarding finished", zap.Int("windows_sent", f.Sent()))
		return runErr
	}
	return err
}

// Tick 读取并发送一个窗口；找不到目标时丢弃该窗口
func (f *Forwarder) Tick(ctx context.Context) error {
	buf, err := f.read()
	if err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, f.cfg.DiscoverTimeout)
	nodes, err := f.discoverer.Discover(dctx, f.cfg.TargetCapability)
	cancel()
	if err != nil {
		f.logger.Warn("Peer discovery failed", zap.Error(err))
		return fmt.Errorf("discover %s: %w", f.cfg.TargetCapability, err)
	}
	target, err := peerlink.SelectTarget(nodes)
	if err != nil {
		f.setTarget("")
		f.logger.Debug("No transcription peer, window dropped")
		return err
	}
	f.setTarget(target.ID)

	if !f.out.SendMessage(target.ID, peerlink.PathVoiceTranscription, buf) {
		return fmt.Errorf("publish queue full")
	}
	f.mu.Lock()
	f.sent++
	f.mu.Unlock()
	return nil
}

func (f *Forwarder) read() ([]byte, error) {
	buf := make([]byte, f.cfg.WindowSamples*2)
	_, err := io.ReadFull(f.src, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		seeker, ok := f.src.(io.Seeker)
		if !ok {
			return nil, ErrSourceExhausted
		}
		if _, err = seeker.Seek(0, io.SeekStart); err == nil {
			_, err = io.ReadFull(f.src, buf)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrSourceExhausted
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read audio window: %w", err)
	}
	return buf, nil
}

func (f *Forwarder) setTarget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.target {
		f.logger.Info("Transcription target changed", zap.String("peer", id))
	}
	f.target = id
}

// Target 当前目标节点 ID（没有目标时为空）
func (f *Forwarder) Target() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// Sent 已发送的窗口数
func (f *Forwarder) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}
