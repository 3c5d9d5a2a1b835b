package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"helga/helga-common/httpserver"
	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-common/peerlink"
	"helga/helga-host/internal/capture"
	"helga/helga-host/internal/classifier"
	"helga/helga-host/internal/config"
	"helga/helga-host/internal/evaluator"
	"helga/helga-host/internal/heartbeat"
	"helga/helga-host/internal/sampler"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrNotRunning 服务未启动或已停止
var ErrNotRunning = errors.New("host service not running")

// Options 可替换的依赖（测试中注入进程内链路、假分类器和模拟时钟）
type Options struct {
	Link       peerlink.Link
	Classifier classifier.Classifier
	Audio      io.Reader // AUDIO_SOURCE=stdin 时的 PCM 流；为空时使用标准输入
	Registry   *prometheus.Registry
	Clock      clock.Clock
}

// HostService 检测服务：采样循环 + 心跳发送 + 对端消息处理
type HostService struct {
	config    *config.Config
	logger    *zap.Logger
	link      peerlink.Link
	publisher *peerlink.Publisher
	loop      *sampler.Loop
	sender    *heartbeat.Sender
	metrics   *metrics.Host
	server    *httpserver.Server
	stream    *capture.Stream // 标准输入在多次开始/停止监听之间共享

	remoteMu sync.Mutex
	remote   *capture.RemoteSource // 当前的远程音频来源（AUDIO_SOURCE=remote 且正在监听时）

	lifeMu  sync.Mutex // 保护 running，并串行化开始监听与关闭
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg     sync.WaitGroup
}

// NewHostService 创建检测服务；opts 中未提供的依赖按配置创建
func NewHostService(cfg *config.Config, logger *zap.Logger, opts Options) (*HostService, error) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewHost(reg)

	node := models.PeerNode{
		ID:           cfg.Node.ID,
		DisplayName:  cfg.Node.DisplayName,
		Capabilities: cfg.Node.Capabilities,
		IsNearby:     cfg.Node.Nearby,
	}

	// 1. 对端链路
	link := opts.Link
	if link == nil {
		l, err := peerlink.Dial(&cfg.MQTT, node, peerlink.DialOptions{
			Discovery:        cfg.Discovery.Mode,
			MDNSService:      cfg.Discovery.MDNSService,
			MDNSPort:         cfg.Discovery.MDNSPort,
			DiscoveryTimeout: cfg.Discovery.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect peer link: %w", err)
		}
		link = l
	}

	// 2. 分类器
	cls := opts.Classifier
	if cls == nil {
		cls = classifier.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout, logger)
	}

	audio := opts.Audio
	if audio == nil {
		audio = os.Stdin
	}

	s := &HostService{
		config:  cfg,
		logger:  logger,
		link:    link,
		metrics: m,
		stream:  capture.NewStream(audio, logger),
	}

	// 3. 异步发送：定时 tick 只入队
	s.publisher = peerlink.NewPublisher(link, cfg.PublishQueue, logger, m.Published)

	// 4. 采样循环
	filter := evaluator.NewFilter(cfg.Filter.Threshold, cfg.Filter.Vocabulary)
	s.loop = sampler.NewLoop(sampler.Config{
		FirstDelay: cfg.Sampling.FirstDelay,
		Interval:   cfg.Sampling.Interval,
		Clock:      opts.Clock,
	}, s.openSource, cls, filter, s.publishEvents, m, logger)

	// 5. 心跳
	s.sender = heartbeat.NewSender(s.publisher, cfg.Heartbeat.Interval, opts.Clock, m, logger)

	// 6. 入站消息
	link.HandleMessage(peerlink.PathVoiceTranscription, s.handleVoice)
	link.HandleMessage(peerlink.PathStartActivity, s.handleStartActivity)

	// 7. 指标
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s.server = httpserver.New(cfg.MetricsAddr, mux, logger)
	}

	return s, nil
}

// Start 启动发送 worker、心跳和采样循环
func (s *HostService) Start(ctx context.Context) error {
	s.logger.Info("Starting host service components",
		zap.String("node_id", s.config.Node.ID),
		zap.String("audio_source", s.config.Audio.Source),
	)
	s.lifeMu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.lifeMu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.publisher.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.sender.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Heartbeat sender stopped", zap.Error(err))
		}
	}()

	if s.server != nil {
		go func() {
			if err := s.server.Start(); err != nil {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	if err := s.StartListening(); err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}

	s.logger.Info("Host service started successfully")
	return nil
}

// StartListening 启动检测管线（已在运行时无操作）；服务未启动或已停止时返回 ErrNotRunning
func (s *HostService) StartListening() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	err := s.loop.Start(s.ctx)
	if errors.Is(err, sampler.ErrAlreadyRunning) {
		return nil
	}
	return err
}

// StopListening 同步停止检测管线并释放音频采集
func (s *HostService) StopListening() {
	s.loop.Stop()
}

// Listening 检测管线是否在运行
func (s *HostService) Listening() bool {
	return s.loop.Running()
}

// Stop 停止服务
func (s *HostService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping host service")

	// 之后的激活请求不再打开音频来源
	s.lifeMu.Lock()
	s.running = false
	s.lifeMu.Unlock()

	s.StopListening()

	// 先排空发送队列，再断开链路
	s.publisher.Close()
	select {
	case <-s.publisher.Done():
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		s.logger.Warn("Publish queue not drained before shutdown")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}
	if err := s.link.Close(); err != nil {
		s.logger.Error("Error closing peer link", zap.Error(err))
	}

	s.logger.Info("Host service stopped")
	return nil
}

// openSource 按配置打开音频来源（每次开始监听时调用）
func (s *HostService) openSource() (capture.Source, error) {
	audio := s.config.Audio
	switch audio.Source {
	case config.AudioSourceFile:
		return capture.OpenFileSource(audio.File, audio.WindowSamples, audio.SampleRate)
	case config.AudioSourceRemote:
		src := capture.NewRemoteSource(audio.WindowSamples, audio.SampleRate, s.logger)
		s.remoteMu.Lock()
		s.remote = src
		s.remoteMu.Unlock()
		return src, nil
	default:
		return s.stream.Open(audio.WindowSamples, audio.SampleRate), nil
	}
}

// publishEvents 把事件标签写到 /result 数据项
func (s *HostService) publishEvents(events []models.DetectedEvent) {
	for _, e := range events {
		s.publisher.PutDataItem(peerlink.PathResult, peerlink.EncodeLabel(e.Label))
	}
}

func (s *HostService) handleVoice(msg peerlink.Message) {
	s.remoteMu.Lock()
	src := s.remote
	s.remoteMu.Unlock()
	if src == nil {
		s.logger.Debug("Voice data ignored, not using remote audio",
			zap.String("from", msg.From),
			zap.Int("bytes", len(msg.Data)),
		)
		return
	}
	src.HandleMessage(msg)
}

func (s *HostService) handleStartActivity(msg peerlink.Message) {
	s.logger.Info("Activation requested by peer", zap.String("from", msg.From))
	if s.Listening() {
		return
	}
	err := s.StartListening()
	if errors.Is(err, ErrNotRunning) {
		s.logger.Debug("Activation ignored, service not running")
		return
	}
	if err != nil {
		s.logger.Error("Failed to start listening on activation", zap.Error(err))
	}
}
