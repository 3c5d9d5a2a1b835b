package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"helga/helga-common/database"
	"helga/helga-common/httpserver"
	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-common/peerlink"
	redisclient "helga/helga-common/redis"
	"helga/helga-companion/internal/alert"
	"helga/helga-companion/internal/capture"
	"helga/helga-companion/internal/config"
	"helga/helga-companion/internal/consumer"
	"helga/helga-companion/internal/heartbeat"
	httpapi "helga/helga-companion/internal/http"
	"helga/helga-companion/internal/repository"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options 可替换的依赖（测试中注入进程内链路、日志存储、音频和模拟时钟）
type Options struct {
	Link     peerlink.Link
	EventLog repository.EventLog
	Notifier alert.Notifier
	Signals  alert.Signals
	Audio    io.Reader // 转发的音频流；为空时按 FORWARD_AUDIO_SOURCE 打开
	Registry *prometheus.Registry
	Clock    clock.Clock
}

// CompanionService 报警服务：消费主机结果和心跳，驱动报警状态机
type CompanionService struct {
	config    *config.Config
	logger    *zap.Logger
	link      peerlink.Link
	log       repository.EventLog
	machine   *alert.Machine
	tracker   *heartbeat.Tracker
	consumer  *consumer.LinkConsumer
	publisher *peerlink.Publisher
	forwarder *capture.Forwarder
	router    *httpapi.Router
	server    *httpserver.Server

	closers     []func() error
	forwardDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCompanionService 创建报警服务；opts 中未提供的依赖按配置创建
func NewCompanionService(cfg *config.Config, logger *zap.Logger, opts Options) (*CompanionService, error) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewCompanion(reg)

	s := &CompanionService{config: cfg, logger: logger}

	// 1. 报警日志
	eventLog := opts.EventLog
	if eventLog == nil {
		l, err := s.openEventLog()
		if err != nil {
			s.close()
			return nil, err
		}
		eventLog = l
	}
	s.log = eventLog

	// 2. 对端链路
	link := opts.Link
	if link == nil {
		node := models.PeerNode{
			ID:           cfg.Node.ID,
			DisplayName:  cfg.Node.DisplayName,
			Capabilities: cfg.Node.Capabilities,
			IsNearby:     cfg.Node.Nearby,
		}
		l, err := peerlink.Dial(&cfg.MQTT, node, peerlink.DialOptions{
			Discovery:        cfg.Discovery.Mode,
			MDNSService:      cfg.Discovery.MDNSService,
			MDNSPort:         cfg.Discovery.MDNSPort,
			DiscoveryTimeout: cfg.Discovery.Timeout,
		}, logger)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect peer link: %w", err)
		}
		link = l
	}
	s.link = link

	// 3. 报警状态机和心跳跟踪
	signals := opts.Signals
	onDetected := signals.OnEventDetected
	signals.OnEventDetected = func(label string) {
		logger.Info("onEventDetected", zap.String("label", label))
		if onDetected != nil {
			onDetected(label)
		}
	}
	s.machine = alert.NewMachine(eventLog, opts.Notifier, signals, cfg.Alert.Expiry, opts.Clock, m, logger)

	s.tracker = heartbeat.NewTracker(cfg.Heartbeat.Interval, cfg.Heartbeat.MissedThreshold, opts.Clock, m, logger)
	s.tracker.OnChange(func(alive bool) {
		logger.Info("onPeerLivenessChanged", zap.Bool("alive", alive))
		s.machine.SetPeerAlive(alive)
	})

	// 4. 入站数据项（在 Start 中注册，注册时会回放已有的值）
	s.consumer = consumer.NewLinkConsumer(s.machine, s.tracker, opts.Clock, logger)

	// 5. 出站消息
	s.publisher = peerlink.NewPublisher(link, cfg.PublishQueue, logger, m.Published)

	// 6. 音频转发
	if cfg.Forward.Enabled {
		src := opts.Audio
		if src == nil {
			r, err := s.openAudio()
			if err != nil {
				s.close()
				return nil, err
			}
			src = r
		}
		s.forwarder = capture.NewForwarder(capture.Config{
			WindowSamples:    cfg.Forward.WindowSamples,
			Interval:         cfg.Forward.Interval,
			TargetCapability: cfg.Forward.TargetCapability,
			DiscoverTimeout:  cfg.Discovery.Timeout,
			Clock:            opts.Clock,
		}, src, link, s.publisher, logger)
	}

	// 7. HTTP API 和指标
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterAlertRoutes(&httpapi.AlertHandler{
		Machine: s.machine,
		Peer:    s.tracker,
		Log:     eventLog,
		Link:    link,
		Logger:  logger,
	})
	s.router.RegisterHealthRoute()
	s.router.HandleHandler("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if cfg.HTTP.Addr != "" {
		s.server = httpserver.New(cfg.HTTP.Addr, s.router, logger)
	}

	return s, nil
}

// openEventLog 按配置创建日志存储
func (s *CompanionService) openEventLog() (repository.EventLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch s.config.EventLog.Backend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, &s.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, func() error { return database.Close(db) })
		pg := repository.NewPostgresEventLog(db, s.logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("Alert log stored in PostgreSQL", zap.String("host", s.config.Database.Host))
		return pg, nil
	case config.BackendRedis:
		client, err := redisclient.Connect(ctx, &s.config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.logger.Info("Alert log stored in Redis", zap.String("addr", s.config.Redis.Addr))
		return repository.NewRedisEventLog(client, s.config.EventLog.RedisKey, s.logger), nil
	default:
		s.logger.Warn("Alert log kept in memory, history is lost on restart")
		return repository.NewMemoryEventLog(), nil
	}
}

func (s *CompanionService) openAudio() (io.Reader, error) {
	if s.config.Forward.Source == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(s.config.Forward.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open forwarded audio: %w", err)
	}
	s.closers = append(s.closers, f.Close)
	return f, nil
}

// Start 注册链路处理函数并启动后台任务
func (s *CompanionService) Start(ctx context.Context) error {
	s.logger.Info("Starting companion service components",
		zap.String("node_id", s.config.Node.ID),
		zap.String("event_log", s.config.EventLog.Backend),
		zap.Bool("forward_audio", s.forwarder != nil),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.consumer.Register(s.ctx, s.link)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.publisher.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.tracker.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Heartbeat tracker stopped", zap.Error(err))
		}
	}()

	if s.forwarder != nil {
		// 标准输入上的阻塞读无法中断，不计入 wg
		s.forwardDone = make(chan struct{})
		go func() {
			defer close(s.forwardDone)
			err := s.forwarder.Run(s.ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, capture.ErrSourceExhausted) {
				s.logger.Error("Audio forwarder stopped", zap.Error(err))
			}
		}()
	}

	if s.server != nil {
		go func() {
			if err := s.server.Start(); err != nil {
				s.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Companion service started successfully")
	return nil
}

// Handler HTTP API（测试和嵌入使用）
func (s *CompanionService) Handler() *httpapi.Router {
	return s.router
}

// Machine 报警状态机
func (s *CompanionService) Machine() *alert.Machine {
	return s.machine
}

// Tracker 心跳跟踪
func (s *CompanionService) Tracker() *heartbeat.Tracker {
	return s.tracker
}

// Stop 停止服务
func (s *CompanionService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping companion service")

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

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

	s.machine.Stop()
	if err := s.link.Close(); err != nil {
		s.logger.Error("Error closing peer link", zap.Error(err))
	}
	s.wg.Wait()
	// 关闭音频文件，解除转发 goroutine 的阻塞读
	s.close()
	if s.forwardDone != nil {
		select {
		case <-s.forwardDone:
		case <-ctx.Done():
			s.logger.Warn("Audio forwarder still blocked on read at shutdown")
		}
	}

	s.logger.Info("Companion service stopped")
	return nil
}

func (s *CompanionService) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Error releasing resource", zap.Error(err))
		}
	}
	s.closers = nil
}
