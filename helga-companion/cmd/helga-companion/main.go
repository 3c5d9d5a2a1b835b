package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "helga/helga-common/logger"
	"helga/helga-companion/internal/config"
	"helga/helga-companion/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "helga-companion")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting helga-companion service",
		zap.String("node_id", cfg.Node.ID),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("discovery", cfg.Discovery.Mode),
		zap.String("event_log", cfg.EventLog.Backend),
		zap.Duration("heartbeat_interval", cfg.Heartbeat.Interval),
		zap.Int("missed_threshold", cfg.Heartbeat.MissedThreshold),
		zap.Duration("alert_expiry", cfg.Alert.Expiry),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 3. 创建服务
	companionService, err := service.NewCompanionService(cfg, logger, service.Options{})
	if err != nil {
		logger.Fatal("Failed to create companion service", zap.Error(err))
	}

	// 4. 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := companionService.Start(ctx); err != nil {
		logger.Fatal("Failed to start companion service", zap.Error(err))
	}

	// 5. 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 6. 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := companionService.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Service stopped")
}
