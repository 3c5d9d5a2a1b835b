package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"helga/helga-common/config"
	"helga/helga-common/models"
	"helga/helga-common/peerlink"

	"github.com/google/uuid"
)

// 报警日志存储
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config 伴侣设备报警服务配置
type Config struct {
	Node     config.NodeConfig
	MQTT     config.MQTTConfig
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	Discovery struct {
		Mode        string
		MDNSService string
		MDNSPort    int
		Timeout     time.Duration
	}

	// 心跳跟踪配置
	Heartbeat struct {
		Interval        time.Duration
		MissedThreshold int // 连续错过多少次本地 tick 判定对端断开
	}

	Alert struct {
		Expiry time.Duration // 无人处理时自动消失
	}

	EventLog struct {
		Backend  string
		RedisKey string // Redis 键前缀
	}

	// 把本机麦克风转发给主机做分类
	Forward struct {
		Enabled          bool
		Source           string // PCM 文件；"-" 表示标准输入
		WindowSamples    int
		SampleRate       int
		Interval         time.Duration
		TargetCapability string
	}

	HTTP struct {
		Addr string
	}

	PublishQueue int

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Node = config.NodeConfig{
		ID:           "helga-companion-" + uuid.NewString()[:8],
		DisplayName:  "Helga companion",
		Nearby:       true,
		Capabilities: []string{peerlink.CapabilityAlerts},
	}
	cfg.Node.LoadFromEnv("NODE")

	cfg.MQTT = config.MQTTConfig{
		Broker:      "tcp://localhost:1883",
		QoS:         1,
		TopicPrefix: "helga",
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "helga",
		SSLMode:  "disable",
		MaxConns: 5,
		MaxIdle:  2,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Discovery.Mode = getEnv("PEER_DISCOVERY", peerlink.DiscoveryMQTT)
	cfg.Discovery.MDNSService = getEnv("MDNS_SERVICE", peerlink.DefaultMDNSService)
	cfg.Discovery.MDNSPort = getEnvInt("MDNS_PORT", 9102)
	cfg.Discovery.Timeout = getEnvMillis("DISCOVERY_TIMEOUT_MS", 2000)

	cfg.Heartbeat.Interval = getEnvMillis("HEARTBEAT_INTERVAL_MS", 5000)
	cfg.Heartbeat.MissedThreshold = getEnvInt("HEARTBEAT_MISSED_THRESHOLD", 5)

	cfg.Alert.Expiry = getEnvMillis("ALERT_EXPIRY_MS", 10000)

	cfg.EventLog.Backend = getEnv("EVENT_LOG_BACKEND", BackendMemory)
	cfg.EventLog.RedisKey = getEnv("EVENT_LOG_REDIS_KEY", "helga:alert_log")

	cfg.Forward.Enabled = getEnvBool("FORWARD_AUDIO", false)
	cfg.Forward.Source = getEnv("FORWARD_AUDIO_SOURCE", "-")
	cfg.Forward.WindowSamples = getEnvInt("AUDIO_WINDOW_SAMPLES", 15600)
	cfg.Forward.SampleRate = getEnvInt("SAMPLE_RATE", models.DefaultSampleRate)
	cfg.Forward.Interval = getEnvMillis("FORWARD_INTERVAL_MS", 500)
	cfg.Forward.TargetCapability = getEnv("TARGET_CAPABILITY", peerlink.CapabilityVoiceTranscription)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")
	cfg.PublishQueue = getEnvInt("PUBLISH_QUEUE_SIZE", 32)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.EventLog.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown EVENT_LOG_BACKEND %q", c.EventLog.Backend)
	}
	switch c.Discovery.Mode {
	case peerlink.DiscoveryMQTT, peerlink.DiscoveryMDNS:
	default:
		return fmt.Errorf("unknown PEER_DISCOVERY %q", c.Discovery.Mode)
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.MissedThreshold <= 0 {
		return fmt.Errorf("heartbeat interval and missed threshold must be positive")
	}
	if c.Alert.Expiry <= 0 {
		return fmt.Errorf("ALERT_EXPIRY_MS must be positive")
	}
	if c.Forward.Enabled && (c.Forward.WindowSamples <= 0 || c.Forward.Interval <= 0) {
		return fmt.Errorf("audio forwarding needs a positive window and interval")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
