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
	"gopkg.in/yaml.v3"
)

// 音频来源
const (
	AudioSourceStdin  = "stdin"  // 从标准输入读取 S16_LE PCM（如 arecord 管道）
	AudioSourceFile   = "file"   // 从文件读取 PCM
	AudioSourceRemote = "remote" // 使用伴侣设备经 /voice_transcription 发来的音频
)

// DefaultVocabulary 需要提醒照护者的声音关键词（子串匹配）
var DefaultVocabulary = []string{
	"siren",
	"knock",
	"baby cry",
	"infant cry",
	"bell",
	"alarm",
	"emergency",
	"buzzer",
	"chime",
	"screaming",
	"squeal",
	"engine",
	"vehicle",
}

// Config 检测服务配置
type Config struct {
	Node config.NodeConfig
	MQTT config.MQTTConfig

	Discovery struct {
		Mode        string // mqtt | mdns
		MDNSService string
		MDNSPort    int
		Timeout     time.Duration
	}

	// 音频采集配置
	Audio struct {
		Source        string
		File          string
		WindowSamples int // 每个窗口的采样数，默认 15600（约 0.975s）
		SampleRate    int
	}

	// 采样循环配置
	Sampling struct {
		FirstDelay time.Duration
		Interval   time.Duration
	}

	// 事件过滤配置
	Filter struct {
		Threshold      float64 // 严格大于才保留
		Vocabulary     []string
		VocabularyFile string
	}

	Classifier struct {
		URL     string
		Timeout time.Duration
	}

	Heartbeat struct {
		Interval time.Duration
	}

	PublishQueue int
	MetricsAddr  string

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 节点身份（未配置时生成随机 id）
	cfg.Node = config.NodeConfig{
		ID:           "helga-host-" + uuid.NewString()[:8],
		DisplayName:  "Helga host",
		Nearby:       true,
		Capabilities: []string{peerlink.CapabilityVoiceTranscription},
	}
	cfg.Node.LoadFromEnv("NODE")

	cfg.MQTT = config.MQTTConfig{
		Broker:      "tcp://localhost:1883",
		QoS:         1,
		TopicPrefix: "helga",
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Discovery.Mode = getEnv("PEER_DISCOVERY", peerlink.DiscoveryMQTT)
	cfg.Discovery.MDNSService = getEnv("MDNS_SERVICE", "_helga._tcp")
	cfg.Discovery.MDNSPort = getEnvInt("MDNS_PORT", 9101)
	cfg.Discovery.Timeout = getEnvMillis("DISCOVERY_TIMEOUT_MS", 2000)

	cfg.Audio.Source = getEnv("AUDIO_SOURCE", AudioSourceStdin)
	cfg.Audio.File = getEnv("AUDIO_FILE", "")
	cfg.Audio.WindowSamples = getEnvInt("AUDIO_WINDOW_SAMPLES", 15600)
	cfg.Audio.SampleRate = getEnvInt("SAMPLE_RATE", models.DefaultSampleRate)

	cfg.Sampling.FirstDelay = getEnvMillis("SAMPLE_FIRST_DELAY_MS", 1)
	cfg.Sampling.Interval = getEnvMillis("SAMPLE_INTERVAL_MS", 500)

	cfg.Filter.Threshold = getEnvFloat("SCORE_THRESHOLD", 0.3)
	cfg.Filter.VocabularyFile = getEnv("VOCABULARY_FILE", "")
	cfg.Filter.Vocabulary = DefaultVocabulary
	if cfg.Filter.VocabularyFile != "" {
		vocab, err := LoadVocabulary(cfg.Filter.VocabularyFile)
		if err != nil {
			return nil, err
		}
		cfg.Filter.Vocabulary = vocab
	}

	cfg.Classifier.URL = getEnv("CLASSIFIER_URL", "http://localhost:8501/v1/classify")
	cfg.Classifier.Timeout = getEnvMillis("CLASSIFIER_TIMEOUT_MS", 2000)

	cfg.Heartbeat.Interval = getEnvMillis("HEARTBEAT_INTERVAL_MS", 5000)

	cfg.PublishQueue = getEnvInt("PUBLISH_QUEUE_SIZE", 32)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9100")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Audio.Source {
	case AudioSourceStdin, AudioSourceRemote:
	case AudioSourceFile:
		if c.Audio.File == "" {
			return fmt.Errorf("AUDIO_FILE is required when AUDIO_SOURCE=file")
		}
	default:
		return fmt.Errorf("unknown AUDIO_SOURCE %q", c.Audio.Source)
	}
	switch c.Discovery.Mode {
	case peerlink.DiscoveryMQTT, peerlink.DiscoveryMDNS:
	default:
		return fmt.Errorf("unknown PEER_DISCOVERY %q", c.Discovery.Mode)
	}
	if c.Audio.WindowSamples <= 0 {
		return fmt.Errorf("AUDIO_WINDOW_SAMPLES must be positive")
	}
	if c.Sampling.Interval <= 0 || c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("sampling and heartbeat intervals must be positive")
	}
	if c.Filter.Threshold < 0 || c.Filter.Threshold >= 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be in [0,1)")
	}
	if len(c.Filter.Vocabulary) == 0 {
		return fmt.Errorf("vocabulary is empty")
	}
	return nil
}

// vocabularyFile 关键词文件格式
//
//	vocabulary:
//	  - siren
//	  - knock
type vocabularyFile struct {
	Vocabulary []string `yaml:"vocabulary"`
}

// LoadVocabulary 从 YAML 文件读取关键词列表
func LoadVocabulary(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %s: %w", path, err)
	}
	if len(f.Vocabulary) == 0 {
		return nil, fmt.Errorf("vocabulary file %s has no entries", path)
	}
	return f.Vocabulary, nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
