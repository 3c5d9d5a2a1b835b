package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"helga/helga-common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimeout 等待 broker 确认超时
var ErrTimeout = errors.New("mqtt: operation timed out")

// Message 收到的 MQTT 消息
// Retained 为 true 表示是订阅时 broker 回放的保留消息（快照），而不是实时发布
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MessageHandler 消息处理函数类型
type MessageHandler func(msg Message) error

// Will 遗嘱消息（连接异常断开时由 broker 代为发布）
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client MQTT客户端封装
type Client struct {
	client  mqtt.Client
	config  *config.MQTTConfig
	logger  *zap.Logger
	timeout time.Duration

	mu          sync.Mutex
	subs        map[string]subscription
	onReconnect []func()
}

// Option 客户端选项
type Option func(*mqtt.ClientOptions)

// WithWill 注册遗嘱消息
func WithWill(w Will) Option {
	return func(opts *mqtt.ClientOptions) {
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}
}

// NewClient 创建MQTT客户端并连接
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger, options ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:  cfg,
		logger:  logger,
		timeout: 10 * time.Second,
		subs:    make(map[string]subscription),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "helga-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.timeout)
	// clean session 下重连后订阅会丢失，需要重新订阅
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	for _, o := range options {
		o(opts)
	}

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, ErrTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return c, nil
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrap(handler))
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, ErrTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish 发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ErrTimeout)
	}

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("failed to unsubscribe: %w", ErrTimeout)
	}

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		m := Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
		}
		if err := handler(m); err != nil {
			// 记录错误，但不中断处理
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", m.Topic),
				zap.Error(err),
			)
		}
	}
}

// OnReconnect 注册连接（含重连）成功后的回调，在恢复订阅之后调用
// 遗嘱会在异常断开时清空保留消息，需要重新发布的内容在这里发布
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// onConnect 连接成功后恢复订阅并执行回调（在 paho 的独立 goroutine 中调用）
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	hooks := append([]func(){}, c.onReconnect...)
	c.mu.Unlock()

	for topic, s := range subs {
		token := client.Subscribe(topic, s.qos, c.wrap(s.handler))
		if token.WaitTimeout(c.timeout) && token.Error() == nil {
			continue
		}
		c.logger.Error("Failed to resubscribe after reconnect",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
	if len(subs) > 0 {
		c.logger.Info("MQTT subscriptions restored", zap.Int("count", len(subs)))
	}
	for _, fn := range hooks {
		fn()
	}
}
