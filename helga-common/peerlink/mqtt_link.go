package peerlink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"helga/helga-common/models"
	mqttcommon "helga/helga-common/mqtt"

	"go.uber.org/zap"
)

// Broker MQTT 客户端能力（helga-common/mqtt.Client 实现了该接口）
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// Reconnector 可选：broker 重新连上后通知（helga-common/mqtt.Client 实现了该接口）
type Reconnector interface {
	OnReconnect(fn func())
}

// Topics MQTT 主题布局
//
//	<prefix>/<peer>/msg<path>     发往 peer 的一次性消息（不保留）
//	<prefix>/<owner>/data<path>   owner 拥有的数据项（保留，broker 只留最新值）
//	<prefix>/<node>/presence      节点在线信息（保留，遗嘱清空）
type Topics struct {
	Prefix string
}

// Message 发往 peer 的消息主题
func (t Topics) Message(peerID, path string) string {
	return t.Prefix + "/" + peerID + "/msg" + path
}

// DataItem owner 的数据项主题
func (t Topics) DataItem(owner, path string) string {
	return t.Prefix + "/" + owner + "/data" + path
}

// Presence 节点在线主题
func (t Topics) Presence(nodeID string) string {
	return t.Prefix + "/" + nodeID + "/presence"
}

// Parse 解析主题，返回节点 id、类型（msg/data/presence）和路径
func (t Topics) Parse(topic string) (nodeID, kind, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/")
	if !found {
		return "", "", "", false
	}
	nodeID, rest, found = strings.Cut(rest, "/")
	if !found || nodeID == "" {
		return "", "", "", false
	}
	if rest == "presence" {
		return nodeID, "presence", "", true
	}
	kind, path, found = strings.Cut(rest, "/")
	if !found || (kind != "msg" && kind != "data") {
		return "", "", "", false
	}
	return nodeID, kind, "/" + path, true
}

// envelope 消息信封（MQTT 3.1.1 没有发送方字段）
type envelope struct {
	From string `json:"from"`
	Data []byte `json:"data"`
}

// MQTTLink 基于 MQTT broker 的链路
type MQTTLink struct {
	broker     Broker
	topics     Topics
	qos        byte
	node       models.PeerNode
	discoverer Discoverer
	router     *router
	logger     *zap.Logger
	onClose    []func()
	doc        []byte // 本机在线信息

	mu       sync.RWMutex
	presence map[string]models.PeerNode
	order    []string // 发现顺序
	closed   bool
}

var _ Link = (*MQTTLink)(nil)

// MQTTLinkOption 链路选项
type MQTTLinkOption func(*MQTTLink)

// WithDiscoverer 使用外部发现（如 mDNS）代替 MQTT 在线表
func WithDiscoverer(d Discoverer) MQTTLinkOption {
	return func(l *MQTTLink) { l.discoverer = d }
}

// WithOnClose 关闭链路时额外执行（如撤销 mDNS 广播）
func WithOnClose(fn func()) MQTTLinkOption {
	return func(l *MQTTLink) { l.onClose = append(l.onClose, fn) }
}

// WithQoS 设置 QoS
func WithQoS(qos byte) MQTTLinkOption {
	return func(l *MQTTLink) { l.qos = qos }
}

// PresenceWill 本机在线主题的遗嘱：异常断开时清空保留的在线信息
func PresenceWill(prefix, nodeID string) mqttcommon.Will {
	return mqttcommon.Will{
		Topic:    Topics{Prefix: prefix}.Presence(nodeID),
		Payload:  []byte{},
		QoS:      1,
		Retained: true,
	}
}

// NewMQTTLink 创建链路：订阅在线表、发给本机的消息和所有数据项，然后发布本机在线信息
func NewMQTTLink(broker Broker, prefix string, node models.PeerNode, logger *zap.Logger, opts ...MQTTLinkOption) (*MQTTLink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "helga"
	}
	l := &MQTTLink{
		broker:   broker,
		topics:   Topics{Prefix: prefix},
		qos:      1,
		node:     node,
		router:   newRouter(logger),
		logger:   logger,
		presence: make(map[string]models.PeerNode),
	}
	for _, o := range opts {
		o(l)
	}

	subs := []struct {
		topic   string
		handler mqttcommon.MessageHandler
	}{
		{prefix + "/+/presence", l.onPresence},
		{l.topics.Message(node.ID, "/#"), l.onMessage},
		{prefix + "/+/data/#", l.onDataItem},
	}
	for _, s := range subs {
		if err := broker.Subscribe(s.topic, l.qos, s.handler); err != nil {
			return nil, fmt.Errorf("failed to subscribe %s: %w", s.topic, err)
		}
	}

	doc, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presence: %w", err)
	}
	l.doc = doc
	if err := l.announce(); err != nil {
		return nil, err
	}
	// 异常断开时遗嘱清空了在线信息，重连后重新发布
	if r, ok := broker.(Reconnector); ok {
		r.OnReconnect(func() {
			if err := l.announce(); err != nil {
				l.logger.Error("Failed to republish presence after reconnect", zap.Error(err))
				return
			}
			l.logger.Info("Presence republished after reconnect", zap.String("node_id", l.node.ID))
		})
	}

	logger.Info("Peer link connected",
		zap.String("node_id", node.ID),
		zap.Strings("capabilities", node.Capabilities),
		zap.String("topic_prefix", prefix),
	)
	return l, nil
}

// announce 发布本机在线信息；链路已关闭时无操作
func (l *MQTTLink) announce() error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil
	}
	if err := l.broker.Publish(l.topics.Presence(l.node.ID), l.qos, true, l.doc); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	return nil
}

// Local 本机节点
func (l *MQTTLink) Local() models.PeerNode { return l.node }

// Discover 按能力发现对端
func (l *MQTTLink) Discover(ctx context.Context, capability string) ([]models.PeerNode, error) {
	if l.discoverer != nil {
		return l.discoverer.Discover(ctx, capability)
	}
	nodes, err := l.ConnectedNodes(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByCapability(nodes, capability), nil
}

// ConnectedNodes 在线表中的对端（发现顺序）
func (l *MQTTLink) ConnectedNodes(ctx context.Context) ([]models.PeerNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrNotConnected
	}
	nodes := make([]models.PeerNode, 0, len(l.order))
	for _, id := range l.order {
		nodes = append(nodes, l.presence[id])
	}
	return nodes, nil
}

// SendMessage 发送消息；对端不在在线表中时返回 ErrPeerUnreachable
func (l *MQTTLink) SendMessage(ctx context.Context, peerID, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	closed := l.closed
	_, online := l.presence[peerID]
	l.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}
	if !online {
		return fmt.Errorf("send %s to %s: %w", path, peerID, ErrPeerUnreachable)
	}

	payload, err := json.Marshal(envelope{From: l.node.ID, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := l.broker.Publish(l.topics.Message(peerID, path), l.qos, false, payload); err != nil {
		return fmt.Errorf("send %s to %s: %w", path, peerID, err)
	}
	return nil
}

// PutDataItem 以保留消息写入数据项
func (l *MQTTLink) PutDataItem(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}
	if err := l.broker.Publish(l.topics.DataItem(l.node.ID, path), l.qos, true, data); err != nil {
		return fmt.Errorf("put data item %s: %w", path, err)
	}
	return nil
}

// HandleMessage 注册消息处理函数
func (l *MQTTLink) HandleMessage(path string, h MessageHandler) {
	l.router.handleMessage(path, h)
}

// HandleDataItem 注册数据项处理函数
func (l *MQTTLink) HandleDataItem(path string, h DataItemHandler) {
	l.router.handleDataItem(path, h)
}

// Close 清空在线信息并断开
func (l *MQTTLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	for _, fn := range l.onClose {
		fn()
	}

	var firstErr error
	if err := l.broker.Publish(l.topics.Presence(l.node.ID), l.qos, true, []byte{}); err != nil {
		firstErr = fmt.Errorf("failed to clear presence: %w", err)
	}
	l.broker.Disconnect()
	l.logger.Info("Peer link closed", zap.String("node_id", l.node.ID))
	return firstErr
}

func (l *MQTTLink) onPresence(msg mqttcommon.Message) error {
	nodeID, kind, _, ok := l.topics.Parse(msg.Topic)
	if !ok || kind != "presence" || nodeID == l.node.ID {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(msg.Payload) == 0 {
		if _, exists := l.presence[nodeID]; exists {
			delete(l.presence, nodeID)
			for i, id := range l.order {
				if id == nodeID {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
			l.logger.Info("Peer went offline", zap.String("peer_id", nodeID))
		}
		return nil
	}

	var node models.PeerNode
	if err := json.Unmarshal(msg.Payload, &node); err != nil {
		return fmt.Errorf("invalid presence from %s: %w", nodeID, err)
	}
	node.ID = nodeID
	if _, exists := l.presence[nodeID]; !exists {
		l.order = append(l.order, nodeID)
		l.logger.Info("Peer came online",
			zap.String("peer_id", nodeID),
			zap.String("display_name", node.DisplayName),
			zap.Strings("capabilities", node.Capabilities),
		)
	}
	l.presence[nodeID] = node
	return nil
}

func (l *MQTTLink) onMessage(msg mqttcommon.Message) error {
	_, kind, path, ok := l.topics.Parse(msg.Topic)
	if !ok || kind != "msg" {
		return fmt.Errorf("unexpected message topic %s", msg.Topic)
	}
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("invalid message envelope on %s: %w", msg.Topic, err)
	}
	l.router.dispatchMessage(Message{From: env.From, Path: path, Data: env.Data})
	return nil
}

func (l *MQTTLink) onDataItem(msg mqttcommon.Message) error {
	owner, kind, path, ok := l.topics.Parse(msg.Topic)
	if !ok || kind != "data" {
		return fmt.Errorf("unexpected data topic %s", msg.Topic)
	}
	// 自己发布的数据项也会回到自己的订阅上
	if owner == l.node.ID {
		return nil
	}
	// 空的保留消息表示数据项被删除
	if len(msg.Payload) == 0 {
		return nil
	}
	l.router.dispatchDataItem(DataItem{
		Owner:    owner,
		Path:     path,
		Data:     msg.Payload,
		Snapshot: msg.Retained,
	})
	return nil
}
