package peerlink

import (
	"context"
	"fmt"
	"sync"

	"helga/helga-common/models"

	"go.uber.org/zap"
)

// Hub 进程内链路（测试和单进程演示使用）
// 语义与 MQTT 链路一致：在线表、后写覆盖的数据项、按路径分发；投递在调用方 goroutine 中同步完成
type Hub struct {
	mu       sync.Mutex
	links    []*MemoryLink
	items    map[string]DataItem // owner + path -> 最新值
	failures map[string]error    // peerID -> 注入的发送失败
}

// NewHub 创建进程内链路
func NewHub() *Hub {
	return &Hub{
		items:    make(map[string]DataItem),
		failures: make(map[string]error),
	}
}

// Join 以指定节点身份加入
func (h *Hub) Join(node models.PeerNode, logger *zap.Logger) *MemoryLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &MemoryLink{hub: h, node: node, router: newRouter(logger)}
	h.mu.Lock()
	h.links = append(h.links, l)
	h.mu.Unlock()
	return l
}

// FailDeliveriesTo 之后发往 peerID 的消息都返回 err（nil 表示恢复）
func (h *Hub) FailDeliveriesTo(peerID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, peerID)
		return
	}
	h.failures[peerID] = err
}

func (h *Hub) peers(except string) []*MemoryLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*MemoryLink, 0, len(h.links))
	for _, l := range h.links {
		if l.node.ID != except {
			out = append(out, l)
		}
	}
	return out
}

func (h *Hub) leave(l *MemoryLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, other := range h.links {
		if other == l {
			h.links = append(h.links[:i], h.links[i+1:]...)
			return
		}
	}
}

// MemoryLink 进程内链路的一端
type MemoryLink struct {
	hub    *Hub
	node   models.PeerNode
	router *router

	mu     sync.Mutex
	closed bool
}

var _ Link = (*MemoryLink)(nil)

// Local 本机节点
func (l *MemoryLink) Local() models.PeerNode { return l.node }

// Discover 按能力发现对端（加入顺序）
func (l *MemoryLink) Discover(ctx context.Context, capability string) ([]models.PeerNode, error) {
	nodes, err := l.ConnectedNodes(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByCapability(nodes, capability), nil
}

// ConnectedNodes 已连接对端
func (l *MemoryLink) ConnectedNodes(ctx context.Context) ([]models.PeerNode, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	peers := l.hub.peers(l.node.ID)
	nodes := make([]models.PeerNode, 0, len(peers))
	for _, p := range peers {
		nodes = append(nodes, p.node)
	}
	return nodes, nil
}

// SendMessage 发送消息
func (l *MemoryLink) SendMessage(ctx context.Context, peerID, path string, data []byte) error {
	if err := l.check(ctx); err != nil {
		return err
	}

	l.hub.mu.Lock()
	injected := l.hub.failures[peerID]
	l.hub.mu.Unlock()
	if injected != nil {
		return fmt.Errorf("send %s to %s: %w", path, peerID, injected)
	}

	for _, p := range l.hub.peers(l.node.ID) {
		if p.node.ID == peerID {
			p.router.dispatchMessage(Message{From: l.node.ID, Path: path, Data: clone(data)})
			return nil
		}
	}
	return fmt.Errorf("send %s to %s: %w", path, peerID, ErrPeerUnreachable)
}

// PutDataItem 写数据项并通知所有对端
func (l *MemoryLink) PutDataItem(ctx context.Context, path string, data []byte) error {
	if err := l.check(ctx); err != nil {
		return err
	}
	item := DataItem{Owner: l.node.ID, Path: path, Data: clone(data)}

	l.hub.mu.Lock()
	l.hub.items[l.node.ID+path] = item
	l.hub.mu.Unlock()

	for _, p := range l.hub.peers(l.node.ID) {
		p.router.dispatchDataItem(item)
	}
	return nil
}

// HandleMessage 注册消息处理函数
func (l *MemoryLink) HandleMessage(path string, h MessageHandler) {
	l.router.handleMessage(path, h)
}

// HandleDataItem 注册数据项处理函数，并回放对端已有的值（Snapshot=true）
func (l *MemoryLink) HandleDataItem(path string, h DataItemHandler) {
	l.router.handleDataItem(path, h)

	l.hub.mu.Lock()
	var snapshots []DataItem
	for _, item := range l.hub.items {
		if item.Path == path && item.Owner != l.node.ID {
			item.Snapshot = true
			snapshots = append(snapshots, item)
		}
	}
	l.hub.mu.Unlock()

	for _, item := range snapshots {
		h(item)
	}
}

// Close 离开链路
func (l *MemoryLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.hub.leave(l)
	return nil
}

func (l *MemoryLink) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotConnected
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
