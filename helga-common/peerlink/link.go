// Package peerlink 是主机与伴侣设备之间的点对点链路抽象。
//
// 链路提供三类能力：按能力发现对端、向指定对端发送一次性消息、
// 同步按路径寻址的数据项（后写覆盖，不是队列）。上层按路径注册处理函数，
// 每个路径只有一个处理函数。
package peerlink

import (
	"context"
	"errors"

	"helga/helga-common/models"
)

// 链路上的路径（线上协议的一部分，不能随意修改）
const (
	PathStartActivity      = "/start-activity"      // 空消息，广播给所有已连接对端
	PathVoiceTranscription = "/voice_transcription" // 小端 int16 PCM，发往主机
	PathResult             = "/result"              // 数据项：UTF-8 标签，发往伴侣设备
	PathCount              = "/count"               // 数据项：心跳计数，发往伴侣设备
)

// 能力名
const (
	CapabilityVoiceTranscription = "voice_transcription"
	CapabilityAlerts             = "helga_alerts"
)

var (
	// ErrPeerUnreachable 对端不可达（未在线、未发现或发送被拒绝）
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrNotConnected 链路已关闭或尚未连接
	ErrNotConnected = errors.New("peer link not connected")
)

// Message 一次性消息
type Message struct {
	From string
	Path string
	Data []byte
}

// DataItem 数据项（同一 Owner + Path 下后写覆盖）
type DataItem struct {
	Owner string
	Path  string
	Data  []byte
	// Snapshot 为 true 表示这是注册/订阅时回放的已有值，而不是新的写入
	Snapshot bool
}

// MessageHandler 消息处理函数
type MessageHandler func(msg Message)

// DataItemHandler 数据项处理函数
type DataItemHandler func(item DataItem)

// Discoverer 按能力发现对端
type Discoverer interface {
	Discover(ctx context.Context, capability string) ([]models.PeerNode, error)
}

// Link 点对点链路
type Link interface {
	Discoverer

	// Local 本机节点
	Local() models.PeerNode
	// ConnectedNodes 当前已连接的对端（不含本机）
	ConnectedNodes(ctx context.Context) ([]models.PeerNode, error)
	// SendMessage 发送一次性消息；只保证交给了传输层，没有应用层确认
	SendMessage(ctx context.Context, peerID, path string, data []byte) error
	// PutDataItem 写入本机拥有的数据项
	PutDataItem(ctx context.Context, path string, data []byte) error
	// HandleMessage 注册消息处理函数（同一路径后注册的覆盖先注册的）
	HandleMessage(path string, h MessageHandler)
	// HandleDataItem 注册数据项处理函数（同一路径后注册的覆盖先注册的）
	HandleDataItem(path string, h DataItemHandler)
	Close() error
}
