package models

import "time"

// DetectedEvent 通过阈值和关键词过滤后的声音事件，创建后不可修改
type DetectedEvent struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	// Replayed 表示事件来自订阅时回放的保留数据项（可能是过期数据）
	Replayed bool `json:"-"`
}

// HeartbeatCounter 心跳计数（每个发送方单调递增，仅进程重启时归零）
type HeartbeatCounter int64

// PeerNode 通过能力查询发现的对端设备
type PeerNode struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Capabilities []string `json:"capabilities"`
	IsNearby     bool     `json:"is_nearby"`
}

// HasCapability 是否声明了指定能力
func (n PeerNode) HasCapability(capability string) bool {
	for _, c := range n.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
