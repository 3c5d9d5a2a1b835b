package peerlink

import (
	"fmt"

	"helga/helga-common/models"
)

// FilterByCapability 按能力过滤，保持发现顺序
func FilterByCapability(nodes []models.PeerNode, capability string) []models.PeerNode {
	out := make([]models.PeerNode, 0, len(nodes))
	for _, n := range nodes {
		if n.HasCapability(capability) {
			out = append(out, n)
		}
	}
	return out
}

// SelectTarget 从发现结果中选出一个目标：优先第一个 nearby 节点，否则第一个节点
func SelectTarget(nodes []models.PeerNode) (models.PeerNode, error) {
	if len(nodes) == 0 {
		return models.PeerNode{}, fmt.Errorf("no peer discovered: %w", ErrPeerUnreachable)
	}
	for _, n := range nodes {
		if n.IsNearby {
			return n, nil
		}
	}
	return nodes[0], nil
}
