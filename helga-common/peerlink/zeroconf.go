package peerlink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"helga/helga-common/config"
	"helga/helga-common/models"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// mDNS 服务类型
const (
	DefaultMDNSService = "_helga._tcp"
	DefaultMDNSDomain  = "local."
)

// ZeroconfDiscoverer 通过局域网 mDNS 发现对端
// 节点信息放在 TXT 记录里：id=、name=、caps=a,b、nearby=
type ZeroconfDiscoverer struct {
	Service string
	Domain  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Discover 浏览 Timeout 时间内应答的节点，返回声明了 capability 的节点（应答顺序）
func (d *ZeroconfDiscoverer) Discover(ctx context.Context, capability string) ([]models.PeerNode, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(browseCtx, d.service(), d.domain(), entries); err != nil {
		return nil, fmt.Errorf("mdns browse failed: %w", err)
	}

	var nodes []models.PeerNode
	seen := make(map[string]bool)
	for {
		select {
		case <-browseCtx.Done():
			// 父 ctx 取消要向上传递；自身超时是正常结束
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nodes, nil
		case entry, ok := <-entries:
			if !ok {
				return nodes, nil
			}
			node := NodeFromTXT(entry.Instance, entry.Text)
			if seen[node.ID] || !node.HasCapability(capability) {
				continue
			}
			seen[node.ID] = true
			nodes = append(nodes, node)
			if d.Logger != nil {
				d.Logger.Debug("mDNS peer discovered",
					zap.String("peer_id", node.ID),
					zap.String("host", entry.HostName),
				)
			}
		}
	}
}

func (d *ZeroconfDiscoverer) service() string {
	if d.Service == "" {
		return DefaultMDNSService
	}
	return d.Service
}

func (d *ZeroconfDiscoverer) domain() string {
	if d.Domain == "" {
		return DefaultMDNSDomain
	}
	return d.Domain
}

// Advertise 在局域网上广播本机节点；返回的函数用于撤销广播
func Advertise(node models.PeerNode, service string, port int, logger *zap.Logger) (func(), error) {
	if service == "" {
		service = DefaultMDNSService
	}
	if port <= 0 {
		return nil, errors.New("mdns advertise requires a port")
	}
	server, err := zeroconf.Register(node.ID, service, DefaultMDNSDomain, port, NodeTXT(node), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register failed: %w", err)
	}
	logger.Info("mDNS advertised",
		zap.String("node_id", node.ID),
		zap.String("service", service),
		zap.Int("port", port),
	)
	return server.Shutdown, nil
}

// NodeTXT 节点信息编码为 TXT 记录
func NodeTXT(node models.PeerNode) []string {
	return []string{
		"id=" + node.ID,
		"name=" + node.DisplayName,
		"caps=" + strings.Join(node.Capabilities, ","),
		"nearby=" + strconv.FormatBool(node.IsNearby),
	}
}

// NodeFromTXT 从 TXT 记录还原节点信息
// 缺少 id 时使用实例名；缺少 nearby 时视为 nearby（同一链路本地网段）
func NodeFromTXT(instance string, txt []string) models.PeerNode {
	node := models.PeerNode{ID: instance, DisplayName: instance, IsNearby: true}
	for _, kv := range txt {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "id":
			if value != "" {
				node.ID = value
			}
		case "name":
			if value != "" {
				node.DisplayName = value
			}
		case "caps":
			node.Capabilities = config.SplitList(value)
		case "nearby":
			if v, err := strconv.ParseBool(value); err == nil {
				node.IsNearby = v
			}
		}
	}
	return node
}
