package peerlink

import (
	"fmt"
	"time"

	"helga/helga-common/config"
	"helga/helga-common/models"
	mqttcommon "helga/helga-common/mqtt"

	"go.uber.org/zap"
)

// 发现方式
const (
	DiscoveryMQTT = "mqtt" // broker 上的保留在线表
	DiscoveryMDNS = "mdns" // 局域网 mDNS
)

// DialOptions 建立 MQTT 链路的选项
type DialOptions struct {
	Discovery        string
	MDNSService      string
	MDNSPort         int
	DiscoveryTimeout time.Duration
}

// Dial 连接 broker 并建立链路
// 注册清空在线信息的遗嘱；mdns 模式下同时在局域网广播本机，并用 mDNS 做能力发现
func Dial(cfg *config.MQTTConfig, node models.PeerNode, opts DialOptions, logger *zap.Logger) (*MQTTLink, error) {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "helga"
	}
	client, err := mqttcommon.NewClient(cfg, logger, mqttcommon.WithWill(PresenceWill(prefix, node.ID)))
	if err != nil {
		return nil, err
	}

	linkOpts := []MQTTLinkOption{WithQoS(cfg.QoS)}
	stop := func() {}
	if opts.Discovery == DiscoveryMDNS {
		stop, err = Advertise(node, opts.MDNSService, opts.MDNSPort, logger)
		if err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("failed to advertise node: %w", err)
		}
		linkOpts = append(linkOpts,
			WithDiscoverer(&ZeroconfDiscoverer{
				Service: opts.MDNSService,
				Timeout: opts.DiscoveryTimeout,
				Logger:  logger,
			}),
			WithOnClose(stop),
		)
	}

	link, err := NewMQTTLink(client, prefix, node, logger, linkOpts...)
	if err != nil {
		stop()
		client.Disconnect()
		return nil, err
	}
	return link, nil
}
