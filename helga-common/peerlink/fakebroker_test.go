package peerlink

import (
	"strings"
	"sync"

	mqttcommon "helga/helga-common/mqtt"
)

// fakeBroker 进程内 MQTT broker：支持 + / # 通配、保留消息和同步投递
type fakeBroker struct {
	mu       sync.Mutex
	subs     []fakeSub
	retained map[string][]byte
	failPub  error
}

type fakeSub struct {
	owner   *fakeClient
	filter  string
	handler mqttcommon.MessageHandler
}

type fakeClient struct {
	broker     *fakeBroker
	topics     []string
	registered []fakeSub
	hooks      []func()
	closed     bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		retained: make(map[string][]byte),
	}
}

func (b *fakeBroker) client() *fakeClient { return &fakeClient{broker: b} }

func (c *fakeClient) Subscribe(filter string, _ byte, handler mqttcommon.MessageHandler) error {
	b := c.broker
	b.mu.Lock()
	b.subs = append(b.subs, fakeSub{owner: c, filter: filter, handler: handler})
	var snapshots []mqttcommon.Message
	for topic, payload := range b.retained {
		if topicMatches(filter, topic) {
			snapshots = append(snapshots, mqttcommon.Message{Topic: topic, Payload: payload, Retained: true})
		}
	}
	b.mu.Unlock()
	c.topics = append(c.topics, filter)
	c.registered = append(c.registered, fakeSub{owner: c, filter: filter, handler: handler})

	for _, m := range snapshots {
		_ = handler(m)
	}
	return nil
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload []byte) error {
	b := c.broker
	b.mu.Lock()
	if b.failPub != nil {
		err := b.failPub
		b.mu.Unlock()
		return err
	}
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = append([]byte(nil), payload...)
		}
	}
	var handlers []mqttcommon.MessageHandler
	for _, sub := range b.subs {
		if topicMatches(sub.filter, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(mqttcommon.Message{Topic: topic, Payload: payload})
	}
	return nil
}

func (c *fakeClient) Unsubscribe(topics ...string) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[string]bool, len(topics))
	for _, t := range topics {
		drop[t] = true
	}
	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.owner == c && drop[sub.filter] {
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
	return nil
}

func (c *fakeClient) Disconnect() {
	c.closed = true
	_ = c.Unsubscribe(c.topics...)
}

func (c *fakeClient) OnReconnect(fn func()) {
	c.hooks = append(c.hooks, fn)
}

// dropConnection 模拟异常断开：订阅失效，broker 代为发布遗嘱
func (c *fakeClient) dropConnection(will mqttcommon.Will) {
	_ = c.Unsubscribe(c.topics...)
	_ = c.broker.client().Publish(will.Topic, will.QoS, will.Retained, will.Payload)
}

// reconnect 模拟自动重连：恢复订阅后执行回调
func (c *fakeClient) reconnect() {
	subs := c.registered
	c.registered = nil
	c.topics = nil
	for _, sub := range subs {
		_ = c.Subscribe(sub.filter, 1, sub.handler)
	}
	for _, fn := range c.hooks {
		fn()
	}
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
