package peerlink

import (
	"context"
	"errors"
	"testing"

	"helga/helga-common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMQTTLink(t *testing.T, b *fakeBroker, node models.PeerNode) *MQTTLink {
	t.Helper()
	l, err := NewMQTTLink(b.client(), "helga", node, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestTopics_Parse(t *testing.T) {
	topics := Topics{Prefix: "helga"}

	id, kind, path, ok := topics.Parse("helga/phone-1/data/result")
	require.True(t, ok)
	assert.Equal(t, "phone-1", id)
	assert.Equal(t, "data", kind)
	assert.Equal(t, PathResult, path)

	id, kind, path, ok = topics.Parse(topics.Message("watch", PathStartActivity))
	require.True(t, ok)
	assert.Equal(t, "watch", id)
	assert.Equal(t, "msg", kind)
	assert.Equal(t, PathStartActivity, path)

	id, kind, _, ok = topics.Parse("helga/watch/presence")
	require.True(t, ok)
	assert.Equal(t, "watch", id)
	assert.Equal(t, "presence", kind)

	_, _, _, ok = topics.Parse("other/watch/presence")
	assert.False(t, ok)
	_, _, _, ok = topics.Parse("helga/watch/bogus/x")
	assert.False(t, ok)
}

func TestMQTTLink_PresenceAndDiscovery(t *testing.T) {
	b := newFakeBroker()
	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch", Capabilities: []string{CapabilityAlerts}})
	newTestMQTTLink(t, b, models.PeerNode{ID: "phone-far", Capabilities: []string{CapabilityVoiceTranscription}})
	newTestMQTTLink(t, b, models.PeerNode{ID: "phone-near", Capabilities: []string{CapabilityVoiceTranscription}, IsNearby: true})

	ctx := context.Background()
	nodes, err := watch.Discover(ctx, CapabilityVoiceTranscription)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "phone-far", nodes[0].ID)

	target, err := SelectTarget(nodes)
	require.NoError(t, err)
	assert.Equal(t, "phone-near", target.ID)
}

func TestMQTTLink_LateJoinerSeesRetainedPresence(t *testing.T) {
	b := newFakeBroker()
	newTestMQTTLink(t, b, models.PeerNode{ID: "phone", Capabilities: []string{CapabilityVoiceTranscription}})
	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch"})

	nodes, err := watch.ConnectedNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "phone", nodes[0].ID)
}

func TestMQTTLink_CloseClearsPresence(t *testing.T) {
	b := newFakeBroker()
	phone := newTestMQTTLink(t, b, models.PeerNode{ID: "phone"})
	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch"})

	require.NoError(t, phone.Close())

	nodes, err := watch.ConnectedNodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)

	err = watch.SendMessage(context.Background(), "phone", PathStartActivity, nil)
	assert.True(t, errors.Is(err, ErrPeerUnreachable))
}

func TestMQTTLink_SendMessageCarriesSender(t *testing.T) {
	b := newFakeBroker()
	phone := newTestMQTTLink(t, b, models.PeerNode{ID: "phone"})
	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch"})

	var got []Message
	phone.HandleMessage(PathVoiceTranscription, func(msg Message) { got = append(got, msg) })

	pcm := EncodePCM([]int16{1, -2, 300})
	require.NoError(t, watch.SendMessage(context.Background(), "phone", PathVoiceTranscription, pcm))

	require.Len(t, got, 1)
	assert.Equal(t, "watch", got[0].From)
	assert.Equal(t, PathVoiceTranscription, got[0].Path)
	assert.Equal(t, []int16{1, -2, 300}, DecodePCM(got[0].Data))
}

func TestMQTTLink_DataItemLastWriteWins(t *testing.T) {
	b := newFakeBroker()
	phone := newTestMQTTLink(t, b, models.PeerNode{ID: "phone"})

	ctx := context.Background()
	require.NoError(t, phone.PutDataItem(ctx, PathCount, EncodeCount(1)))
	require.NoError(t, phone.PutDataItem(ctx, PathCount, EncodeCount(2)))

	// broker 只保留最新值
	assert.Equal(t, []byte("2"), b.retained[Topics{Prefix: "helga"}.DataItem("phone", PathCount)])

	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch"})
	var items []DataItem
	watch.HandleDataItem(PathCount, func(item DataItem) { items = append(items, item) })

	// 处理函数在订阅之后注册，回放的快照已被丢弃；新写入照常送达
	require.NoError(t, phone.PutDataItem(ctx, PathCount, EncodeCount(3)))
	require.Len(t, items, 1)
	c, err := DecodeCount(items[0].Data)
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatCounter(3), c)
	assert.False(t, items[0].Snapshot)
	assert.Equal(t, "phone", items[0].Owner)
}

func TestMQTTLink_IgnoresOwnDataItems(t *testing.T) {
	b := newFakeBroker()
	phone := newTestMQTTLink(t, b, models.PeerNode{ID: "phone"})

	called := false
	phone.HandleDataItem(PathResult, func(DataItem) { called = true })
	require.NoError(t, phone.PutDataItem(context.Background(), PathResult, EncodeLabel("Siren")))
	assert.False(t, called)
}

func TestMQTTLink_PublishFailure(t *testing.T) {
	b := newFakeBroker()
	phone := newTestMQTTLink(t, b, models.PeerNode{ID: "phone"})

	b.failPub = errors.New("broker down")
	err := phone.PutDataItem(context.Background(), PathResult, EncodeLabel("siren"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

type staticDiscoverer []models.PeerNode

func (s staticDiscoverer) Discover(_ context.Context, capability string) ([]models.PeerNode, error) {
	return FilterByCapability(s, capability), nil
}

func TestMQTTLink_ExternalDiscoverer(t *testing.T) {
	b := newFakeBroker()
	disc := staticDiscoverer{{ID: "lan-phone", Capabilities: []string{CapabilityVoiceTranscription}, IsNearby: true}}
	watch, err := NewMQTTLink(b.client(), "helga", models.PeerNode{ID: "watch"}, zap.NewNop(), WithDiscoverer(disc))
	require.NoError(t, err)

	nodes, err := watch.Discover(context.Background(), CapabilityVoiceTranscription)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "lan-phone", nodes[0].ID)
}

func TestMQTTLink_ReannouncesPresenceAfterReconnect(t *testing.T) {
	b := newFakeBroker()
	phoneClient := b.client()
	phone, err := NewMQTTLink(phoneClient, "helga", models.PeerNode{ID: "phone", Capabilities: []string{CapabilityVoiceTranscription}}, zap.NewNop())
	require.NoError(t, err)
	watch := newTestMQTTLink(t, b, models.PeerNode{ID: "watch"})

	ctx := context.Background()
	nodes, err := watch.Discover(ctx, CapabilityVoiceTranscription)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	// 遗嘱清空了主机的在线信息
	phoneClient.dropConnection(PresenceWill("helga", "phone"))
	nodes, err = watch.Discover(ctx, CapabilityVoiceTranscription)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.ErrorIs(t, watch.SendMessage(ctx, "phone", PathStartActivity, nil), ErrPeerUnreachable)

	phoneClient.reconnect()
	nodes, err = watch.Discover(ctx, CapabilityVoiceTranscription)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "phone", nodes[0].ID)
	require.NoError(t, watch.SendMessage(ctx, "phone", PathStartActivity, nil))

	// 关闭后的重连不再发布
	require.NoError(t, phone.Close())
	phoneClient.reconnect()
	nodes, err = watch.ConnectedNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
