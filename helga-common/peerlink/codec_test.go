package peerlink

import (
	"testing"

	"helga/helga-common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	c, err := DecodeCount(EncodeCount(42))
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatCounter(42), c)

	c, err = DecodeCount([]byte(" 0\n"))
	require.NoError(t, err)
	assert.Zero(t, c)

	_, err = DecodeCount([]byte("-1"))
	assert.Error(t, err)
	_, err = DecodeCount([]byte("abc"))
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, []byte("siren"), EncodeLabel("Siren"))

	label, err := DecodeLabel([]byte("fire alarm"))
	require.NoError(t, err)
	assert.Equal(t, "fire alarm", label)

	_, err = DecodeLabel([]byte("  "))
	assert.Error(t, err)
}

func TestPCM(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := EncodePCM(samples)
	assert.Len(t, data, 10)
	assert.Equal(t, []byte{0xff, 0xff}, data[4:6])
	assert.Equal(t, samples, DecodePCM(data))

	// 奇数长度丢弃末尾字节
	assert.Equal(t, []int16{1}, DecodePCM([]byte{1, 0, 9}))
}

func TestSelectTarget(t *testing.T) {
	_, err := SelectTarget(nil)
	assert.ErrorIs(t, err, ErrPeerUnreachable)

	target, err := SelectTarget([]models.PeerNode{{ID: "x"}, {ID: "y"}})
	require.NoError(t, err)
	assert.Equal(t, "x", target.ID)

	target, err = SelectTarget([]models.PeerNode{{ID: "x"}, {ID: "y", IsNearby: true}, {ID: "z", IsNearby: true}})
	require.NoError(t, err)
	assert.Equal(t, "y", target.ID)
}

func TestNodeTXT(t *testing.T) {
	node := models.PeerNode{
		ID:           "phone-1",
		DisplayName:  "Kitchen phone",
		Capabilities: []string{CapabilityVoiceTranscription, CapabilityAlerts},
		IsNearby:     false,
	}
	assert.Equal(t, node, NodeFromTXT("ignored", NodeTXT(node)))

	bare := NodeFromTXT("watch", []string{"junk", "caps="})
	assert.Equal(t, "watch", bare.ID)
	assert.Equal(t, "watch", bare.DisplayName)
	assert.True(t, bare.IsNearby)
	assert.Empty(t, bare.Capabilities)
}
