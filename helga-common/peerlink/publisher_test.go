package peerlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"helga/helga-common/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublisher_DeliversInOrder(t *testing.T) {
	hub := NewHub()
	phone := hub.Join(models.PeerNode{ID: "phone"}, nil)
	watch := hub.Join(models.PeerNode{ID: "watch"}, nil)

	var (
		mu    sync.Mutex
		items []string
	)
	watch.HandleDataItem(PathCount, func(item DataItem) {
		mu.Lock()
		items = append(items, string(item.Data))
		mu.Unlock()
	})

	var observed int
	pub := NewPublisher(phone, 8, zap.NewNop(), func(path string, err error) {
		assert.NoError(t, err)
		observed++
	})
	go pub.Run(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, pub.PutDataItem(PathCount, EncodeCount(models.HeartbeatCounter(i))))
	}
	pub.Close()

	select {
	case <-pub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not drain")
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, items)
	assert.Equal(t, 5, observed)
	assert.False(t, pub.PutDataItem(PathCount, EncodeCount(9)))
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	hub := NewHub()
	phone := hub.Join(models.PeerNode{ID: "phone"}, nil)

	var dropped int
	pub := NewPublisher(phone, 1, zap.NewNop(), func(string, error) { dropped++ })

	// 没有 worker，第二个任务进不了队列
	assert.True(t, pub.SendMessage("watch", PathStartActivity, nil))
	assert.False(t, pub.SendMessage("watch", PathStartActivity, nil))
	assert.Equal(t, 1, dropped)
}

func TestPublisher_StopsOnCancel(t *testing.T) {
	hub := NewHub()
	phone := hub.Join(models.PeerNode{ID: "phone"}, nil)
	pub := NewPublisher(phone, 1, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go pub.Run(ctx)
	cancel()

	select {
	case <-pub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
