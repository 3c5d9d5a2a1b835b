package service

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"
	"helga/helga-host/internal/classifier"
	"helga/helga-host/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Node.ID = "phone"
	cfg.Node.Capabilities = []string{peerlink.CapabilityVoiceTranscription}
	cfg.Node.Nearby = true
	cfg.Audio.Source = config.AudioSourceRemote
	cfg.Audio.WindowSamples = 4
	cfg.Audio.SampleRate = 16000
	cfg.Sampling.FirstDelay = time.Millisecond
	cfg.Sampling.Interval = 5 * time.Millisecond
	cfg.Filter.Threshold = 0.3
	cfg.Filter.Vocabulary = config.DefaultVocabulary
	cfg.Heartbeat.Interval = 20 * time.Millisecond
	cfg.PublishQueue = 64
	return cfg
}

type watchPeer struct {
	link *peerlink.MemoryLink

	mu      sync.Mutex
	results []string
	counts  []models.HeartbeatCounter
}

func joinWatch(hub *peerlink.Hub) *watchPeer {
	w := &watchPeer{link: hub.Join(models.PeerNode{ID: "watch", Capabilities: []string{peerlink.CapabilityAlerts}}, nil)}
	w.link.HandleDataItem(peerlink.PathResult, func(item peerlink.DataItem) {
		w.mu.Lock()
		w.results = append(w.results, string(item.Data))
		w.mu.Unlock()
	})
	w.link.HandleDataItem(peerlink.PathCount, func(item peerlink.DataItem) {
		c, err := peerlink.DecodeCount(item.Data)
		if err != nil {
			return
		}
		w.mu.Lock()
		w.counts = append(w.counts, c)
		w.mu.Unlock()
	})
	return w
}

func (w *watchPeer) snapshot() ([]string, []models.HeartbeatCounter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.results...), append([]models.HeartbeatCounter(nil), w.counts...)
}

func TestHostService_DetectsAndPublishes(t *testing.T) {
	hub := peerlink.NewHub()
	watch := joinWatch(hub)

	var classified atomic.Int32
	cls := classifier.Func(func(ctx context.Context, w models.AudioWindow) ([]models.Classification, error) {
		classified.Add(1)
		assert.Len(t, w.Samples, 4)
		return []models.Classification{{Label: "Siren", Score: 0.9}, {Label: "Speech", Score: 0.95}}, nil
	})

	svc, err := NewHostService(testConfig(), zap.NewNop(), Options{
		Link:       hub.Join(models.PeerNode{ID: "phone", Capabilities: []string{peerlink.CapabilityVoiceTranscription}}, nil),
		Classifier: cls,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	// 没有远程音频之前不会分类
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, classified.Load())

	// 伴侣设备把麦克风音频发给主机
	require.NoError(t, watch.link.SendMessage(context.Background(), "phone",
		peerlink.PathVoiceTranscription, peerlink.EncodePCM([]int16{1, 2, 3, 4})))

	require.Eventually(t, func() bool {
		results, _ := watch.snapshot()
		return len(results) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// 一个窗口只分类一次：之后的 tick 没有新音频，不再发布结果
	time.Sleep(50 * time.Millisecond)
	results, _ := watch.snapshot()
	assert.Equal(t, []string{"siren"}, results)
	assert.EqualValues(t, 1, classified.Load())

	require.Eventually(t, func() bool {
		_, counts := watch.snapshot()
		return len(counts) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	_, counts := watch.snapshot()
	assert.Equal(t, models.HeartbeatCounter(0), counts[0])
	assert.Equal(t, models.HeartbeatCounter(1), counts[1])
}

func TestHostService_StartActivityResumesListening(t *testing.T) {
	hub := peerlink.NewHub()
	watch := joinWatch(hub)

	cls := classifier.Func(func(context.Context, models.AudioWindow) ([]models.Classification, error) {
		return nil, nil
	})
	svc, err := NewHostService(testConfig(), zap.NewNop(), Options{
		Link:       hub.Join(models.PeerNode{ID: "phone"}, nil),
		Classifier: cls,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	require.True(t, svc.Listening())
	svc.StopListening()
	require.False(t, svc.Listening())

	sent, err := peerlink.Broadcast(context.Background(), watch.link, peerlink.PathStartActivity, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, svc.Listening())
}

func TestHostService_IgnoresVoiceWhenNotRemote(t *testing.T) {
	hub := peerlink.NewHub()
	watch := joinWatch(hub)

	cfg := testConfig()
	cfg.Audio.Source = config.AudioSourceFile
	cfg.Audio.File = "/nonexistent.pcm"

	svc, err := NewHostService(cfg, zap.NewNop(), Options{
		Link:       hub.Join(models.PeerNode{ID: "phone"}, nil),
		Classifier: classifier.Func(func(context.Context, models.AudioWindow) ([]models.Classification, error) { return nil, nil }),
	})
	require.NoError(t, err)

	// 文件不存在，启动失败
	assert.Error(t, svc.Start(context.Background()))
	assert.NoError(t, watch.link.SendMessage(context.Background(), "phone",
		peerlink.PathVoiceTranscription, peerlink.EncodePCM([]int16{1})))
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestHostService_StdinSurvivesListeningToggle(t *testing.T) {
	hub := peerlink.NewHub()
	joinWatch(hub)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	var mu sync.Mutex
	var windows [][]int16
	cls := classifier.Func(func(_ context.Context, w models.AudioWindow) ([]models.Classification, error) {
		mu.Lock()
		windows = append(windows, w.Samples)
		mu.Unlock()
		return nil, nil
	})
	seen := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(windows)
	}

	cfg := testConfig()
	cfg.Audio.Source = config.AudioSourceStdin
	svc, err := NewHostService(cfg, zap.NewNop(), Options{
		Link:       hub.Join(models.PeerNode{ID: "phone"}, nil),
		Classifier: cls,
		Audio:      pr,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	_, err = pw.Write(peerlink.EncodePCM([]int16{1, 2, 3, 4}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return seen() == 1 }, 2*time.Second, 5*time.Millisecond)

	svc.StopListening()
	require.NoError(t, svc.StartListening())

	_, err = pw.Write(peerlink.EncodePCM([]int16{5, 6, 7, 8}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return seen() == 2 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int16{5, 6, 7, 8}, windows[1])
}

func TestHostService_ActivationIgnoredWhenNotRunning(t *testing.T) {
	hub := peerlink.NewHub()
	watch := joinWatch(hub)

	svc, err := NewHostService(testConfig(), zap.NewNop(), Options{
		Link:       hub.Join(models.PeerNode{ID: "phone"}, nil),
		Classifier: classifier.Func(func(context.Context, models.AudioWindow) ([]models.Classification, error) { return nil, nil }),
	})
	require.NoError(t, err)

	// 启动之前收到激活请求
	_, err = peerlink.Broadcast(context.Background(), watch.link, peerlink.PathStartActivity, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, svc.Listening())
	assert.ErrorIs(t, svc.StartListening(), ErrNotRunning)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.ErrorIs(t, svc.StartListening(), ErrNotRunning)
	assert.False(t, svc.Listening())
}
