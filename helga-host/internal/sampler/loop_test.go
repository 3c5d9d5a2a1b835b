package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"helga/helga-common/metrics"
	"helga/helga-common/models"
	"helga/helga-host/internal/capture"
	"helga/helga-host/internal/classifier"
	hostconfig "helga/helga-host/internal/config"
	"helga/helga-host/internal/evaluator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 立即返回固定窗口；block 为 true 时一直阻塞到 ctx 取消或 Close
type fakeSource struct {
	block  bool
	closed atomic.Bool
	once   sync.Once
	stop   chan struct{}
}

func newFakeSource(block bool) *fakeSource {
	return &fakeSource{block: block, stop: make(chan struct{})}
}

func (s *fakeSource) Next(ctx context.Context) (models.AudioWindow, error) {
	if s.block {
		select {
		case <-ctx.Done():
			return models.AudioWindow{}, ctx.Err()
		case <-s.stop:
			return models.AudioWindow{}, capture.ErrSourceClosed
		}
	}
	if s.closed.Load() {
		return models.AudioWindow{}, capture.ErrSourceClosed
	}
	return models.AudioWindow{Samples: []int16{1, 2}, SampleRate: 16000}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	s.once.Do(func() { close(s.stop) })
	return nil
}

func testConfig() Config {
	return Config{FirstDelay: time.Millisecond, Interval: 5 * time.Millisecond}
}

func TestLoop_ContinuesAfterClassifierFailure(t *testing.T) {
	var calls atomic.Int32
	cls := classifier.Func(func(ctx context.Context, w models.AudioWindow) ([]models.Classification, error) {
		if calls.Add(1) == 1 {
			return nil, classifier.ErrModelUnavailable
		}
		return []models.Classification{{Label: "Siren", Score: 0.9}, {Label: "Speech", Score: 0.95}}, nil
	})

	events := make(chan []models.DetectedEvent, 16)
	src := newFakeSource(false)
	m := metrics.NewHost(prometheus.NewRegistry())
	loop := NewLoop(testConfig(),
		func() (capture.Source, error) { return src, nil },
		cls,
		evaluator.NewFilter(evaluator.DefaultThreshold, hostconfig.DefaultVocabulary),
		func(e []models.DetectedEvent) { events <- e },
		m, zap.NewNop())

	require.NoError(t, loop.Start(context.Background()))
	assert.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyRunning)

	select {
	case got := <-events:
		require.Len(t, got, 1)
		assert.Equal(t, "siren", got[0].Label)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after classifier recovered")
	}

	loop.Stop()
	assert.False(t, loop.Running())
	assert.True(t, src.closed.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestLoop_NoEventsNoCallback(t *testing.T) {
	var ticks atomic.Int32
	cls := classifier.Func(func(ctx context.Context, w models.AudioWindow) ([]models.Classification, error) {
		ticks.Add(1)
		return []models.Classification{{Label: "Speech", Score: 0.99}}, nil
	})

	called := atomic.Bool{}
	loop := NewLoop(testConfig(),
		func() (capture.Source, error) { return newFakeSource(false), nil },
		cls,
		evaluator.NewFilter(evaluator.DefaultThreshold, hostconfig.DefaultVocabulary),
		func([]models.DetectedEvent) { called.Store(true) },
		nil, zap.NewNop())

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	loop.Stop()
	assert.False(t, called.Load())
}

func TestLoop_StopWhileBlockedOnAudio(t *testing.T) {
	src := newFakeSource(true)
	loop := NewLoop(testConfig(),
		func() (capture.Source, error) { return src, nil },
		classifier.Func(func(context.Context, models.AudioWindow) ([]models.Classification, error) {
			t.Error("classifier must not run without audio")
			return nil, nil
		}),
		evaluator.NewFilter(evaluator.DefaultThreshold, hostconfig.DefaultVocabulary),
		func([]models.DetectedEvent) {},
		nil, zap.NewNop())

	require.NoError(t, loop.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a tick was blocked")
	}
	assert.True(t, src.closed.Load())

	// 停止后可以重新启动
	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()
}

func TestLoop_StartFailsWhenSourceUnavailable(t *testing.T) {
	loop := NewLoop(testConfig(),
		func() (capture.Source, error) { return nil, errors.New("no microphone") },
		nil, nil, nil, nil, zap.NewNop())

	err := loop.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, loop.Running())
	loop.Stop()
}
