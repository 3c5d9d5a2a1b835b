// Package capture 主机上的音频来源
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"helga/helga-common/models"
)

// ErrSourceClosed 音频来源已关闭或底层读取失败
var ErrSourceClosed = errors.New("audio source closed")

// Source 音频来源
type Source interface {
	// Next 返回最新的一个完整窗口；没有比上次返回更新的采样时阻塞
	Next(ctx context.Context) (models.AudioWindow, error)
	// Close 释放采集资源；之后 Next 返回 ErrSourceClosed
	Close() error
}

// latestWindow 只保留最近 size 个采样；每个窗口只交出一次
type latestWindow struct {
	size       int
	sampleRate int
	now        func() time.Time

	mu      sync.Mutex
	buf     []int16
	updated time.Time
	err     error
	seq     uint64        // 每次写入加一
	served  uint64        // 上次交出的窗口对应的 seq
	changed chan struct{} // 下一次写入或关闭时关闭
}

func newLatestWindow(size, sampleRate int) *latestWindow {
	if sampleRate <= 0 {
		sampleRate = models.DefaultSampleRate
	}
	return &latestWindow{
		size:       size,
		sampleRate: sampleRate,
		now:        time.Now,
		buf:        make([]int16, 0, size),
		changed:    make(chan struct{}),
	}
}

func (w *latestWindow) write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}

	w.buf = append(w.buf, samples...)
	if len(w.buf) > w.size {
		n := copy(w.buf, w.buf[len(w.buf)-w.size:])
		w.buf = w.buf[:n]
	}
	w.updated = w.now()
	w.seq++
	close(w.changed)
	w.changed = make(chan struct{})
}

// next 阻塞到有一个包含新采样的完整窗口
func (w *latestWindow) next(ctx context.Context) (models.AudioWindow, error) {
	for {
		w.mu.Lock()
		if w.err != nil {
			err := w.err
			w.mu.Unlock()
			return models.AudioWindow{}, err
		}
		if len(w.buf) >= w.size && w.seq != w.served {
			samples := make([]int16, len(w.buf))
			copy(samples, w.buf)
			w.served = w.seq
			window := models.AudioWindow{
				Samples:    samples,
				SampleRate: w.sampleRate,
				CapturedAt: w.updated,
			}
			w.mu.Unlock()
			return window, nil
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.AudioWindow{}, ctx.Err()
		case <-changed:
		}
	}
}

// close 关闭窗口；err 为关闭原因，之后 next 返回该错误
func (w *latestWindow) close(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	w.err = err
	close(w.changed)
}
