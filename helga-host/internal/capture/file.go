package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"
)

// FileSource 从 PCM 文件顺序读取窗口，读到结尾后从头开始
// 与实时流不同，每次 Next 返回下一个窗口而不是最新窗口
type FileSource struct {
	size       int
	sampleRate int

	mu     sync.Mutex
	f      *os.File
	closed bool
}

var _ Source = (*FileSource)(nil)

// OpenFileSource 打开 PCM 文件
func OpenFileSource(path string, windowSamples, sampleRate int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() < int64(windowSamples*2) {
		f.Close()
		return nil, fmt.Errorf("audio file %s shorter than one window", path)
	}
	if sampleRate <= 0 {
		sampleRate = models.DefaultSampleRate
	}
	return &FileSource{size: windowSamples, sampleRate: sampleRate, f: f}, nil
}

// Next 下一个窗口
func (s *FileSource) Next(ctx context.Context) (models.AudioWindow, error) {
	if err := ctx.Err(); err != nil {
		return models.AudioWindow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.AudioWindow{}, ErrSourceClosed
	}

	buf := make([]byte, s.size*2)
	_, err := io.ReadFull(s.f, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if _, err = s.f.Seek(0, io.SeekStart); err == nil {
			_, err = io.ReadFull(s.f, buf)
		}
	}
	if err != nil {
		return models.AudioWindow{}, fmt.Errorf("%w: %v", ErrSourceClosed, err)
	}
	return models.AudioWindow{
		Samples:    peerlink.DecodePCM(buf),
		SampleRate: s.sampleRate,
		CapturedAt: time.Now(),
	}, nil
}

// Close 关闭文件
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
