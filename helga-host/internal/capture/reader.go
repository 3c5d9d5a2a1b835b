package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"

	"go.uber.org/zap"
)

// Stream 持续读取一个实时 PCM 流（单声道 S16_LE，如 `arecord -t raw -f S16_LE -r 16000 -c 1`），
// 把采样交给当前打开的来源；没有打开的来源时丢弃
// 同一个流（如标准输入）可以反复 Open/Close，底层 reader 不会被关闭
type Stream struct {
	r      io.Reader
	logger *zap.Logger
	once   sync.Once

	mu      sync.Mutex
	current *latestWindow
	err     error
}

// NewStream 创建共享流；第一次 Open 时开始读取
func NewStream(r io.Reader, logger *zap.Logger) *Stream {
	return &Stream{r: r, logger: logger}
}

// Open 打开一个只保留最新窗口的来源；之前打开的来源被关闭
func (s *Stream) Open(windowSamples, sampleRate int) *ReaderSource {
	src := &ReaderSource{stream: s, window: newLatestWindow(windowSamples, sampleRate)}

	s.mu.Lock()
	prev := s.current
	s.current = src.window
	err := s.err
	s.mu.Unlock()

	if prev != nil {
		prev.close(ErrSourceClosed)
	}
	if err != nil {
		src.window.close(err)
		return src
	}
	s.once.Do(func() { go s.readLoop() })
	return src
}

func (s *Stream) detach(w *latestWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == w {
		s.current = nil
	}
}

func (s *Stream) readLoop() {
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// 奇数字节留到下一次
			even := len(data) &^ 1
			samples := peerlink.DecodePCM(data[:even])
			carry = append(carry[:0], data[even:]...)

			s.mu.Lock()
			cur := s.current
			s.mu.Unlock()
			if cur != nil {
				cur.write(samples)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("Audio stream ended")
			} else {
				s.logger.Warn("Audio stream read failed", zap.Error(err))
			}
			closeErr := fmt.Errorf("%w: %v", ErrSourceClosed, err)
			s.mu.Lock()
			s.err = closeErr
			cur := s.current
			s.mu.Unlock()
			if cur != nil {
				cur.close(closeErr)
			}
			return
		}
	}
}

// ReaderSource 实时流上的一次采集，只保留最新的一个窗口
type ReaderSource struct {
	stream *Stream
	window *latestWindow
	owned  io.Closer
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource 在独占的 reader 上创建来源；Close 时一并关闭 reader（如果是 io.Closer）
func NewReaderSource(r io.Reader, windowSamples, sampleRate int, logger *zap.Logger) *ReaderSource {
	src := NewStream(r, logger).Open(windowSamples, sampleRate)
	if c, ok := r.(io.Closer); ok {
		src.owned = c
	}
	return src
}

// Next 最新窗口
func (s *ReaderSource) Next(ctx context.Context) (models.AudioWindow, error) {
	return s.window.next(ctx)
}

// Close 停止接收采样；共享流本身继续读取
func (s *ReaderSource) Close() error {
	s.window.close(ErrSourceClosed)
	s.stream.detach(s.window)
	if s.owned != nil {
		return s.owned.Close()
	}
	return nil
}
