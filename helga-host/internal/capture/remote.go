package capture

import (
	"context"

	"helga/helga-common/models"
	"helga/helga-common/peerlink"

	"go.uber.org/zap"
)

// RemoteSource 由伴侣设备经 /voice_transcription 发来的 PCM 填充
type RemoteSource struct {
	window *latestWindow
	logger *zap.Logger
}

var _ Source = (*RemoteSource)(nil)

// NewRemoteSource 创建远程音频来源
func NewRemoteSource(windowSamples, sampleRate int, logger *zap.Logger) *RemoteSource {
	return &RemoteSource{
		window: newLatestWindow(windowSamples, sampleRate),
		logger: logger,
	}
}

// HandleMessage /voice_transcription 消息处理函数
func (s *RemoteSource) HandleMessage(msg peerlink.Message) {
	samples := peerlink.DecodePCM(msg.Data)
	if len(samples) == 0 {
		s.logger.Debug("Empty voice payload", zap.String("from", msg.From))
		return
	}
	s.window.write(samples)
}

// Next 最新窗口
func (s *RemoteSource) Next(ctx context.Context) (models.AudioWindow, error) {
	return s.window.next(ctx)
}

// Close 关闭来源
func (s *RemoteSource) Close() error {
	s.window.close(ErrSourceClosed)
	return nil
}
