package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"helga/helga-common/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ClassifyRequest 推理服务请求
type ClassifyRequest struct {
	SampleRate int     `json:"sample_rate"`
	Samples    []int16 `json:"samples"`
}

// ClassifyResponse 推理服务响应
type ClassifyResponse struct {
	Classifications []models.Classification `json:"classifications"`
	Error           string                  `json:"error,omitempty"`
}

// HTTPClassifier 通过 HTTP 调用推理服务（如 YAMNet 模型服务）
type HTTPClassifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

var _ Classifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier 创建 HTTP 分类器
// 不做重试：下一次采样 tick 就是重试
func NewHTTPClassifier(url string, timeout time.Duration, logger *zap.Logger) *HTTPClassifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPClassifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Classify 推理一个窗口
func (c *HTTPClassifier) Classify(ctx context.Context, window models.AudioWindow) ([]models.Classification, error) {
	if err := Validate(window); err != nil {
		return nil, err
	}

	var response ClassifyResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(ClassifyRequest{SampleRate: window.SampleRate, Samples: window.Samples}).
		SetResult(&response).
		SetError(&response).
		Post(c.url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrMalformedWindow, response.Error)
	case resp.IsError():
		return nil, fmt.Errorf("%w: status %d %s", ErrModelUnavailable, resp.StatusCode(), response.Error)
	}

	c.logger.Debug("Window classified",
		zap.Int("samples", len(window.Samples)),
		zap.Int("classifications", len(response.Classifications)),
		zap.Duration("latency", resp.Time()),
	)
	return response.Classifications, nil
}
