// Package classifier 声音分类模型适配层
//
// 模型本身是黑盒：输入一个音频窗口，输出若干 (label, score)。
package classifier

import (
	"context"
	"errors"

	"helga/helga-common/models"
)

var (
	// ErrModelUnavailable 模型未加载或推理服务不可用
	ErrModelUnavailable = errors.New("classifier model unavailable")
	// ErrMalformedWindow 窗口无法用于推理（空窗口、采样率为 0）
	ErrMalformedWindow = errors.New("malformed audio window")
)

// Classifier 分类器
type Classifier interface {
	Classify(ctx context.Context, window models.AudioWindow) ([]models.Classification, error)
}

// Func 函数适配为 Classifier
type Func func(ctx context.Context, window models.AudioWindow) ([]models.Classification, error)

// Classify 调用函数
func (f Func) Classify(ctx context.Context, window models.AudioWindow) ([]models.Classification, error) {
	return f(ctx, window)
}

// Validate 检查窗口是否可以送去推理
func Validate(window models.AudioWindow) error {
	if len(window.Samples) == 0 || window.SampleRate <= 0 {
		return ErrMalformedWindow
	}
	return nil
}
