package models

import "time"

// DefaultSampleRate 默认采样率（16 kHz 单声道）
const DefaultSampleRate = 16000

// AudioWindow 一个定长的音频窗口（有符号 16 位 PCM）
// 每次采样 tick 消费一次，分类后即丢弃
type AudioWindow struct {
	Samples    []int16
	SampleRate int
	CapturedAt time.Time
}

// Duration 窗口时长
func (w AudioWindow) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Classification 分类结果（label + 置信度，score ∈ [0,1]）
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}
