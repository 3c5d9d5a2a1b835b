package evaluator

import (
	"strings"
	"time"

	"helga/helga-common/models"
)

// DefaultThreshold 默认置信度阈值（严格大于）
const DefaultThreshold = 0.3

// Filter 事件过滤器：置信度阈值 + 关键词子串匹配
// 不做跨 tick 去重，去重由伴侣设备上的报警状态机负责
type Filter struct {
	threshold  float64
	vocabulary []string
	now        func() time.Time
}

// NewFilter 创建过滤器；关键词统一转小写
func NewFilter(threshold float64, vocabulary []string) *Filter {
	vocab := make([]string, 0, len(vocabulary))
	for _, v := range vocabulary {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			vocab = append(vocab, v)
		}
	}
	return &Filter{threshold: threshold, vocabulary: vocab, now: time.Now}
}

// Apply 过滤一次 tick 的全部分类结果
// 每个符合条件的分类产生一个事件（标签转小写）；没有符合条件的返回 nil
func (f *Filter) Apply(classifications []models.Classification) []models.DetectedEvent {
	var events []models.DetectedEvent
	for _, c := range classifications {
		if c.Score <= f.threshold {
			continue
		}
		label := strings.ToLower(c.Label)
		if !f.Qualifies(label) {
			continue
		}
		events = append(events, models.DetectedEvent{
			Label:     label,
			Timestamp: f.now(),
		})
	}
	return events
}

// Qualifies 标签（小写后）是否包含任一关键词
func (f *Filter) Qualifies(label string) bool {
	label = strings.ToLower(label)
	for _, v := range f.vocabulary {
		if strings.Contains(label, v) {
			return true
		}
	}
	return false
}
