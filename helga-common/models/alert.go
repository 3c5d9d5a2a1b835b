package models

import "time"

// LogKeyLayout 日志键的时间格式（UTC，纳秒精度，定宽，字典序即时间序）
const LogKeyLayout = "2006-01-02T15:04:05.000000000Z"

// AlertState 伴侣设备上的报警状态（每台设备只有一个实例）
// 不变式：Active == false 时 CurrentLabel 和 Since 都为 nil
type AlertState struct {
	Active       bool       `json:"active"`
	CurrentLabel *string    `json:"current_label"`
	Since        *time.Time `json:"since"`
}

// LogEntry 报警历史记录（以 Timestamp 为唯一键，只追加）
type LogEntry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewLogEntry 用事件时间生成日志记录
func NewLogEntry(message string, at time.Time) LogEntry {
	return LogEntry{
		Message:   message,
		Timestamp: at.UTC().Format(LogKeyLayout),
	}
}

// Time 解析日志键对应的时间
func (e LogEntry) Time() (time.Time, error) {
	return time.Parse(LogKeyLayout, e.Timestamp)
}
