package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"helga/helga-common/models"
)

// MemoryEventLog 进程内日志（重启后丢失）
type MemoryEventLog struct {
	mu      sync.RWMutex
	entries map[string]string // timestamp -> message
}

var _ EventLog = (*MemoryEventLog)(nil)

// NewMemoryEventLog 创建进程内日志
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{entries: make(map[string]string)}
}

// Append 追加记录
func (l *MemoryEventLog) Append(ctx context.Context, entry models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[entry.Timestamp]; exists {
		return fmt.Errorf("append %s: %w", entry.Timestamp, ErrDuplicateKey)
	}
	l.entries[entry.Timestamp] = entry.Message
	return nil
}

// QueryAll 最新的在前（定宽时间戳的字典序即时间序）
func (l *MemoryEventLog) QueryAll(ctx context.Context) ([]models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.LogEntry, 0, len(l.entries))
	for ts, msg := range l.entries {
		out = append(out, models.LogEntry{Message: msg, Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// Delete 删除记录
func (l *MemoryEventLog) Delete(ctx context.Context, timestamp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[timestamp]; !exists {
		return fmt.Errorf("delete %s: %w", timestamp, ErrNotFound)
	}
	delete(l.entries, timestamp)
	return nil
}
