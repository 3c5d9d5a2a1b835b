// Package repository 报警历史日志
//
// 日志以时间戳为唯一键、只追加：重复的键写入失败并返回 ErrDuplicateKey。
package repository

import (
	"context"
	"errors"

	"helga/helga-common/models"
)

var (
	// ErrDuplicateKey 同一时间戳的记录已存在
	ErrDuplicateKey = errors.New("event log: duplicate key")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("event log: entry not found")
)

// EventLog 报警历史日志
type EventLog interface {
	// Append 追加一条记录；键已存在时返回 ErrDuplicateKey
	Append(ctx context.Context, entry models.LogEntry) error
	// QueryAll 全部记录，最新的在前
	QueryAll(ctx context.Context) ([]models.LogEntry, error)
	// Delete 按键删除一条记录
	Delete(ctx context.Context, timestamp string) error
}
