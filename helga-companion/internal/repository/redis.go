package repository

import (
	"context"
	"fmt"

	"helga/helga-common/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisEventLog Redis 报警日志
//
//	<prefix>:entries  HASH  timestamp -> message（HSETNX 保证键唯一）
//	<prefix>:index    ZSET  score 全为 0，按成员字典序排序，即时间序
type RedisEventLog struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ EventLog = (*RedisEventLog)(nil)

// NewRedisEventLog 创建 Redis 报警日志
func NewRedisEventLog(client *redis.Client, prefix string, logger *zap.Logger) *RedisEventLog {
	if prefix == "" {
		prefix = "helga:alert_log"
	}
	return &RedisEventLog{client: client, prefix: prefix, logger: logger}
}

func (r *RedisEventLog) entriesKey() string { return r.prefix + ":entries" }
func (r *RedisEventLog) indexKey() string   { return r.prefix + ":index" }

// Append 追加记录
func (r *RedisEventLog) Append(ctx context.Context, entry models.LogEntry) error {
	ok, err := r.client.HSetNX(ctx, r.entriesKey(), entry.Timestamp, entry.Message).Result()
	if err != nil {
		return fmt.Errorf("failed to write alert log: %w", err)
	}
	if !ok {
		return fmt.Errorf("append %s: %w", entry.Timestamp, ErrDuplicateKey)
	}
	if err := r.client.ZAdd(ctx, r.indexKey(), &redis.Z{Score: 0, Member: entry.Timestamp}).Err(); err != nil {
		// 索引写失败时回滚，避免出现查不到但占着键的记录
		if delErr := r.client.HDel(ctx, r.entriesKey(), entry.Timestamp).Err(); delErr != nil {
			r.logger.Error("Failed to roll back alert log entry",
				zap.String("timestamp", entry.Timestamp),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("failed to index alert log: %w", err)
	}
	return nil
}

// QueryAll 最新的在前
func (r *RedisEventLog) QueryAll(ctx context.Context) ([]models.LogEntry, error) {
	keys, err := r.client.ZRevRangeByLex(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert log index: %w", err)
	}
	entries := []models.LogEntry{}
	if len(keys) == 0 {
		return entries, nil
	}

	values, err := r.client.HMGet(ctx, r.entriesKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert log entries: %w", err)
	}
	for i, v := range values {
		msg, ok := v.(string)
		if !ok {
			// 索引里有但记录已被删除
			continue
		}
		entries = append(entries, models.LogEntry{Message: msg, Timestamp: keys[i]})
	}
	return entries, nil
}

// Delete 删除记录
func (r *RedisEventLog) Delete(ctx context.Context, timestamp string) error {
	n, err := r.client.HDel(ctx, r.entriesKey(), timestamp).Result()
	if err != nil {
		return fmt.Errorf("failed to delete alert log entry: %w", err)
	}
	if err := r.client.ZRem(ctx, r.indexKey(), timestamp).Err(); err != nil {
		return fmt.Errorf("failed to delete alert log index: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", timestamp, ErrNotFound)
	}
	return nil
}
