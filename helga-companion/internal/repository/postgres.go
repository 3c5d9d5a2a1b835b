package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"helga/helga-common/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pqUniqueViolation PostgreSQL unique_violation
const pqUniqueViolation = "23505"

// PostgresEventLog PostgreSQL 报警日志
type PostgresEventLog struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ EventLog = (*PostgresEventLog)(nil)

// NewPostgresEventLog 创建 PostgreSQL 报警日志
func NewPostgresEventLog(db *sql.DB, logger *zap.Logger) *PostgresEventLog {
	return &PostgresEventLog{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（已存在时无操作）
// logged_at 存定宽 UTC 时间戳文本，作为主键
func (r *PostgresEventLog) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS alert_log (
			logged_at TEXT PRIMARY KEY,
			message   TEXT NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create alert_log: %w", err)
	}
	return nil
}

// Append 追加记录
func (r *PostgresEventLog) Append(ctx context.Context, entry models.LogEntry) error {
	query := `INSERT INTO alert_log (logged_at, message) VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, entry.Timestamp, entry.Message); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("append %s: %w", entry.Timestamp, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert alert_log: %w", err)
	}
	return nil
}

// QueryAll 最新的在前
func (r *PostgresEventLog) QueryAll(ctx context.Context) ([]models.LogEntry, error) {
	query := `
		SELECT logged_at, message
		FROM alert_log
		ORDER BY logged_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert_log: %w", err)
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan alert_log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert_log: %w", err)
	}
	return entries, nil
}

// Delete 删除记录
func (r *PostgresEventLog) Delete(ctx context.Context, timestamp string) error {
	query := `DELETE FROM alert_log WHERE logged_at = $1`

	result, err := r.db.ExecContext(ctx, query, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete alert_log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", timestamp, ErrNotFound)
	}
	r.logger.Info("Alert log entry deleted", zap.String("timestamp", timestamp))
	return nil
}
