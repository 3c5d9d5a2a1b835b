package peerlink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Broadcast 并行向所有已连接对端发送同一条消息
// 单个对端失败只记录日志，不影响其他对端；返回成功发送的数量和合并后的错误
func Broadcast(ctx context.Context, link Link, path string, data []byte, logger *zap.Logger) (int, error) {
	nodes, err := link.ConnectedNodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list connected nodes: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		sent int
		errs []error
	)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			if err := link.SendMessage(ctx, node.ID, path, data); err != nil {
				logger.Warn("Broadcast to peer failed",
					zap.String("peer_id", node.ID),
					zap.String("path", path),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("peer %s: %w", node.ID, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	// goroutine 永远返回 nil，错误单独收集
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return sent, err
	}
	return sent, errors.Join(errs...)
}
