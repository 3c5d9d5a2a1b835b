package peerlink

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// PublishObserver 发送结果回调（用于指标）
type PublishObserver func(path string, err error)

type publishJob struct {
	peerID string // 为空表示写数据项
	path   string
	data   []byte
}

// Publisher 异步发送器
// 调用方（定时 tick）只负责入队，不会被网络调用阻塞；队列满时丢弃并记录日志
// 单个 worker 串行发送，同一调用方入队的顺序即发送顺序
type Publisher struct {
	link     Link
	logger   *zap.Logger
	observer PublishObserver
	queue    chan publishJob

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewPublisher 创建异步发送器，size 为队列长度
func NewPublisher(link Link, size int, logger *zap.Logger, observer PublishObserver) *Publisher {
	if size <= 0 {
		size = 32
	}
	return &Publisher{
		link:     link,
		logger:   logger,
		observer: observer,
		queue:    make(chan publishJob, size),
		done:     make(chan struct{}),
	}
}

// PutDataItem 入队一次数据项写入
func (p *Publisher) PutDataItem(path string, data []byte) bool {
	return p.enqueue(publishJob{path: path, data: data})
}

// SendMessage 入队一条发往指定对端的消息
func (p *Publisher) SendMessage(peerID, path string, data []byte) bool {
	return p.enqueue(publishJob{peerID: peerID, path: path, data: data})
}

func (p *Publisher) enqueue(job publishJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("Publish queue full, dropping",
			zap.String("path", job.path),
			zap.String("peer_id", job.peerID),
		)
		if p.observer != nil {
			p.observer(job.path, ErrPeerUnreachable)
		}
		return false
	}
}

// Run 运行发送 worker，直到 ctx 取消或 Close 后队列排空
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.send(ctx, job)
		}
	}
}

func (p *Publisher) send(ctx context.Context, job publishJob) {
	var err error
	if job.peerID == "" {
		err = p.link.PutDataItem(ctx, job.path, job.data)
	} else {
		err = p.link.SendMessage(ctx, job.peerID, job.path, job.data)
	}
	if err != nil {
		p.logger.Warn("Publish failed",
			zap.String("path", job.path),
			zap.String("peer_id", job.peerID),
			zap.Error(err),
		)
	} else {
		p.logger.Debug("Published",
			zap.String("path", job.path),
			zap.String("peer_id", job.peerID),
			zap.Int("bytes", len(job.data)),
		)
	}
	if p.observer != nil {
		p.observer(job.path, err)
	}
}

// Close 停止接收新任务；Run 会发送完已入队的任务后退出
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
}

// Done Run 退出时关闭
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}
