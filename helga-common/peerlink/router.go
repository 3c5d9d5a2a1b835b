package peerlink

import (
	"sync"

	"go.uber.org/zap"
)

// router 按路径分发入站消息和数据项
type router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages map[string]MessageHandler
	items    map[string]DataItemHandler
}

func newRouter(logger *zap.Logger) *router {
	return &router{
		logger:   logger,
		messages: make(map[string]MessageHandler),
		items:    make(map[string]DataItemHandler),
	}
}

func (r *router) handleMessage(path string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[path] = h
}

func (r *router) handleDataItem(path string, h DataItemHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[path] = h
}

func (r *router) dataItemHandler(path string) DataItemHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[path]
}

func (r *router) dispatchMessage(msg Message) {
	r.mu.RLock()
	h := r.messages[msg.Path]
	r.mu.RUnlock()

	if h == nil {
		r.logger.Debug("No handler for message path",
			zap.String("path", msg.Path),
			zap.String("from", msg.From),
		)
		return
	}
	h(msg)
}

func (r *router) dispatchDataItem(item DataItem) {
	h := r.dataItemHandler(item.Path)
	if h == nil {
		r.logger.Debug("No handler for data item path",
			zap.String("path", item.Path),
			zap.String("owner", item.Owner),
		)
		return
	}
	h(item)
}
