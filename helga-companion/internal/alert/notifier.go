package alert

import (
	"go.uber.org/zap"
)

// Notifier 报警提醒的展示（振动、对话框、系统通知）
type Notifier interface {
	Notify(label string)
	Cancel()
}

// LogNotifier 只记录日志的默认实现
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify 显示提醒
func (n *LogNotifier) Notify(label string) {
	n.Logger.Warn("ALERT", zap.String("label", label))
}

// Cancel 撤销提醒
func (n *LogNotifier) Cancel() {
	n.Logger.Info("Alert notification cancelled")
}
