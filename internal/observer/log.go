package observer

import (
	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
)

// Log writes every event to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func taskFields(task models.Task, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("task_id", task.ID),
		zap.String("identity", task.IdentityKey),
		zap.String("action", task.ActionName),
	}, extra...)
}

func (l *Log) Info(task models.Task, msg string) {
	l.logger.Info(msg, taskFields(task)...)
}

func (l *Log) Warning(task models.Task, msg string) {
	l.logger.Warn(msg, taskFields(task)...)
}

func (l *Log) Progress(task models.Task, msg string, done, total int) {
	l.logger.Debug(msg, taskFields(task, zap.Int("done", done), zap.Int("total", total))...)
}

func (l *Log) Failed(task models.Task, msg, raw string) {
	l.logger.Warn("task failed", taskFields(task, zap.String("reason", msg), zap.String("proxy", raw))...)
}

func (l *Log) Error(task models.Task, msg string) {
	l.logger.Error("task error", taskFields(task, zap.String("reason", msg))...)
}

func (l *Log) Succeeded(task models.Task, msg, raw string) {
	l.logger.Info("task succeeded", taskFields(task, zap.String("detail", msg), zap.String("proxy", raw))...)
}

func (l *Log) ProxyNotReady(task models.Task, raw string) {
	l.logger.Info("proxy not ready, cooling", taskFields(task, zap.String("proxy", raw))...)
}

func (l *Log) ProxyUnavailable(task models.Task, raw string) {
	l.logger.Warn("proxy unavailable, dropped", taskFields(task, zap.String("proxy", raw))...)
}

func (l *Log) AllFinished(msg string) {
	l.logger.Info("all tasks finished", zap.String("detail", msg))
}
