// Package observer carries scheduler progress and outcome events to sinks.
//
// Implementations must be safe for concurrent use: workers emit progress
// directly while the scheduler reactor emits lifecycle events.
package observer

import (
	"time"

	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
)

// Observer receives scheduler events.
type Observer interface {
	Info(task models.Task, msg string)
	Warning(task models.Task, msg string)
	Progress(task models.Task, msg string, done, total int)
	Failed(task models.Task, msg string, rawProxy string)
	Error(task models.Task, msg string)
	Succeeded(task models.Task, msg string, rawProxy string)
	ProxyNotReady(task models.Task, rawProxy string)
	ProxyUnavailable(task models.Task, rawProxy string)
	AllFinished(msg string)
}

// Kind names an event.
type Kind string

const (
	KindInfo             Kind = "info"
	KindWarning          Kind = "warning"
	KindProgress         Kind = "progress"
	KindFailed           Kind = "failed"
	KindError            Kind = "error"
	KindSucceeded        Kind = "succeeded"
	KindProxyNotReady    Kind = "proxy_not_ready"
	KindProxyUnavailable Kind = "proxy_unavailable"
	KindAllFinished      Kind = "all_finished"
)

// Terminal reports whether the kind ends a dispatch.
func (k Kind) Terminal() bool {
	switch k {
	case KindFailed, KindError, KindSucceeded, KindProxyNotReady, KindProxyUnavailable:
		return true
	}
	return false
}

// Event is the flattened form of an observer call.
type Event struct {
	Kind        Kind      `json:"kind"`
	TaskID      string    `json:"task_id,omitempty"`
	IdentityKey string    `json:"identity_key,omitempty"`
	Action      string    `json:"action,omitempty"`
	Msg         string    `json:"msg,omitempty"`
	RawProxy    string    `json:"raw_proxy,omitempty"`
	Done        int       `json:"done,omitempty"`
	Total       int       `json:"total,omitempty"`
	At          time.Time `json:"at"`
}

// Func adapts a single event handler to the Observer interface.
type Func func(Event)

func (f Func) emit(task models.Task, kind Kind, msg, raw string, done, total int) {
	f(Event{
		Kind:        kind,
		TaskID:      task.ID,
		IdentityKey: task.IdentityKey,
		Action:      task.ActionName,
		Msg:         msg,
		RawProxy:    raw,
		Done:        done,
		Total:       total,
		At:          time.Now(),
	})
}

func (f Func) Info(task models.Task, msg string)    { f.emit(task, KindInfo, msg, "", 0, 0) }
func (f Func) Warning(task models.Task, msg string) { f.emit(task, KindWarning, msg, "", 0, 0) }
func (f Func) Progress(task models.Task, msg string, done, total int) {
	f.emit(task, KindProgress, msg, "", done, total)
}
func (f Func) Failed(task models.Task, msg, raw string) { f.emit(task, KindFailed, msg, raw, 0, 0) }
func (f Func) Error(task models.Task, msg string)       { f.emit(task, KindError, msg, "", 0, 0) }
func (f Func) Succeeded(task models.Task, msg, raw string) {
	f.emit(task, KindSucceeded, msg, raw, 0, 0)
}
func (f Func) ProxyNotReady(task models.Task, raw string) {
	f.emit(task, KindProxyNotReady, "", raw, 0, 0)
}
func (f Func) ProxyUnavailable(task models.Task, raw string) {
	f.emit(task, KindProxyUnavailable, "", raw, 0, 0)
}
func (f Func) AllFinished(msg string) {
	f(Event{Kind: KindAllFinished, Msg: msg, At: time.Now()})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Info(models.Task, string) {}
func (Nop) Warning(models.Task, string) {}
func (Nop) Progress(models.Task, string, int, int) {}
func (Nop) Failed(models.Task, string, string) {}
func (Nop) Error(models.Task, string) {}
func (Nop) Succeeded(models.Task, string, string) {}
func (Nop) ProxyNotReady(models.Task, string) {}
func (Nop) ProxyUnavailable(models.Task, string) {}
func (Nop) AllFinished(string) {}

// Fanout delivers each event to every observer. A panicking observer is
// logged and skipped so it can never unwind into the scheduler.
type Fanout struct {
	observers []Observer
	logger    *zap.Logger
}

// NewFanout builds a fan-out over the non-nil observers.
func NewFanout(logger *zap.Logger, observers ...Observer) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return &Fanout{observers: out, logger: logger}
}

func (f *Fanout) each(event string, call func(Observer)) {
	for _, o := range f.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("observer panicked", zap.String("event", event), zap.Any("panic", r))
				}
			}()
			call(o)
		}()
	}
}

func (f *Fanout) Info(task models.Task, msg string) {
	f.each("info", func(o Observer) { o.Info(task, msg) })
}

func (f *Fanout) Warning(task models.Task, msg string) {
	f.each("warning", func(o Observer) { o.Warning(task, msg) })
}

func (f *Fanout) Progress(task models.Task, msg string, done, total int) {
	f.each("progress", func(o Observer) { o.Progress(task, msg, done, total) })
}

func (f *Fanout) Failed(task models.Task, msg, raw string) {
	f.each("failed", func(o Observer) { o.Failed(task, msg, raw) })
}

func (f *Fanout) Error(task models.Task, msg string) {
	f.each("error", func(o Observer) { o.Error(task, msg) })
}

func (f *Fanout) Succeeded(task models.Task, msg, raw string) {
	f.each("succeeded", func(o Observer) { o.Succeeded(task, msg, raw) })
}

func (f *Fanout) ProxyNotReady(task models.Task, raw string) {
	f.each("proxy_not_ready", func(o Observer) { o.ProxyNotReady(task, raw) })
}

func (f *Fanout) ProxyUnavailable(task models.Task, raw string) {
	f.each("proxy_unavailable", func(o Observer) { o.ProxyUnavailable(task, raw) })
}

func (f *Fanout) AllFinished(msg string) {
	f.each("all_finished", func(o Observer) { o.AllFinished(msg) })
}
