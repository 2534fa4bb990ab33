package scheduler

import (
	"context"
	"errors"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// ErrUnknownAction is reported when a task names an action nobody registered.
var ErrUnknownAction = errors.New("unknown action")

// Action drives one browser session for one task to a terminal outcome. An
// action that detects a dead proxy mid-flight returns ProxyNotReady or
// ProxyUnavailable so the task is retried on another proxy.
type Action interface {
	Run(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome

func (f ActionFunc) Run(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome {
	return f(ctx, sess, task, rep)
}

// Registry maps action names to implementations.
type Registry map[string]Action

// Register binds an action to a name.
func (r Registry) Register(name string, a Action) {
	if name == "" || a == nil {
		return
	}
	r[name] = a
}

// Resolver turns a raw proxy into a verdict.
type Resolver interface {
	Resolve(ctx context.Context, raw string) models.ProxyVerdict
}
