package observer

import (
	"sync"

	"browser-task-scheduler/internal/models"
)

// Reporter is the progress channel an action sees for its own task.
type Reporter interface {
	Info(msg string)
	Warning(msg string)
	Progress(msg string, done, total int)
}

// TaskReporter binds an Observer to one task and keeps progress monotonic:
// done never decreases and never exceeds total.
type TaskReporter struct {
	obs  Observer
	task models.Task

	mu    sync.Mutex
	done  int
	total int
}

// ForTask returns a reporter for task.
func ForTask(obs Observer, task models.Task) *TaskReporter {
	if obs == nil {
		obs = Nop{}
	}
	return &TaskReporter{obs: obs, task: task}
}

func (r *TaskReporter) Info(msg string)    { r.obs.Info(r.task, msg) }
func (r *TaskReporter) Warning(msg string) { r.obs.Warning(r.task, msg) }

func (r *TaskReporter) Progress(msg string, done, total int) {
	r.mu.Lock()
	if total < r.total {
		total = r.total
	}
	if total < 0 {
		total = 0
	}
	if done < r.done {
		done = r.done
	}
	if done > total {
		done = total
	}
	r.done, r.total = done, total
	r.mu.Unlock()
	r.obs.Progress(r.task, msg, done, total)
}
