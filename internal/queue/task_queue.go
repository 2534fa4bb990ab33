package queue

import (
	"browser-task-scheduler/internal/models"
)

// TaskQueue is a FIFO of pending tasks that rejects duplicates at enqueue
// time. It is not safe for concurrent use; the scheduler reactor owns it.
type TaskQueue struct {
	items []models.Task
	keys  map[string]struct{}
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{keys: make(map[string]struct{})}
}

// Enqueue appends tasks in order. A task whose dedup key is already queued,
// already accepted earlier in the same batch, or reported busy by inProgress
// is dropped silently. It returns the accepted tasks.
func (q *TaskQueue) Enqueue(tasks []models.Task, inProgress func(key string) bool) []models.Task {
	accepted := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		key := t.DedupKey()
		if _, ok := q.keys[key]; ok {
			continue
		}
		if inProgress != nil && inProgress(key) {
			continue
		}
		q.keys[key] = struct{}{}
		q.items = append(q.items, t)
		accepted = append(accepted, t)
	}
	return accepted
}

// Requeue puts a task back at the tail without consulting in-progress, used
// when a dispatch comes back with a proxy verdict.
func (q *TaskQueue) Requeue(t models.Task) bool {
	key := t.DedupKey()
	if _, ok := q.keys[key]; ok {
		return false
	}
	q.keys[key] = struct{}{}
	q.items = append(q.items, t)
	return true
}

// Dequeue pops the head task.
func (q *TaskQueue) Dequeue() (models.Task, bool) {
	if len(q.items) == 0 {
		return models.Task{}, false
	}
	t := q.items[0]
	q.items[0] = models.Task{}
	q.items = q.items[1:]
	delete(q.keys, t.DedupKey())
	return t, true
}

func (q *TaskQueue) Len() int { return len(q.items) }

// Drain empties the queue and returns what was pending.
func (q *TaskQueue) Drain() []models.Task {
	out := q.items
	q.items = nil
	q.keys = make(map[string]struct{})
	return out
}
