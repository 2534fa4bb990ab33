package scheduler

import (
	"time"

	"browser-task-scheduler/internal/proxy"
)

// InFlight describes one running dispatch.
type InFlight struct {
	TaskID      string    `json:"task_id"`
	IdentityKey string    `json:"identity_key"`
	Action      string    `json:"action"`
	RawProxy    string    `json:"raw_proxy"`
	Since       time.Time `json:"since"`
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State      State          `json:"state"`
	Queued     int            `json:"queued"`
	InProgress []InFlight     `json:"in_progress"`
	Pool       proxy.Snapshot `json:"pool"`
	Profiles   int            `json:"profiles"`
	Settings   Settings       `json:"settings"`
	Accepted   int            `json:"accepted"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Errored    int            `json:"errored"`
}

// Snapshot copies the reactor state.
func (s *Scheduler) Snapshot() Snapshot {
	var snap Snapshot
	s.call(func() {
		snap = Snapshot{
			State:      s.state,
			Queued:     s.queue.Len(),
			InProgress: make([]InFlight, 0, len(s.inProgress)),
			Pool:       s.pool.Snapshot(),
			Profiles:   s.locks.Len(),
			Settings:   s.settings,
			Accepted:   s.cycle.accepted,
			Succeeded:  s.cycle.succeeded,
			Failed:     s.cycle.failed,
			Errored:    s.cycle.errored,
		}
		for _, d := range s.inProgress {
			snap.InProgress = append(snap.InProgress, InFlight{
				TaskID:      d.task.ID,
				IdentityKey: d.task.IdentityKey,
				Action:      d.task.ActionName,
				RawProxy:    d.raw,
				Since:       d.started,
			})
		}
	})
	return snap
}
