package models

import "time"

// OutcomeRecord is a terminal task result persisted in Postgres.
type OutcomeRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	TaskID      string    `json:"task_id"`
	IdentityKey string    `json:"identity_key"`
	ActionName  string    `json:"action"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	RawProxy    *string   `json:"raw_proxy,omitempty"`
	Recorded    time.Time `json:"recorded_at"`
}
