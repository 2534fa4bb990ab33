package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// OutcomeWriter is the part of Store the recorder needs.
type OutcomeWriter interface {
	RecordOutcome(ctx context.Context, rec models.OutcomeRecord) (int64, error)
}

// Recorder persists terminal scheduler events under one run id. Writes happen
// on a background goroutine so observers never block the scheduler.
type Recorder struct {
	runID  string
	w      OutcomeWriter
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	recs   chan models.OutcomeRecord
	done   chan struct{}
}

func NewRecorder(w OutcomeWriter, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		runID:  uuid.NewString(),
		w:      w,
		logger: logger,
		recs:   make(chan models.OutcomeRecord, 256),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// RunID identifies this process's records.
func (r *Recorder) RunID() string { return r.runID }

// Observer returns the sink to fan scheduler events into.
func (r *Recorder) Observer() observer.Observer {
	return observer.Func(r.handle)
}

func (r *Recorder) handle(ev observer.Event) {
	if !ev.Kind.Terminal() {
		return
	}
	rec := models.OutcomeRecord{
		RunID:       r.runID,
		TaskID:      ev.TaskID,
		IdentityKey: ev.IdentityKey,
		ActionName:  ev.Action,
		Outcome:     string(ev.Kind),
		Message:     ev.Msg,
		Recorded:    ev.At,
	}
	if ev.RawProxy != "" {
		raw := ev.RawProxy
		rec.RawProxy = &raw
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.recs <- rec:
	default:
		r.logger.Warn("outcome recorder full, dropping", zap.String("task_id", rec.TaskID))
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.recs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.w.RecordOutcome(ctx, rec); err != nil {
			r.logger.Warn("record outcome", zap.String("task_id", rec.TaskID), zap.Error(err))
		}
		cancel()
	}
}

// Close flushes pending records.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.recs)
	}
	r.mu.Unlock()
	<-r.done
}
