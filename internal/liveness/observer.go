package liveness

import (
	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
)

// LogObserver writes probe results to a zap logger.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) Succeeded(p models.LivenessProbe, alive bool) {
	o.Logger.Info("identity probed",
		zap.Int("record_id", p.RecordID),
		zap.String("identity", p.IdentityKey),
		zap.Bool("alive", alive),
	)
}

func (o LogObserver) Failed(p models.LivenessProbe, msg string) {
	o.Logger.Warn("identity probe failed",
		zap.Int("record_id", p.RecordID),
		zap.String("identity", p.IdentityKey),
		zap.String("msg", msg),
	)
}

func (o LogObserver) AllFinished() {
	o.Logger.Info("liveness probes finished")
}
