package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/planner"
	"browser-task-scheduler/internal/scheduler"
	"browser-task-scheduler/internal/telemetry"
)

// Scheduler is the part of scheduler.Scheduler the API drives.
type Scheduler interface {
	AddBrowsers(tasks []models.Task, proxies []string) int
	Snapshot() scheduler.Snapshot
	Settings() scheduler.Settings
	SetSettings(scheduler.Settings)
	Cancel(ctx context.Context) error
}

// Prober queues liveness probes.
type Prober interface {
	Add(probes []models.LivenessProbe) int
	Pending() int
	Cap() int
}

// OutcomeReader lists persisted outcomes.
type OutcomeReader interface {
	RecentOutcomes(ctx context.Context, runID string, limit int) ([]models.OutcomeRecord, error)
	OutcomeCounts(ctx context.Context, runID string) (map[string]int, error)
}

// EventReader lists journaled events.
type EventReader interface {
	Recent(ctx context.Context, n int64) ([]observer.Event, error)
}

// Deps are the collaborators behind the control API. Prober, Outcomes and
// Events are optional; their routes answer 503 when unset.
type Deps struct {
	Scheduler Scheduler
	Prober    Prober
	Outcomes  OutcomeReader
	Events    EventReader
	Logger    *zap.Logger
}

// Server wires HTTP handlers for the scheduler control API.
type Server struct {
	sched    Scheduler
	prober   Prober
	outcomes OutcomeReader
	events   EventReader
	logger   *zap.Logger
}

// New constructs the API server.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sched:    d.Scheduler,
		prober:   d.Prober,
		outcomes: d.Outcomes,
		events:   d.Events,
		logger:   logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/runs", s.handleRun)
	r.Post("/runs/plan", s.handlePlan)
	r.Get("/status", s.handleStatus)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	r.Post("/cancel", s.handleCancel)
	r.Post("/liveness", s.handleLiveness)
	r.Get("/outcomes", s.handleOutcomes)
	r.Get("/journal", s.handleJournal)
	return r
}

type taskRequest struct {
	IdentityKey string         `json:"identity_key"`
	ProfileDir  string         `json:"profile_dir"`
	Action      string         `json:"action"`
	Payload     map[string]any `json:"payload"`
	Device      string         `json:"device"`
	Headless    bool           `json:"headless"`
}

type runRequest struct {
	Tasks   []taskRequest `json:"tasks"`
	Proxies []string      `json:"proxies"`
}

type planRequest struct {
	Identities map[string]planner.Identity `json:"identities"`
	Proxies    []string                    `json:"proxies"`
}

type runResponse struct {
	Submitted int `json:"submitted"`
	Accepted  int `json:"accepted"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tasks := make([]models.Task, 0, len(req.Tasks))
	for _, tr := range req.Tasks {
		t := models.NewTask(tr.IdentityKey, tr.ProfileDir, tr.Action, tr.Payload, tr.Device, tr.Headless)
		if err := t.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tasks = append(tasks, t)
	}
	accepted := s.sched.AddBrowsers(tasks, req.Proxies)
	s.logger.Info("run submitted", zap.Int("tasks", len(tasks)), zap.Int("accepted", accepted), zap.Int("proxies", len(req.Proxies)))
	writeJSON(w, http.StatusAccepted, runResponse{Submitted: len(tasks), Accepted: accepted})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	roster := planner.Roster{Identities: req.Identities}
	if err := roster.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tasks := roster.Tasks()
	accepted := s.sched.AddBrowsers(tasks, req.Proxies)
	s.logger.Info("plan submitted", zap.Int("identities", len(req.Identities)), zap.Int("tasks", len(tasks)), zap.Int("accepted", accepted))
	writeJSON(w, http.StatusAccepted, runResponse{Submitted: len(tasks), Accepted: accepted})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

// settingsBody uses duration strings ("10s") on the wire.
type settingsBody struct {
	ConcurrencyCap int    `json:"concurrency_cap,omitempty"`
	PlatformCap    int    `json:"platform_cap,omitempty"`
	CoolDown       string `json:"cool_down,omitempty"`
	NoProxyBackoff string `json:"no_proxy_backoff,omitempty"`
}

func toBody(st scheduler.Settings) settingsBody {
	return settingsBody{
		ConcurrencyCap: st.ConcurrencyCap,
		PlatformCap:    st.PlatformCap,
		CoolDown:       st.CoolDown.String(),
		NoProxyBackoff: st.NoProxyBackoff.String(),
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toBody(s.sched.Settings()))
}

// handlePutSettings applies the fields present in the body on top of the
// current settings.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	st := s.sched.Settings()
	if body.ConcurrencyCap < 0 || body.PlatformCap < 0 {
		http.Error(w, "caps must be positive", http.StatusBadRequest)
		return
	}
	if body.ConcurrencyCap > 0 {
		st.ConcurrencyCap = body.ConcurrencyCap
	}
	if body.PlatformCap > 0 {
		st.PlatformCap = body.PlatformCap
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{{body.CoolDown, &st.CoolDown}, {body.NoProxyBackoff, &st.NoProxyBackoff}} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid duration "+f.raw, http.StatusBadRequest)
			return
		}
		*f.dst = d
	}
	s.sched.SetSettings(st)
	writeJSON(w, http.StatusOK, toBody(s.sched.Settings()))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.sched.Cancel(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
			return
		}
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type livenessRequest struct {
	Probes []models.LivenessProbe `json:"probes"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		http.Error(w, "liveness checks not configured", http.StatusServiceUnavailable)
		return
	}
	var req livenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	accepted := s.prober.Add(req.Probes)
	writeJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"pending":  s.prober.Pending(),
		"workers":  s.prober.Cap(),
	})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		http.Error(w, "outcome store not configured", http.StatusServiceUnavailable)
		return
	}
	runID := r.URL.Query().Get("run_id")
	recs, err := s.outcomes.RecentOutcomes(r.Context(), runID, limitParam(r, 100))
	if err != nil {
		s.logger.Error("read outcomes", zap.Error(err))
		http.Error(w, "failed to read outcomes", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"items": recs}
	// Counts are per run; without a run_id only the recent items are listed.
	if runID != "" {
		counts, err := s.outcomes.OutcomeCounts(r.Context(), runID)
		if err != nil {
			s.logger.Error("count outcomes", zap.String("run_id", runID), zap.Error(err))
			http.Error(w, "failed to count outcomes", http.StatusInternalServerError)
			return
		}
		resp["counts"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "journal not configured", http.StatusServiceUnavailable)
		return
	}
	events, err := s.events.Recent(r.Context(), int64(limitParam(r, 100)))
	if err != nil {
		s.logger.Error("read journal", zap.Error(err))
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 1000)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
