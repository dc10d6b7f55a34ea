package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/credits"
	"github.com/sells-group/intel-cli/internal/guardrail"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/pipeline"
	"github.com/sells-group/intel-cli/internal/report"
	"github.com/sells-group/intel-cli/internal/scheduler"
	"github.com/sells-group/intel-cli/internal/store"
)

// api serves the HTTP interface. sched may be nil, in which case the
// monitoring and scheduler routes answer 503.
type api struct {
	store    store.Store
	settings *config.SettingsCache
	pipeline *pipeline.Pipeline
	credits  *credits.Ledger
	sched    *scheduler.Scheduler
}

// buildRouter mounts every route with request logging, panic recovery and
// CORS for the configured origins.
func buildRouter(env *appEnv, sched *scheduler.Scheduler, corsOrigins []string) http.Handler {
	a := &api{
		store:    env.Store,
		settings: env.Settings,
		pipeline: env.Pipeline,
		credits:  env.Credits,
		sched:    sched,
	}

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", a.listProjects)
		r.Post("/", a.createProject)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getProject)
			r.Get("/runs", a.listProjectRuns)
			r.Post("/runs", a.submitRun)
			r.Get("/credits", a.getCredits)
			r.Post("/monitoring", a.startMonitoring)
			r.Delete("/monitoring", a.stopMonitoring)
		})
	})

	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", a.getRun)
		r.Post("/cancel", a.cancelRun)
		r.Post("/rebuild-report", a.rebuildReport)
		r.Get("/guardrails", a.guardrails)
		r.Get("/report", a.getReport)
		r.Get("/findings", a.listFindings)
	})

	r.Patch("/findings/{id}", a.reviewFinding)
	r.Get("/scheduler", a.schedulerStatus)
	r.Get("/settings", a.getSettings)
	r.Put("/settings", a.putSettings)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// -- helpers --

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps not-found errors to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	zap.L().Error("api: store error", zap.String("what", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// -- handlers --

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.store.ListProjects(r.Context())
	if err != nil {
		writeStoreError(w, err, "projects")
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *api) createProject(w http.ResponseWriter, r *http.Request) {
	var p model.Project
	if !decodeJSON(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p.ID = ""
	if err := a.store.CreateProject(r.Context(), &p); err != nil {
		writeStoreError(w, err, "project")
		return
	}
	if p.Monitoring && a.sched != nil {
		a.sched.ScheduleProjectMonitoring(p.ID)
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) listProjectRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListRuns(r.Context(), model.RunFilter{ProjectID: chi.URLParam(r, "id")})
	if err != nil {
		writeStoreError(w, err, "runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// submitRun creates a NEW run and queues it for the worker.
func (a *api) submitRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "id")
	if _, err := a.store.GetProject(ctx, projectID); err != nil {
		writeStoreError(w, err, "project")
		return
	}

	run, err := a.store.CreateRun(ctx, projectID)
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	job, err := a.store.EnqueueJob(ctx, run.ID)
	if err != nil {
		writeStoreError(w, err, "job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": run.ID,
		"job_id": job.ID,
	})
}

func (a *api) getCredits(w http.ResponseWriter, r *http.Request) {
	u, err := a.credits.Usage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "credits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": u.ProjectID,
		"period":     u.Period,
		"used":       u.Used,
		"limit":      u.Limit,
		"remaining":  u.Remaining(),
	})
}

func (a *api) startMonitoring(w http.ResponseWriter, r *http.Request) {
	if a.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	projectID := chi.URLParam(r, "id")
	if _, err := a.store.GetProject(r.Context(), projectID); err != nil {
		writeStoreError(w, err, "project")
		return
	}
	id := a.sched.ScheduleProjectMonitoring(projectID)
	resp := map[string]any{"task_id": id}
	for _, t := range a.sched.Pending() {
		if t.ID == id {
			resp["scheduled_for"] = t.ScheduledFor
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	if a.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	n := a.sched.CancelProjectMonitoring(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := a.store.GetRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	logs, err := a.store.ListRunLogs(ctx, run.ID)
	if err != nil {
		writeStoreError(w, err, "run logs")
		return
	}
	writeJSON(w, http.StatusOK, runWithLogs{Run: run, Logs: logLines(logs)})
}

func (a *api) cancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := a.store.GetRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	if !run.Status.Cancellable() {
		writeError(w, http.StatusBadRequest, "Cannot cancel run with status "+string(run.Status))
		return
	}
	if err := a.store.UpdateRunStatus(ctx, run.ID, model.RunStatusSkipped, cancelNote); err != nil {
		writeStoreError(w, err, "run")
		return
	}
	run, err = a.store.GetRun(ctx, run.ID)
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *api) rebuildReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.pipeline.RebuildReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) guardrails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	if _, err := a.store.GetRun(ctx, runID); err != nil {
		writeStoreError(w, err, "run")
		return
	}
	res, err := guardrail.NewEvaluator(a.store, a.settings).EvaluateRun(ctx, runID)
	if err != nil {
		writeStoreError(w, err, "guardrails")
		return
	}
	if res.Issues == nil {
		res.Issues = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// getReport returns the latest markdown report, or the capability matrix
// workbook when format=xlsx.
func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if r.URL.Query().Get("format") == "xlsx" {
		d, err := a.pipeline.ReportData(ctx, runID, r.URL.Query().Get("approved") == "true")
		if err != nil {
			writeStoreError(w, err, "run")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="matrix-`+runID+`.xlsx"`)
		if err := report.WriteCapabilityMatrix(w, d); err != nil {
			zap.L().Error("api: write capability matrix", zap.String("run_id", runID), zap.Error(err))
		}
		return
	}

	rep, err := a.store.LatestReport(ctx, runID)
	if err != nil {
		writeStoreError(w, err, "report")
		return
	}
	if rep == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rep.Body))
}

func (a *api) listFindings(w http.ResponseWriter, r *http.Request) {
	approvedOnly := r.URL.Query().Get("approved") == "true"
	findings, err := a.store.ListFindings(r.Context(), chi.URLParam(r, "id"), approvedOnly)
	if err != nil {
		writeStoreError(w, err, "findings")
		return
	}
	if findings == nil {
		findings = []model.Finding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

func (a *api) reviewFinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var review store.FindingReview
	if !decodeJSON(w, r, &review) {
		return
	}
	if review.Approved == nil && review.ReviewerNotes == nil && review.Citations == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := a.store.UpdateFindingReview(ctx, id, review); err != nil {
		writeStoreError(w, err, "finding")
		return
	}
	f, err := a.store.GetFinding(ctx, id)
	if err != nil {
		writeStoreError(w, err, "finding")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *api) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if a.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	resp := map[string]any{"pending": a.sched.Pending(), "next_task_time": nil}
	if next, ok := a.sched.NextTaskTime(); ok {
		resp["next_task_time"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.settings.Get(r.Context())
	if err != nil {
		writeStoreError(w, err, "settings")
		return
	}
	writeJSON(w, http.StatusOK, maskSettings(s))
}

func (a *api) putSettings(w http.ResponseWriter, r *http.Request) {
	var s model.Settings
	if !decodeJSON(w, r, &s) {
		return
	}
	if s.StalenessDays < 0 {
		writeError(w, http.StatusBadRequest, "staleness_days must be >= 0")
		return
	}
	if err := a.unmaskKeys(r.Context(), &s); err != nil {
		writeStoreError(w, err, "settings")
		return
	}
	if err := a.settings.Set(r.Context(), s); err != nil {
		writeStoreError(w, err, "settings")
		return
	}
	writeJSON(w, http.StatusOK, maskSettings(s.WithDefaults()))
}

// maskedKey replaces API key values in responses. Sent back unchanged in a
// PUT, it keeps the stored key.
const maskedKey = "****"

// unmaskKeys swaps masked key values in s for the stored keys. A masked key
// with nothing stored behind it is dropped.
func (a *api) unmaskKeys(ctx context.Context, s *model.Settings) error {
	var masked []string
	for k, v := range s.APIKeys {
		if v == maskedKey {
			masked = append(masked, k)
		}
	}
	if len(masked) == 0 {
		return nil
	}
	cur, err := a.settings.Get(ctx)
	if err != nil {
		return err
	}
	for _, k := range masked {
		if v := cur.APIKeys[k]; v != "" {
			s.APIKeys[k] = v
		} else {
			delete(s.APIKeys, k)
		}
	}
	return nil
}

// maskSettings hides API key values, keeping which providers have one.
func maskSettings(s model.Settings) model.Settings {
	masked := make(map[string]string, len(s.APIKeys))
	for k, v := range s.APIKeys {
		if v != "" {
			masked[k] = maskedKey
		}
	}
	s.APIKeys = masked
	return s
}
