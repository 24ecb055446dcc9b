package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/export"
	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/monitoring"
	"github.com/sells-group/leadstorm/internal/runner"
	"github.com/sells-group/leadstorm/internal/store"
)

// runService is the part of the coordinator the API drives.
type runService interface {
	Start(ctx context.Context, req runner.StartRequest) (*model.Run, error)
	RunAndWait(ctx context.Context, req runner.StartRequest) (*model.Run, error)
	RequestStop(ctx context.Context, runID string) (*model.Run, error)
	Get(ctx context.Context, runID string) (*model.Run, error)
	List(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ClearHistory(ctx context.Context) (leads, runs int64, err error)
}

type settingsService interface {
	Current() model.Settings
	Update(ctx context.Context, s model.Settings) (model.Settings, error)
}

type leadLister interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
}

type dashboardSource interface {
	Dashboard(ctx context.Context) (model.DashboardStats, error)
}

// apiServer serves the JSON API used by the dashboard and schedulers.
type apiServer struct {
	runs     runService
	settings settingsService
	leads    leadLister
	stats    dashboardSource
}

func newAPIServer(env *appEnv) *apiServer {
	return &apiServer{
		runs:     env.Coordinator,
		settings: env.Settings,
		leads:    env.Store,
		stats:    env.Collector,
	}
}

// routes builds the router. An empty origins list allows any origin.
func (s *apiServer) routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.Middleware)
	r.Use(accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", monitoring.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/configuration", s.getConfiguration)
		r.Post("/configuration", s.updateConfiguration)

		r.Get("/leads", s.listLeads)
		r.Get("/leads/export", s.exportLeads)
		r.Delete("/clear-history", s.clearHistory)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/", s.startRun)
			r.Get("/{id}", s.getRun)
			r.Post("/{id}/stop", s.stopRun)
		})
		r.Get("/run", s.runSync)

		r.Get("/dashboard/stats", s.dashboard)
	})

	return r
}

func (s *apiServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) getConfiguration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settingsView(s.settings.Current()))
}

func (s *apiServer) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	// Omitted fields keep their current values.
	next := s.settings.Current()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration data")
		return
	}
	saved, err := s.settings.Update(r.Context(), next)
	if err != nil {
		writeServiceError(w, r, err, "failed to update configuration")
		return
	}
	writeJSON(w, http.StatusOK, settingsView(saved))
}

func (s *apiServer) listLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	leads, err := s.leads.ListLeads(r.Context(), store.LeadFilter{
		City:    q.Get("city"),
		Keyword: q.Get("keyword"),
		Limit:   limit,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch leads")
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *apiServer) exportLeads(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leads, err := s.leads.ListLeads(r.Context(), store.LeadFilter{})
	if err != nil {
		writeServiceError(w, r, err, "failed to export leads")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+format.Filename())
	if err := export.Write(w, format, leads); err != nil {
		zap.L().Error("export leads", zap.Error(err))
	}
}

func (s *apiServer) clearHistory(w http.ResponseWriter, r *http.Request) {
	leads, runs, err := s.runs.ClearHistory(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "History cleared successfully",
		"leads":   leads,
		"runs":    runs,
	})
}

func (s *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	status := model.RunStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown run status")
		return
	}
	runs, err := s.runs.List(r.Context(), store.RunFilter{
		Status:  status,
		City:    q.Get("city"),
		Keyword: q.Get("keyword"),
		Limit:   limit,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) startRun(w http.ResponseWriter, r *http.Request) {
	var req runner.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	run, err := s.runs.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) stopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.RequestStop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "failed to stop run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Run stop requested",
		"run":     run,
	})
}

// runSync runs a collection to completion within the request. Missing
// city and keyword fall back to the configured defaults, but only when
// both defaults are set.
func (s *apiServer) runSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := runner.StartRequest{City: q.Get("city"), Keyword: q.Get("keyword")}

	maxLeads, err := intParam(q.Get("maxLeads"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "maxLeads must be a number")
		return
	}
	req.MaxLeads = maxLeads

	if cur := s.settings.Current(); cur.DefaultCity != "" && cur.DefaultKeyword != "" {
		if req.City == "" {
			req.City = cur.DefaultCity
		}
		if req.Keyword == "" {
			req.Keyword = cur.DefaultKeyword
		}
	}

	run, err := s.runs.RunAndWait(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "failed to execute run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"runId":   run.ID,
		"summary": run.Summary(),
	})
}

func (s *apiServer) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch dashboard stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// settingsResponse is the settings shape returned to clients. The key is
// masked, and null when none is configured.
type settingsResponse struct {
	model.Settings
	GooglePlacesKey *string `json:"googlePlacesKey"`
}

func settingsView(s model.Settings) settingsResponse {
	out := settingsResponse{Settings: s.Masked()}
	if out.Settings.GooglePlacesKey != "" {
		key := out.Settings.GooglePlacesKey
		out.GooglePlacesKey = &key
	}
	return out
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as fallback.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		runErr *runner.ValidationError
		cfgErr *config.ValidationError
	)
	switch {
	case errors.As(err, &runErr):
		writeError(w, http.StatusBadRequest, runErr.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, cfgErr.Error())
	case errors.Is(err, runner.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, runner.ErrNotRunning):
		writeError(w, http.StatusConflict, "run is not currently running")
	case errors.Is(err, runner.ErrBusy):
		writeError(w, http.StatusConflict, "runs are still active")
	case errors.Is(err, runner.ErrRunFailed):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		zap.L().Error(fallback,
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// accessLog logs one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
