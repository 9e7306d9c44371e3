package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"order-analytics-pipeline/internal/catalog"
	"order-analytics-pipeline/internal/config"
	"order-analytics-pipeline/internal/ingest"
	"order-analytics-pipeline/internal/report"
	"order-analytics-pipeline/internal/store"
	"order-analytics-pipeline/internal/telemetry"
)

// RunStore persists run history.
type RunStore interface {
	CreateRun(ctx context.Context, id, dataset string, startedAt time.Time) error
	SaveReport(ctx context.Context, rep *report.Report) error
	GetReport(ctx context.Context, id string) (*report.Report, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	LatestRunID(ctx context.Context, dataset string) (string, error)
}

// ReportCache serves the latest report without a database round trip and
// holds the lease that keeps runs from overlapping.
type ReportCache interface {
	Latest(ctx context.Context, dataset string) (*report.Report, error)
	SetLatest(ctx context.Context, dataset string, rep *report.Report) error
	AcquireLease(ctx context.Context, dataset, runID string) (bool, error)
	ReleaseLease(ctx context.Context, dataset string) error
	LeaseHolder(ctx context.Context, dataset string) (string, error)
}

// Ingestor filters raw order batches into the processed area.
type Ingestor interface {
	Run(ctx context.Context, key string) (ingest.Summary, error)
	RunPrefix(ctx context.Context, prefix string) ([]ingest.Summary, error)
}

// Runner executes the query catalog and aggregates the ordered report.
type Runner interface {
	Run(ctx context.Context, runID string, defs catalog.Catalog) *report.Report
}

// Server wires HTTP handlers for ingest, runs and reports.
type Server struct {
	cfg     config.Config
	store   RunStore
	cache   ReportCache
	ingest  Ingestor
	runner  Runner
	catalog catalog.Catalog
	log     *logrus.Entry
}

// New constructs the API server.
func New(cfg config.Config, st RunStore, cache ReportCache, ing Ingestor, runner Runner, cat catalog.Catalog, log *logrus.Entry) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		cache:   cache,
		ingest:  ing,
		runner:  runner,
		catalog: cat,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/ingest", s.handleIngest)
	r.Post("/runs", s.handleStartRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/report/latest", s.handleLatestReport)
	return r
}

type ingestRequest struct {
	Key    string `json:"key"`
	Prefix string `json:"prefix"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Key != "" {
		sum, err := s.ingest.Run(r.Context(), req.Key)
		if err != nil {
			if errors.Is(err, ingest.ErrOutsideRaw) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summaries": []ingest.Summary{sum}})
		return
	}

	sums, err := s.ingest.RunPrefix(r.Context(), req.Prefix)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	dataset := s.cfg.AthenaTable
	runID := uuid.New().String()

	acquired, err := s.cache.AcquireLease(r.Context(), dataset, runID)
	if err != nil {
		http.Error(w, "lease error", http.StatusInternalServerError)
		return
	}
	if !acquired {
		holder, _ := s.cache.LeaseHolder(r.Context(), dataset)
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a run is already in progress",
			"run_id": holder,
		})
		return
	}

	startedAt := time.Now().UTC()
	if err := s.store.CreateRun(r.Context(), runID, dataset, startedAt); err != nil {
		_ = s.cache.ReleaseLease(r.Context(), dataset)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rep := s.runner.Run(r.Context(), runID, s.catalog)

	// Persist on a fresh context so a dropped client cannot lose the report.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SaveReport(ctx, rep); err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("save report")
	}
	if err := s.cache.SetLatest(ctx, dataset, rep); err != nil {
		s.log.WithError(err).WithField("run_id", runID).Warn("cache latest report")
	}
	if err := s.cache.ReleaseLease(ctx, dataset); err != nil {
		s.log.WithError(err).WithField("run_id", runID).Warn("release run lease")
	}

	s.respondReport(w, r, http.StatusCreated, rep)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := s.store.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respondReport(w, r, http.StatusOK, rep)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	dataset := s.cfg.AthenaTable
	rep, err := s.cache.Latest(r.Context(), dataset)
	if err != nil {
		s.log.WithError(err).Warn("read latest report cache")
	}
	if rep == nil {
		id, err := s.store.LatestRunID(r.Context(), dataset)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no finished runs", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rep, err = s.store.GetReport(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.respondReport(w, r, http.StatusOK, rep)
}

// respondReport writes a report as JSON, or as plain text when the caller
// asks with ?format=text.
func (s *Server) respondReport(w http.ResponseWriter, r *http.Request, code int, rep *report.Report) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		if err := report.WriteText(w, rep); err != nil {
			s.log.WithError(err).Warn("render text report")
		}
		return
	}
	writeJSON(w, code, rep)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
