// Package httpapi exposes crawlctl's HTTP interface: job submission,
// status/result polling, cancellation, and a websocket relay for the
// lifecycle events a running crawl emits. It is the demo consumer of
// hybridcrawl.Engine, not a dependency of the engine itself.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hcauth"
	"github.com/heyitsk/autoCrawler/internal/hcconfig"
	"github.com/heyitsk/autoCrawler/internal/hcmetrics"
	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
	"github.com/heyitsk/autoCrawler/internal/jobstore"
	"github.com/heyitsk/autoCrawler/internal/robots"
	"github.com/heyitsk/autoCrawler/internal/webhook"
	"github.com/heyitsk/autoCrawler/internal/wsrelay"
)

// Server wires HTTP handlers to the crawl engine and its supporting stores.
type Server struct {
	router   chi.Router
	engine   *hybridcrawl.Engine
	jobs     *jobstore.Store
	ws       *wsrelay.Hub
	notifier *webhook.Notifier
	metrics  *hcmetrics.Recorder
	robots   *robots.Checker
	cfg      hcconfig.Config
	logger   *zap.Logger
}

// New constructs a Server with middleware and routes mounted. robotsChecker
// may be nil; when set, a job request with RespectRobots true is rejected
// up front for seed URLs disallowed by the target's robots.txt.
func New(
	engine *hybridcrawl.Engine,
	jobs *jobstore.Store,
	ws *wsrelay.Hub,
	notifier *webhook.Notifier,
	metrics *hcmetrics.Recorder,
	robotsChecker *robots.Checker,
	cfg hcconfig.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		jobs:     jobs,
		ws:       ws,
		notifier: notifier,
		metrics:  metrics,
		robots:   robotsChecker,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(hcauth.BearerMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metricsHandler)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.submitJob)
		r.Post("/preset/{name}", s.submitPreset)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getStatus)
			r.Get("/result", s.getResult)
			r.Post("/cancel", s.cancelJob)
			r.Get("/events", s.streamEvents)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

type jobRequest struct {
	SeedURL            string   `json:"seed_url"`
	Recursive          bool     `json:"recursive"`
	ForceMethod        string   `json:"force_method"`
	MaxDepth           int      `json:"max_depth"`
	MaxPages           int      `json:"max_pages"`
	ChildLinksPerPage  int      `json:"child_links_per_page"`
	DelayMs            int      `json:"delay_ms"`
	SameDomainOnly     *bool    `json:"same_domain_only"`
	DetectionThreshold float64  `json:"detection_threshold"`
	Screenshot         bool     `json:"screenshot"`
	Concurrency        int      `json:"concurrency"`
	BatchURLs          []string `json:"batch_urls"`
	RespectRobots      bool     `json:"respect_robots"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SeedURL == "" && len(req.BatchURLs) == 0 {
		writeError(w, http.StatusBadRequest, "seed_url or batch_urls required")
		return
	}
	if req.RespectRobots && req.SeedURL != "" && s.robots != nil && !s.robots.Allowed(r.Context(), req.SeedURL) {
		writeError(w, http.StatusForbidden, "seed_url disallowed by robots.txt")
		return
	}
	opts := s.optionsFromRequest(req)
	s.startJob(w, r, req.SeedURL, req.BatchURLs, req.Recursive, opts)
}

func (s *Server) submitPreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	preset, ok := s.cfg.Presets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "preset not found")
		return
	}
	var req struct {
		SeedURL string `json:"seed_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SeedURL == "" {
		writeError(w, http.StatusBadRequest, "seed_url required")
		return
	}
	opts := s.defaultOptions()
	if preset.ForceMethod != "" {
		opts.ForceMethod = hybridcrawl.ForceMethod(preset.ForceMethod)
	}
	if preset.MaxDepth > 0 {
		opts.MaxDepth = preset.MaxDepth
	}
	if preset.MaxPages > 0 {
		opts.MaxPages = preset.MaxPages
	}
	if preset.ChildLinksPerPage > 0 {
		opts.ChildLinksPerPage = preset.ChildLinksPerPage
	}
	if preset.DelayMs > 0 {
		opts.DelayMs = preset.DelayMs
	}
	opts.SameDomainOnly = preset.SameDomainOnly
	s.startJob(w, r, req.SeedURL, nil, true, opts)
}

func (s *Server) defaultOptions() hybridcrawl.Options {
	opts := hybridcrawl.DefaultOptions()
	c := s.cfg.Crawler
	if c.DetectionThreshold > 0 {
		opts.DetectionThreshold = c.DetectionThreshold
	}
	if c.MaxRetries > 0 {
		opts.MaxRetries = c.MaxRetries
	}
	if c.TimeoutSeconds > 0 {
		opts.TimeoutMs = c.TimeoutSeconds * 1000
	}
	if c.MaxDepthDefault > 0 {
		opts.MaxDepth = c.MaxDepthDefault
	}
	if c.MaxPagesDefault > 0 {
		opts.MaxPages = c.MaxPagesDefault
	}
	if c.ChildLinksPerPage > 0 {
		opts.ChildLinksPerPage = c.ChildLinksPerPage
	}
	if c.DelayMs > 0 {
		opts.DelayMs = c.DelayMs
	}
	opts.SameDomainOnly = c.SameDomainOnly
	if c.Concurrency > 0 {
		opts.Concurrency = c.Concurrency
	}
	opts.BlockResources = s.cfg.Headless.BlockResources
	opts.AutoScroll = s.cfg.Headless.AutoScroll
	if s.cfg.Headless.MaxScrolls > 0 {
		opts.MaxScrolls = s.cfg.Headless.MaxScrolls
	}
	opts.ScreenshotDir = s.cfg.Storage.BaseDir
	return opts
}

func (s *Server) optionsFromRequest(req jobRequest) hybridcrawl.Options {
	opts := s.defaultOptions()
	if req.ForceMethod != "" {
		opts.ForceMethod = hybridcrawl.ForceMethod(req.ForceMethod)
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	if req.ChildLinksPerPage > 0 {
		opts.ChildLinksPerPage = req.ChildLinksPerPage
	}
	if req.DelayMs > 0 {
		opts.DelayMs = req.DelayMs
	}
	if req.SameDomainOnly != nil {
		opts.SameDomainOnly = *req.SameDomainOnly
	}
	if req.DetectionThreshold > 0 {
		opts.DetectionThreshold = req.DetectionThreshold
	}
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	opts.Screenshot = req.Screenshot
	return opts
}

func (s *Server) startJob(
	w http.ResponseWriter,
	r *http.Request,
	seedURL string,
	batchURLs []string,
	recursive bool,
	opts hybridcrawl.Options,
) {
	if auth, ok := hcauth.FromContext(r.Context()); ok {
		opts.Credential = hybridcrawl.CredentialContext{Subject: auth.Subject}
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &jobstore.Job{
		ID:        jobID,
		SeedURL:   seedURL,
		Recursive: recursive,
		Options:   opts,
		Cancel:    cancel,
	}
	s.jobs.Create(job)

	sink := multiSink{s.ws.SinkFor(jobID), s.notifier.SinkFor(jobID)}

	go s.run(jobCtx, jobID, seedURL, batchURLs, recursive, opts, sink)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) run(
	ctx context.Context,
	jobID string,
	seedURL string,
	batchURLs []string,
	recursive bool,
	opts hybridcrawl.Options,
	sink hybridcrawl.EventSink,
) {
	if err := s.jobs.MarkRunning(jobID); err != nil {
		s.logger.Warn("mark job running failed", zap.String("job_id", jobID), zap.Error(err))
	}

	switch {
	case recursive:
		session := s.engine.CrawlRecursive(ctx, seedURL, opts, sink)
		if err := s.jobs.CompleteRecursive(jobID, session); err != nil {
			s.logger.Warn("complete recursive job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	case len(batchURLs) > 0:
		results := s.engine.CrawlBatch(ctx, batchURLs, opts, sink)
		successAll := true
		for _, r := range results {
			if !r.Success {
				successAll = false
				break
			}
		}
		session := hybridcrawl.CrawlSession{
			SessionID: jobID,
			SeedURL:   seedURL,
			Results:   results,
			State:     hybridcrawl.SessionCompleted,
		}
		if !successAll {
			session.State = hybridcrawl.SessionAborted
		}
		if err := s.jobs.CompleteRecursive(jobID, session); err != nil {
			s.logger.Warn("complete batch job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	default:
		result := s.engine.CrawlOne(ctx, seedURL, opts, sink)
		if err := s.jobs.CompleteSingle(jobID, result); err != nil {
			s.logger.Warn("complete single job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, statusDTO(job))
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Finished == nil {
		writeError(w, http.StatusConflict, "job still running")
		return
	}
	if job.Session != nil {
		writeJSON(w, http.StatusOK, map[string]any{"session": job.Session})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": job.Result})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(jobID); err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, jobstore.ErrNotFound) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(jobstore.StatusCanceled)})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.Get(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.ws.ServeWS(w, r, jobID); err != nil {
		s.logger.Debug("websocket relay ended", zap.String("job_id", jobID), zap.Error(err))
	}
}

type multiSink []hybridcrawl.EventSink

func (m multiSink) Publish(evt hybridcrawl.Event) {
	for _, sink := range m {
		sink.Publish(evt)
	}
}

func statusDTO(job *jobstore.Job) map[string]any {
	dto := map[string]any{
		"job_id":    job.ID,
		"seed_url":  job.SeedURL,
		"recursive": job.Recursive,
		"status":    job.Status,
		"submitted": job.Submitted,
	}
	if job.Started != nil {
		dto["started"] = *job.Started
	}
	if job.Finished != nil {
		dto["finished"] = *job.Finished
	}
	if job.ErrorText != "" {
		dto["error"] = job.ErrorText
	}
	return dto
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("recover", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds ordinary requests to d. Websocket upgrade
// requests bypass it: http.TimeoutHandler's writer cannot be hijacked, and
// an event stream outlives any fixed request deadline.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timed := http.TimeoutHandler(next, d, "request timed out")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
