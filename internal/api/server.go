// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/config"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
	"github.com/JakeFAU/customs-regdocs/internal/service"
)

const (
	requestTimeout = 2 * time.Minute
	maxBodyBytes   = 4 << 20
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

// Services groups the pipeline entry points served over HTTP.
type Services struct {
	Documents *service.Documents
	Crawls    *service.Crawls
	Labels    *service.Labels
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]Check
}

// Server wires HTTP handlers to the pipeline services.
type Server struct {
	router chi.Router
	svc    Services
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Services, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Progress streams stay open for the whole crawl.
		r.Get("/crawls/{crawl_id}/events", s.streamCrawl)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", s.listDocuments)
				r.Post("/", s.createDocument)
				r.Route("/{document_id}", func(r chi.Router) {
					r.Get("/", s.getDocument)
					r.Post("/process", s.processDocument)
					r.Post("/text", s.submitText)
				})
			})
			r.Post("/crawls", s.startCrawl)
			r.Get("/crawls", s.listCrawls)
			r.Get("/crawls/{crawl_id}", s.getCrawl)
			r.Post("/labels/reload", s.reloadLabels)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.svc.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	if s.svc.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document service unavailable")
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	writeResult(w, http.StatusOK, s.svc.Documents.List(r.Context(), limit, offset, q.Get("status")))
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	writeResult(w, http.StatusOK, s.svc.Documents.GetByID(r.Context(), id))
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	if s.svc.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document service unavailable")
		return
	}
	var req crawler.Document
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeResult(w, http.StatusCreated, s.svc.Documents.Create(r.Context(), req))
}

func (s *Server) processDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	res := s.svc.Documents.ProcessDocument(r.Context(), id)
	writeResult(w, enqueueStatus(res), res)
}

type submitTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) submitText(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	var req submitTextRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := s.svc.Documents.SubmitText(r.Context(), id, req.Text)
	writeResult(w, enqueueStatus(res), res)
}

func (s *Server) reloadLabels(w http.ResponseWriter, r *http.Request) {
	if s.svc.Labels == nil {
		writeError(w, http.StatusServiceUnavailable, "label service unavailable")
		return
	}
	writeResult(w, http.StatusOK, s.svc.Labels.Reload(r.Context()))
}

func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.svc.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document service unavailable")
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "document_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document_id")
		return 0, false
	}
	return id, true
}

// enqueueStatus is 202 for queued jobs and 200 for inline runs.
func enqueueStatus(res service.Result) int {
	if er, ok := res.Data.(jobs.EnqueueResult); ok && er.Status == jobs.StatusQueued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v, nil
}

// decodeBody reads a JSON body. An empty body is accepted when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeResult maps a failed Result's kind to a status code; successes use status.
func writeResult(w http.ResponseWriter, status int, res service.Result) {
	if !res.Success {
		switch res.Kind {
		case service.KindInvalid:
			status = http.StatusBadRequest
		case service.KindNotFound:
			status = http.StatusNotFound
		case service.KindUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, service.Result{Success: false, Message: msg, Error: msg})
}
