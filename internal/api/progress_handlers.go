package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/progress"
	"github.com/JakeFAU/customs-regdocs/internal/service"
)

const keepAliveInterval = 15 * time.Second

// startCrawl handles POST /v1/crawls. An empty body starts a crawl with the
// configured defaults. It returns 202 with {"data":{"crawl_id":...}}.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	if s.svc.Crawls == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl service unavailable")
		return
	}
	var req service.CrawlRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeResult(w, http.StatusAccepted, s.svc.Crawls.Start(r.Context(), req))
}

// listCrawls handles GET /v1/crawls.
func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Crawls == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl service unavailable")
		return
	}
	writeResult(w, http.StatusOK, s.svc.Crawls.List())
}

// getCrawl handles GET /v1/crawls/{crawl_id}. It returns 404 for crawls that
// are unknown or were pruned from the registry.
func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	if s.svc.Crawls == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl service unavailable")
		return
	}
	writeResult(w, http.StatusOK, s.svc.Crawls.Progress(chi.URLParam(r, "crawl_id")))
}

// streamCrawl handles GET /v1/crawls/{crawl_id}/events as server-sent events.
// Every progress update is sent as a "progress" event; the stream ends with a
// "done" event once the crawl finishes.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	if s.svc.Crawls == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl service unavailable")
		return
	}
	crawlID := chi.URLParam(r, "crawl_id")
	tracker, found := s.svc.Crawls.Tracker(crawlID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("crawl %s not found", crawlID))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, unsubscribe := tracker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case state, open := <-updates:
			if !open {
				return
			}
			event := "progress"
			if state.Done() {
				event = "done"
			}
			if err := writeEvent(w, event, state); err != nil {
				s.logger.Debug("crawl stream closed", zap.String("crawl_id", crawlID), zap.Error(err))
				return
			}
			flusher.Flush()
			if state.Done() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, state progress.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
