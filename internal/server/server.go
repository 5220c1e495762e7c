// Package server provides the HTTP review console: archive browsing, streamed consensus review and manual labelling.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/archive"
	"github.com/jonathan/customs-lookup/internal/review"
	"github.com/jonathan/customs-lookup/internal/types"
)

//go:embed index.html
var indexPage []byte

// Archive is the image store behind the console.
type Archive interface {
	List() ([]types.ArchiveImage, error)
	ListCorpus() ([]types.ArchiveImage, error)
	FailurePath(name string) (string, error)
	CorpusPath(name string) (string, error)
	MoveToCorpus(name, label string) (string, error)
}

// Reviewer runs one consensus review session.
type Reviewer interface {
	ReviewAll(ctx context.Context, publish func(review.Event)) (review.Summary, error)
}

// Config holds server configuration
type Config struct {
	Addr string
	// OnSessionDone is called after every review session the server ran.
	OnSessionDone func(review.Summary, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	archive    Archive
	reviewer   Reviewer
	logger     *zap.Logger
	onDone     func(review.Summary, error)

	// lifetime bounds review sessions; a client disconnect does not end them.
	lifetime context.Context

	// reviewing is held for the duration of a review session.
	reviewing sync.Mutex
}

// New creates a new server instance
func New(cfg Config, store Archive, reviewer Reviewer, logger *zap.Logger) *Server {
	s := &Server{
		archive:  store,
		reviewer: reviewer,
		logger:   logger,
		onDone:   cfg.OnSessionDone,
		lifetime: context.Background(),
	}

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /images", s.handleListImages)
	mux.HandleFunc("GET /images/{name}", s.handleImage)
	mux.HandleFunc("POST /images/{name}/label", s.handleLabel)
	mux.HandleFunc("GET /results", s.handleListResults)
	mux.HandleFunc("GET /results/{name}", s.handleResult)
	mux.HandleFunc("POST /review/stream", s.handleReviewStream)
	return s.withLogging(s.withCORS(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lifetime = ctx
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("review console listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down review console")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and keeps streaming responses flushable.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage) //nolint:errcheck
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListImages(w http.ResponseWriter, _ *http.Request) {
	images, err := s.archive.List()
	if err != nil {
		s.logger.Error("failed to list archive", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"images": nonNil(images)})
}

func (s *Server) handleListResults(w http.ResponseWriter, _ *http.Request) {
	images, err := s.archive.ListCorpus()
	if err != nil {
		s.logger.Error("failed to list corpus", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"images": nonNil(images)})
}

func nonNil(images []types.ArchiveImage) []types.ArchiveImage {
	if images == nil {
		return []types.ArchiveImage{}
	}
	return images
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.archive.FailurePath)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.archive.CorpusPath)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, resolve func(string) (string, error)) {
	path, err := resolve(r.PathValue("name"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

// handleLabel moves an archived image into the corpus under a label typed by a person.
func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req types.LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.reviewing.TryLock() {
		s.errorResponse(w, http.StatusConflict, "a review session is running")
		return
	}
	defer s.reviewing.Unlock()

	name := r.PathValue("name")
	newName, err := s.archive.MoveToCorpus(name, req.Label)
	if err != nil {
		s.logger.Warn("manual label failed", zap.String("image", name), zap.Error(err))
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.logger.Info("image labelled", zap.String("image", name), zap.String("label", req.Label), zap.String("new_filename", newName))
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"image_name":   name,
		"label":        req.Label,
		"new_filename": newName,
	})
}

// handleReviewStream runs one review session and streams its events via SSE. The session outlives the request:
// once the client is gone, remaining events are dropped.
func (s *Server) handleReviewStream(w http.ResponseWriter, r *http.Request) {
	if !s.reviewing.TryLock() {
		s.errorResponse(w, http.StatusConflict, "a review session is already running")
		return
	}
	defer s.reviewing.Unlock()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	connected := true
	sum, err := s.reviewer.ReviewAll(s.lifetime, func(ev review.Event) {
		if !connected {
			return
		}
		if r.Context().Err() != nil {
			connected = false
			s.logger.Info("review observer disconnected, session continues", zap.String("session_id", ev.SessionID))
			return
		}
		if err := sse.WriteEvent(string(ev.Type), ev); err != nil {
			connected = false
			s.logger.Warn("failed to write SSE event, session continues", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	})
	if err != nil {
		s.logger.Warn("review session ended with error", zap.String("session_id", sum.SessionID), zap.Error(err))
	}
	if s.onDone != nil {
		s.onDone(sum, err)
	}
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var nameErr *archive.NameError
	var archErr *archive.Error
	switch {
	case errors.As(err, &nameErr):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &archErr) && archErr.Cause == nil:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
