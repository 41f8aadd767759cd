package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/logging"
)

// Options configure the HTTP server.
type Options struct {
	Logger logging.Logger
}

// Server is the HTTP surface over an Engine.
type Server struct {
	engine *Engine
	logger logging.Logger
}

// NewServer wraps an engine in HTTP handlers.
func NewServer(engine *Engine, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{engine: engine, logger: opts.Logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("POST /threads/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /threads/{id}/messages", s.handleListMessages)
	return s.accessLog(mux)
}

type createThreadRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type listMessagesResponse struct {
	ThreadID string         `json:"thread_id"`
	Messages []core.Message `json:"messages"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	th, err := s.engine.CreateThread(r.Context(), req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, th)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.engine.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteThread(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.engine.PostMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, r, badQuery("since must be a non-negative integer"))
			return
		}
		since = parsed
	}
	msgs, err := s.engine.ListMessages(r.Context(), threadID, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{ThreadID: threadID, Messages: msgs})
}

// maxBodyBytes caps an inbound request body before decoding, leaving
// headroom over maxContentBytes for the JSON envelope and metadata.
const maxBodyBytes = maxContentBytes + 8*1024

// decodeBody decodes a JSON request body under the transport-level size cap,
// so an oversized payload is rejected without reading it to the end.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes: %w", maxErr.Limit, errBodyTooLarge)
		}
		return badBody(err)
	}
	return nil
}

// errBodyTooLarge maps to 413 rather than the generic validation 400.
var errBodyTooLarge = errors.New("request body too large")

func badBody(err error) error {
	return fmt.Errorf("malformed request body: %v: %w", err, core.ErrValidation)
}

func badQuery(msg string) error {
	return fmt.Errorf("%s: %w", msg, core.ErrValidation)
}

// statusFor maps the error taxonomy onto HTTP status codes and stable error
// codes for clients.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrLoopLimit):
		return http.StatusUnprocessableEntity, "loop_limit_exceeded"
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		s.logger.Error("http.request.failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err.Error())
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog wraps the mux with a structured request log line.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
