// Package server exposes the backend over HTTP: message submission, document
// upload, conversation inspection, tool-server health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/orchestrator"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

const maxUploadBytes = 32 << 20

// Server is the HTTP front of the backend.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	service      *mcp.Service
	registry     *prometheus.Registry
	uploadDir    string

	httpServer *http.Server
}

type Config struct {
	Host      string
	Port      int
	UploadDir string
}

func New(cfg Config, orch *orchestrator.Orchestrator, service *mcp.Service, registry *prometheus.Registry) *Server {
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "salesagent-uploads")
	}

	s := &Server{
		orchestrator: orch,
		service:      service,
		registry:     registry,
		uploadDir:    uploadDir,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed separately so tests can drive it
// with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Post("/documents", s.handleUpload)
		r.Get("/servers", s.handleServers)

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Post("/messages", s.handleConversationMessage)
			r.Post("/archive", s.handleArchive)
		})
	})
	return r
}

// Start serves until the context is cancelled, then drains gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

type messageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.processMessage(w, r, req.ConversationID, req.Message)
}

func (s *Server) handleConversationMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.processMessage(w, r, chi.URLParam(r, "conversationID"), req.Message)
}

func (s *Server) processMessage(w http.ResponseWriter, r *http.Request, conversationID, message string) {
	if message == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	result, err := s.orchestrator.ProcessMessage(r.Context(), conversationID, message)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	state, found := s.orchestrator.Conversation(r.Context(), conversationID)
	if !found {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := s.orchestrator.Archive(r.Context(), conversationID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}

// handleUpload accepts a multipart document, stages it on disk, and hands it
// to the file-processing tool server (which extracts and indexes it).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	staged, err := s.stageUpload(file, header.Filename)
	if err != nil {
		slog.Error("Failed to stage upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(staged)

	payload := map[string]any{
		"path":        staged,
		"document_id": header.Filename,
	}
	if company := r.FormValue("company"); company != "" {
		payload["metadata"] = map[string]any{"company": company}
	}

	resp, err := s.service.Invoke(r.Context(), mcp.Request{
		Server:    toolserver.ServerFileProcessing,
		Operation: toolserver.OpFileProcess,
		Payload:   payload,
	})
	if err != nil {
		status := http.StatusBadGateway
		if mcp.IsSchemaMismatch(err) {
			status = http.StatusBadRequest
		}
		message := err.Error()
		if resp != nil && resp.Error != nil {
			message = resp.Error.Message
		}
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, resp.Payload)
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": s.service.ListServers(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	down := 0
	for _, descriptor := range s.service.ListServers() {
		if descriptor.Health == mcp.HealthDown {
			down++
		}
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if down > 0 {
		body["status"] = "degraded"
		body["servers_down"] = down
	}
	writeJSON(w, status, body)
}

func (s *Server) stageUpload(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}

	dst, err := os.CreateTemp(s.uploadDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, maxUploadBytes)); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}
