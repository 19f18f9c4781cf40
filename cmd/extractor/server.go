package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jastek/extractor/internal/domain"
)

// gatewayServer is the §6.1/§6.3 HTTP surface: one endpoint to run a batch
// extraction synchronously, one to issue an upload grant, plus the ambient
// /healthz and /metrics every deployment expects.
type gatewayServer struct {
	app    *app
	server *http.Server
	ln     net.Listener
}

func newGatewayServer(a *app) *gatewayServer {
	return &gatewayServer{app: a}
}

func (s *gatewayServer) start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/extract", s.handleExtract)
	mux.HandleFunc("/url", s.handleUploadGrant)

	cfg := s.app.cfg.Server
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.app.logger.Error(ctx, "http server error", "error", err)
		}
	}()

	s.app.logger.Info(ctx, "starting http server", "addr", cfg.ListenAddr)
	return nil
}

func (s *gatewayServer) stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.app.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.app.logger.Warn(ctx, "http server shutdown error", "error", err)
	}
}

// handleExtract implements §6.1: POST a batch ExtractionRequest, receive a
// synchronous BatchResult. Per-document failures never surface as a non-200
// response; only a malformed request or an internal fault does.
func (s *gatewayServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if s.app.tracer != nil {
		var span trace.Span
		ctx, span = s.app.tracer.TraceHTTPRequest(ctx, r.Method, r.URL.Path)
		defer span.End()
	}

	var req domain.ExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	batch, err := s.app.orchestrator.Run(ctx, req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// handleUploadGrant implements §6.3: POST {file_name}, receive a presigned
// (or direct-write) upload target the client replays to land the document
// at its canonical key before referencing it in an ExtractionRequest.
func (s *gatewayServer) handleUploadGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		FileName string `json:"file_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	grant, err := s.app.store.IssueUploadGrant(r.Context(), body.FileName, 15*time.Minute)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"post": map[string]any{
			"url":    grant.UploadURL,
			"fields": grant.RequiredFields,
		},
	})
}

func (s *gatewayServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
