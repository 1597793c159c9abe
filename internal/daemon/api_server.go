package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sharepipe/internal/config"
	"sharepipe/internal/logging"
	"sharepipe/internal/services"
	"sharepipe/internal/shares"
	"sharepipe/internal/workflow"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(bearerAuth(cfg.Paths.APIToken))
	router.Get("/api/status", srv.handleStatus)
	router.Get("/api/shares", srv.handleListShares)
	router.Post("/api/shares", srv.handleSubmitShare)
	router.Get("/api/shares/{id}", srv.handleGetShare)
	router.Post("/api/shares/{id}/retry", srv.handleRetryShare)
	router.Post("/api/callbacks/ml", srv.handleMLCallback)
	router.Post("/api/broker/reset", srv.handleBrokerReset)

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, useful when binding to port zero.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListShares(w http.ResponseWriter, r *http.Request) {
	filter := shares.ListFilter{
		Platform: strings.TrimSpace(r.URL.Query().Get("platform")),
		UserID:   strings.TrimSpace(r.URL.Query().Get("user")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := shares.ParseStatus(value)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown status "+value)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = uint64(limit)
	}

	list, err := s.daemon.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": list})
}

type submitRequest struct {
	UserID   string `json:"user_id"`
	URL      string `json:"url"`
	UserTier string `json:"user_tier"`
}

func (s *apiServer) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "user_id and url are required")
		return
	}

	share, err := s.daemon.orch.SubmitShare(r.Context(), req.UserID, req.URL, shares.ParseUserTier(req.UserTier))
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, share)
}

func (s *apiServer) handleGetShare(w http.ResponseWriter, r *http.Request) {
	share, err := s.daemon.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := map[string]any{"share": share}
	if record, err := s.daemon.store.GetEnhancement(r.Context(), share.ID); err == nil {
		payload["enhancement"] = record
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleRetryShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	share, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if share.Status != shares.StatusError {
		writeError(w, http.StatusConflict, "only errored shares can be retried")
		return
	}

	retried, err := s.daemon.store.RetryErrored(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if retried > 0 {
		share.Status = shares.StatusPending
		if err := s.daemon.orch.EnqueueRetry(r.Context(), share); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"retried": retried})
}

func (s *apiServer) handleMLCallback(w http.ResponseWriter, r *http.Request) {
	var result workflow.TaskResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if result.ShareID == "" || result.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, "share_id and correlation_id are required")
		return
	}

	if err := s.daemon.controller.HandleResult(r.Context(), result); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *apiServer) handleBrokerReset(w http.ResponseWriter, r *http.Request) {
	s.daemon.conn.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"state": s.daemon.conn.Status().State})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
