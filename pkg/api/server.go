// Package api is the HTTP gateway: webhook ingress, scheduled job
// management, and a WebSocket live stream of bus events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/grvsrs/codexbot/pkg/config"
	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
	"github.com/grvsrs/codexbot/pkg/scheduler"
	"github.com/grvsrs/codexbot/pkg/storage"
)

// Server is the HTTP API server.
type Server struct {
	cfg       config.GatewayConfig
	bus       *events.Bus
	store     *storage.Store
	scheduler *scheduler.Scheduler
	wsHub     *WSHub
	server    *http.Server
}

// NewServer creates an API server. store and sched may be nil; the
// matching endpoints then degrade (no dedup, 404 job routes).
func NewServer(cfg config.GatewayConfig, bus *events.Bus, store *storage.Store, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:       cfg,
		bus:       bus,
		store:     store,
		scheduler: sched,
	}
	s.wsHub = NewWSHub(bus)
	return s
}

// buildMux assembles the route table. Both the listening server and
// Handler go through here so the routes cannot drift apart.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/webhooks/{provider}", s.handleWebhook)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/{id}", s.handleJobByID)
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)
	return mux
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "API server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return authMiddleware(s.cfg.APIKey, s.buildMux())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Job management ---

type jobRequest struct {
	Name             string  `json:"name"`
	CronExpression   string  `json:"cron_expression"`
	Prompt           string  `json:"prompt"`
	SkillName        string  `json:"skill_name,omitempty"`
	TargetChatIDs    []int64 `json:"target_chat_ids,omitempty"`
	WorkingDirectory string  `json:"working_directory,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scheduler disabled"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.scheduler.ListJobs())

	case http.MethodPost:
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.Name == "" || req.CronExpression == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and cron_expression required"})
			return
		}

		jobID, err := s.scheduler.AddJob(r.Context(), req.Name, req.CronExpression, req.Prompt,
			req.SkillName, req.TargetChatIDs, req.WorkingDirectory, 0)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scheduler disabled"})
		return
	}
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	jobID := r.PathValue("id")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id required"})
		return
	}
	if err := s.scheduler.RemoveJob(r.Context(), jobID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
