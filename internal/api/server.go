package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/discovery"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/guardian"
	"github.com/orchard-dev/orchard/internal/intake"
	"github.com/orchard-dev/orchard/internal/phase"
	"github.com/orchard-dev/orchard/internal/queue"
	"github.com/orchard-dev/orchard/internal/registry"
)

// Services bundles the engine components the server fronts.
type Services struct {
	Store     db.TxRunner
	Bus       events.Bus
	Queue     *queue.Service
	Registry  *registry.Service
	Engine    *phase.Engine
	Catalog   *phase.Catalog
	Discovery *discovery.Service
	Guardian  *guardian.Service
	Intake    *intake.Service
}

// Server is the HTTP front for the engine.
type Server struct {
	svc    Services
	mux    *http.ServeMux
	http   *http.Server
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the HTTP server for the given listen address.
func NewServer(addr string, svc Services, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)

	// Tickets
	s.mux.HandleFunc("POST /v1/tickets", s.handleCreateTicket)
	s.mux.HandleFunc("GET /v1/tickets", s.handleListTickets)
	s.mux.HandleFunc("GET /v1/tickets/{id}", s.handleGetTicket)
	s.mux.HandleFunc("POST /v1/tickets/{id}/start", s.handleStartTicket)
	s.mux.HandleFunc("POST /v1/tickets/{id}/regress", s.handleRegressTicket)
	s.mux.HandleFunc("POST /v1/tickets/{id}/block", s.handleBlockTicket)
	s.mux.HandleFunc("POST /v1/tickets/{id}/unblock", s.handleUnblockTicket)
	s.mux.HandleFunc("GET /v1/tickets/{id}/tasks", s.handleListTicketTasks)
	s.mux.HandleFunc("POST /v1/tickets/{id}/results", s.handleSubmitWorkflowResult)
	s.mux.HandleFunc("GET /v1/tickets/{id}/results", s.handleListWorkflowResults)

	// Tasks
	s.mux.HandleFunc("POST /v1/tasks", s.handleEnqueueTask)
	s.mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/start", s.handleStartTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/result", s.handleSubmitTaskResult)
	s.mux.HandleFunc("POST /v1/tasks/{id}/fail", s.handleFailTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancelTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/approve", s.handleApproveTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/reject", s.handleRejectTask)

	// Agents
	s.mux.HandleFunc("POST /v1/agents", s.handleRegisterAgent)
	s.mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("POST /v1/agents/{id}/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("POST /v1/agents/{id}/next", s.handleNextAssignment)
	s.mux.HandleFunc("POST /v1/agents/{id}/terminate", s.handleTerminateAgent)

	// Discoveries
	s.mux.HandleFunc("POST /v1/discoveries", s.handleRecordDiscovery)
	s.mux.HandleFunc("GET /v1/discoveries/{id}", s.handleGetDiscovery)

	// Guardian interventions
	s.mux.HandleFunc("POST /v1/guardian/cancel-task", s.handleGuardianCancelTask)
	s.mux.HandleFunc("POST /v1/guardian/reallocate", s.handleGuardianReallocate)
	s.mux.HandleFunc("POST /v1/guardian/override-priority", s.handleGuardianOverridePriority)
	s.mux.HandleFunc("POST /v1/guardian/actions/{id}/revert", s.handleGuardianRevert)
	s.mux.HandleFunc("GET /v1/guardian/actions", s.handleListGuardianActions)

	// Phases
	s.mux.HandleFunc("GET /v1/phases", s.handleListPhases)

	// Events
	s.mux.HandleFunc("GET /v1/events", s.handleEventStream)
	s.mux.HandleFunc("GET /v1/events/log", s.handleEventLog)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"status": "ok"})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(dst)
}
