package api

import (
	"net/http"

	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/registry"
)

type registerAgentRequest struct {
	AgentType    string   `json:"agent_type"`
	PhaseID      *string  `json:"phase_id"`
	Capabilities []string `json:"capabilities"`
	Capacity     int      `json:"capacity"`
	Authority    int      `json:"authority"`
	Hostname     string   `json:"hostname"`
	PID          int      `json:"pid"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	agent, err := s.svc.Registry.Register(r.Context(), registry.RegisterInput{
		AgentType:    db.AgentType(req.AgentType),
		PhaseID:      req.PhaseID,
		Capabilities: req.Capabilities,
		Capacity:     req.Capacity,
		Authority:    req.Authority,
		Hostname:     req.Hostname,
		PID:          req.PID,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toAgentJSON(agent), http.StatusCreated)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.svc.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toAgentJSON(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.svc.Registry.List(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentJSON(a))
	}
	JSONResponse(w, out)
}

type heartbeatRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	agent, err := s.svc.Registry.Heartbeat(r.Context(), r.PathValue("id"), db.AgentStatus(req.Status))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toAgentJSON(agent))
}

// handleNextAssignment offers the agent its next eligible task; the
// body is null when nothing is eligible.
func (s *Server) handleNextAssignment(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Queue.NextAssignment(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	if task == nil {
		JSONResponse(w, nil)
		return
	}
	JSONResponse(w, toTaskJSON(task))
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Registry.Terminate(r.Context(), r.PathValue("id")); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "terminated"})
}
