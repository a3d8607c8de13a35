package api

import (
	"net/http"

	"github.com/orchard-dev/orchard/internal/db"
)

type guardianCancelRequest struct {
	TaskID      string `json:"task_id"`
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
	Authority   int    `json:"authority"`
}

func (s *Server) handleGuardianCancelTask(w http.ResponseWriter, r *http.Request) {
	var req guardianCancelRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	action, err := s.svc.Guardian.CancelTask(r.Context(), req.TaskID, req.Reason, req.InitiatedBy, req.Authority)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toGuardianActionJSON(action), http.StatusCreated)
}

type guardianReallocateRequest struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Amount      int    `json:"amount"`
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
	Authority   int    `json:"authority"`
}

func (s *Server) handleGuardianReallocate(w http.ResponseWriter, r *http.Request) {
	var req guardianReallocateRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	action, err := s.svc.Guardian.ReallocateCapacity(r.Context(),
		req.FromAgentID, req.ToAgentID, req.Amount, req.Reason, req.InitiatedBy, req.Authority)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toGuardianActionJSON(action), http.StatusCreated)
}

type guardianOverrideRequest struct {
	TaskID      string `json:"task_id"`
	NewPriority string `json:"new_priority"`
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
	Authority   int    `json:"authority"`
}

func (s *Server) handleGuardianOverridePriority(w http.ResponseWriter, r *http.Request) {
	var req guardianOverrideRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	action, err := s.svc.Guardian.OverridePriority(r.Context(),
		req.TaskID, db.Priority(req.NewPriority), req.Reason, req.InitiatedBy, req.Authority)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toGuardianActionJSON(action), http.StatusCreated)
}

type guardianRevertRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
	Authority   int    `json:"authority"`
}

func (s *Server) handleGuardianRevert(w http.ResponseWriter, r *http.Request) {
	var req guardianRevertRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Guardian.Revert(r.Context(), r.PathValue("id"), req.Reason, req.InitiatedBy, req.Authority); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "reverted"})
}

func (s *Server) handleListGuardianActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.svc.Guardian.List(r.Context(), r.URL.Query().Get("target_entity_id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]guardianActionJSON, 0, len(actions))
	for _, a := range actions {
		out = append(out, toGuardianActionJSON(a))
	}
	JSONResponse(w, out)
}

func (s *Server) handleListPhases(w http.ResponseWriter, r *http.Request) {
	phases, err := s.svc.Catalog.List(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]phaseJSON, 0, len(phases))
	for _, p := range phases {
		out = append(out, toPhaseJSON(p))
	}
	JSONResponse(w, out)
}
