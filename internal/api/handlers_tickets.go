package api

import (
	"encoding/json"
	"net/http"

	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/intake"
	"github.com/orchard-dev/orchard/internal/phase"
)

type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	PhaseID     string `json:"phase_id"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ticket, err := s.svc.Engine.CreateTicket(r.Context(), phase.CreateTicketInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    db.Priority(req.Priority),
		PhaseID:     req.PhaseID,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toTicketJSON(ticket), http.StatusCreated)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.svc.Engine.GetTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toTicketJSON(ticket))
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	status := db.TicketStatus(r.URL.Query().Get("status"))
	tickets, err := s.svc.Engine.ListTickets(r.Context(), status)
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]ticketJSON, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketJSON(t))
	}
	JSONResponse(w, out)
}

func (s *Server) handleStartTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Engine.StartTicket(r.Context(), r.PathValue("id")); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "started"})
}

type regressRequest struct {
	ToPhaseID string `json:"to_phase_id"`
	Reason    string `json:"reason"`
}

func (s *Server) handleRegressTicket(w http.ResponseWriter, r *http.Request) {
	var req regressRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Engine.Regress(r.Context(), r.PathValue("id"), req.ToPhaseID, req.Reason); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "regressed"})
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleBlockTicket(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Engine.Block(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "blocked"})
}

func (s *Server) handleUnblockTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Engine.Unblock(r.Context(), r.PathValue("id")); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "unblocked"})
}

func (s *Server) handleListTicketTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Queue.ListByTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toTaskListJSON(tasks))
}

type submitResultRequest struct {
	ArtifactRef string          `json:"artifact_ref"`
	Artifact    json.RawMessage `json:"artifact"`
}

func (s *Server) handleSubmitWorkflowResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.svc.Intake.Submit(r.Context(), intake.SubmitInput{
		TicketID:    r.PathValue("id"),
		ArtifactRef: req.ArtifactRef,
		Artifact:    req.Artifact,
	})
	if err != nil {
		// A gate rejection still produced a submission record; surface
		// the record alongside the error status.
		if result != nil {
			JSONResponseStatus(w, toWorkflowResultJSON(result), http.StatusConflict)
			return
		}
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toWorkflowResultJSON(result), http.StatusCreated)
}

func (s *Server) handleListWorkflowResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.Intake.List(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]workflowResultJSON, 0, len(results))
	for _, res := range results {
		out = append(out, toWorkflowResultJSON(res))
	}
	JSONResponse(w, out)
}
