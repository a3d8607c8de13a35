package api

import (
	"encoding/json"
	"net/http"

	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/discovery"
	"github.com/orchard-dev/orchard/internal/queue"
)

type enqueueTaskRequest struct {
	TicketID       string   `json:"ticket_id"`
	PhaseID        string   `json:"phase_id"`
	TaskType       string   `json:"task_type"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	Dependencies   []string `json:"dependencies"`
	TimeoutSeconds *int     `json:"timeout_seconds"`
	MaxRetries     *int     `json:"max_retries"`
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueTaskRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	task, err := s.svc.Queue.Enqueue(r.Context(), queue.EnqueueInput{
		TicketID:       req.TicketID,
		PhaseID:        req.PhaseID,
		TaskType:       req.TaskType,
		Description:    req.Description,
		Priority:       db.Priority(req.Priority),
		Dependencies:   req.Dependencies,
		TimeoutSeconds: req.TimeoutSeconds,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, toTaskJSON(task), http.StatusCreated)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := db.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.svc.Queue.List(r.Context(), status)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toTaskListJSON(tasks))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toTaskJSON(task))
}

type agentActionRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req agentActionRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.Start(r.Context(), r.PathValue("id"), req.AgentID); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "running"})
}

type taskResultRequest struct {
	AgentID string          `json:"agent_id"`
	Result  json.RawMessage `json:"result"`
}

func (s *Server) handleSubmitTaskResult(w http.ResponseWriter, r *http.Request) {
	var req taskResultRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.SubmitResult(r.Context(), r.PathValue("id"), req.AgentID, req.Result); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "submitted"})
}

type failTaskRequest struct {
	AgentID  string `json:"agent_id"`
	Error    string `json:"error"`
	Category string `json:"category"`
}

func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	var req failTaskRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.Fail(r.Context(), r.PathValue("id"), req.AgentID, req.Error, req.Category); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "failed"})
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req cancelTaskRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.Cancel(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "cancelled"})
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Feedback   string `json:"feedback"`
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.Approve(r.Context(), r.PathValue("id"), req.ReviewerID); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "approved"})
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Queue.Reject(r.Context(), r.PathValue("id"), req.ReviewerID, req.Feedback); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "rejected"})
}

type recordDiscoveryRequest struct {
	SourceTaskID     string `json:"source_task_id"`
	Type             string `json:"type"`
	Description      string `json:"description"`
	SpawnPhaseID     string `json:"spawn_phase_id"`
	SpawnDescription string `json:"spawn_description"`
	SpawnPriority    string `json:"spawn_priority"`
	PriorityBoost    bool   `json:"priority_boost"`
}

func (s *Server) handleRecordDiscovery(w http.ResponseWriter, r *http.Request) {
	var req recordDiscoveryRequest
	if err := decode(r, &req); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	disc, task, err := s.svc.Discovery.RecordAndBranch(r.Context(), discovery.RecordInput{
		SourceTaskID:     req.SourceTaskID,
		Type:             db.DiscoveryType(req.Type),
		Description:      req.Description,
		SpawnPhaseID:     req.SpawnPhaseID,
		SpawnDescription: req.SpawnDescription,
		SpawnPriority:    db.Priority(req.SpawnPriority),
		PriorityBoost:    req.PriorityBoost,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, map[string]any{
		"discovery": toDiscoveryJSON(disc),
		"task":      toTaskJSON(task),
	}, http.StatusCreated)
}

func (s *Server) handleGetDiscovery(w http.ResponseWriter, r *http.Request) {
	disc, err := s.svc.Discovery.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, toDiscoveryJSON(disc))
}
