package api

import (
	"net/http"
	"strconv"

	"github.com/orchard-dev/orchard/internal/db"
)

const defaultEventLogLimit = 100

// handleEventLog pages the durable audit trail. Filter by entity_id or
// event_type; limit caps the page size.
func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLogLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			JSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entityID := q.Get("entity_id")
	eventType := q.Get("type")
	if entityID == "" && eventType == "" {
		JSONError(w, "entity_id or type filter required", http.StatusBadRequest)
		return
	}

	var entries []*db.EventLog
	err := s.svc.Store.RunInTx(r.Context(), func(tx *db.TxOps) error {
		var err error
		if entityID != "" {
			entries, err = db.ListEventsByEntityTx(tx, entityID, limit)
		} else {
			entries, err = db.ListEventsByTypeTx(tx, eventType, limit)
		}
		return err
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	out := make([]eventLogJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEventLogJSON(e))
	}
	JSONResponse(w, out)
}
