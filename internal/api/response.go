// Package api exposes the engine's command surface over HTTP JSON and
// streams the event bus over websockets.
package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	orcherrors "github.com/orchard-dev/orchard/internal/errors"
)

// APIError is the standard error response body.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with an explicit status.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a plain error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// HandleError maps a structured error onto its HTTP status; unknown
// errors become 500.
func HandleError(w http.ResponseWriter, err error) {
	var oerr *orcherrors.Error
	if stderrors.As(err, &oerr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(oerr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(APIError{
			Error:   oerr.What,
			Code:    string(oerr.Code),
			Details: oerr.Details,
		})
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}
