// Package jsonutil provides helpers for rendering docstage JSON responses.
package jsonutil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	stageerr "github.com/docstage/docstage/internal/errors"
)

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// WriteError renders err as a JSON error response. StageError values carry
// their own HTTP status and code; anything else is an internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var se *stageerr.StageError
	if !errors.As(err, &se) {
		slog.Error("Unclassified handler error", "method", r.Method, "path", r.URL.Path, "error", err)
		se = stageerr.ErrInternalError
	}

	resp := ErrorResponse{
		Code:      se.Code,
		Message:   se.Message,
		RequestID: w.Header().Get("X-Request-Id"),
		Extra:     se.ExtraFields,
	}
	WriteJSON(w, se.HTTPStatus, resp)
}

// WriteJSON renders v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encoding JSON response failed", "error", err)
	}
}
