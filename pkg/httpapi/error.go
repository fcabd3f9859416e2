package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error codes shared by the API namespaces.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownFlow    = "UNKNOWN_FLOW"
	CodeTooManyRows    = "TOO_MANY_ROWS"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
)

// ErrorEnvelope standardizes JSON error responses for API namespaces.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

// WriteError writes an ErrorEnvelope. requestID is added to meta when set.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string, meta map[string]string) error {
	if requestID != "" {
		if meta == nil {
			meta = map[string]string{}
		}
		meta["request_id"] = requestID
	}
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}
