package bridge

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/stream"
	"github.com/opencode-nexus/nexus/internal/supervisor"
)

// ErrorResponse is the bridge API error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error code and a user-facing
// message.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeError writes an error envelope with an explicit status and code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeErr maps a component error onto an HTTP response. Classified
// application errors carry their user message; lifecycle sentinels map to
// conflict statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrInvalidState),
		errors.Is(err, stream.ErrAlreadyStreaming):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case errors.Is(err, supervisor.ErrBinaryNotFound):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidRequest, err.Error())
		return
	case errors.Is(err, supervisor.ErrPortInUse):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	code := ErrCodeInternalError
	switch appErr.Kind {
	case apperr.KindValidation:
		status, code = http.StatusBadRequest, ErrCodeInvalidRequest
	case apperr.KindSession:
		status, code = http.StatusNotFound, ErrCodeNotFound
	case apperr.KindNotConnected:
		status, code = http.StatusConflict, ErrCodeNotConnected
	case apperr.KindAuth:
		status, code = http.StatusUnauthorized, ErrCodeUpstream
	case apperr.KindConnection:
		status, code = http.StatusConflict, ErrCodeConflict
	case apperr.KindTimeout:
		status, code = http.StatusGatewayTimeout, ErrCodeUpstream
	case apperr.KindNetwork, apperr.KindServer:
		status, code = http.StatusBadGateway, ErrCodeUpstream
	}
	if appErr.Status == http.StatusNotFound {
		status, code = http.StatusNotFound, ErrCodeNotFound
	}

	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   appErr.UserMessage(),
		Retryable: appErr.IsRetryable(),
	}})
}

// decodeOptionalBody decodes a JSON body into v, tolerating an empty or
// absent body.
func decodeOptionalBody(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return false
	}
	return true
}
