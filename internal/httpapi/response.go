package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LotuxPunk/Hermes"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(Response{
		Error: &ErrorInfo{Code: code, Message: message},
	})
}

// respondResult maps the overall send status: every recipient sent is 200,
// some sent is 207 and none sent is 502.
func respondResult(w http.ResponseWriter, result hermes.SendOperationResult) {
	status := http.StatusOK
	switch result.Status() {
	case hermes.StatusPartial:
		status = http.StatusMultiStatus
	case hermes.StatusFailed:
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

// errorStatus maps dispatcher errors to HTTP statuses and error codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, hermes.ErrConfigNotFound), errors.Is(err, hermes.ErrTemplateNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, hermes.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests, "DAILY_LIMIT_EXCEEDED"
	case errors.Is(err, hermes.ErrCaptchaFailed):
		return http.StatusForbidden, "CAPTCHA_FAILED"
	case errors.Is(err, hermes.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, hermes.ErrClosed), errors.Is(err, hermes.ErrQueueClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
