package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
)

// User-facing error messages.
const (
	ErrMsgNotAuthenticated = "User is not authenticated"
	ErrMsgConfiguration    = "Server is misconfigured"
	ErrMsgRateLimited      = "Too many attempts. Please try again later."
	ErrMsgNotFound         = "Not found"
	ErrMsgNotReady         = "Operation is not waiting for a code"
	ErrMsgStoredSession    = "Stored session is unreadable"
	ErrMsgInternal         = "Something went wrong"
	ErrMsgInvalidRequest   = "Invalid request"
	ErrMsgForbidden        = "Forbidden"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Class  string            `json:"class,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type rateLimitedResponse struct {
	Error    string    `json:"error"`
	ResumeAt time.Time `json:"resumeAt"`
}

func respondJSON(w http.ResponseWriter, log *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, log *zap.Logger, status int, message string) {
	respondJSON(w, log, status, errorResponse{Error: message})
}

// respondServiceError maps domain errors onto HTTP statuses. Unknown errors are
// logged and hidden behind a generic 500.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var rl *errs.RateLimitedError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", rl.ResumeAt.UTC().Format(http.TimeFormat))
		respondJSON(w, log, http.StatusTooManyRequests, rateLimitedResponse{Error: ErrMsgRateLimited, ResumeAt: rl.ResumeAt.UTC()})
		return
	}
	var lerr *errs.LoginError
	if errors.As(err, &lerr) {
		respondJSON(w, log, http.StatusBadGateway, errorResponse{Error: errs.ErrExternalLogin.Error(), Class: lerr.Class})
		return
	}

	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	respondError(w, log, status, msg)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden, ErrMsgNotAuthenticated
	case errors.Is(err, errs.ErrConfiguration):
		return http.StatusInternalServerError, ErrMsgConfiguration
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, ErrMsgRateLimited
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, ErrMsgNotFound
	case errors.Is(err, errs.ErrNotReady):
		return http.StatusConflict, ErrMsgNotReady
	case errors.Is(err, errs.ErrMalformedCipherText):
		return http.StatusInternalServerError, ErrMsgStoredSession
	case errors.Is(err, errs.ErrExternalLogin):
		return http.StatusBadGateway, errs.ErrExternalLogin.Error()
	}
	return http.StatusInternalServerError, ErrMsgInternal
}
