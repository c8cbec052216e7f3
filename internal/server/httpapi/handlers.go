package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/model"
	"github.com/and161185/tglink/internal/service"
)

// Linker drives the two-request login handshake.
type Linker interface {
	StartHandshake(ctx context.Context, identity, phone, password string) (uuid.UUID, error)
	SubmitCode(ctx context.Context, identity string, id uuid.UUID, code string) error
	CompleteAndPersist(ctx context.Context, identity string, id uuid.UUID) (string, error)
	Status(ctx context.Context, identity string, id uuid.UUID) (model.OperationView, error)
}

// Handlers serves the /v2 and /admin routes.
type Handlers struct {
	linker   Linker
	sessions service.SessionService
	validate *validator.Validate
	log      *zap.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(linker Linker, sessions service.SessionService, log *zap.Logger) *Handlers {
	return &Handlers{linker: linker, sessions: sessions, validate: newValidator(), log: log}
}

type initRequest struct {
	Phone    string `json:"phone" validate:"required,phone"`
	Password string `json:"password" validate:"max=256"`
}

type initResponse struct {
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
}

type callbackRequest struct {
	OperationID string `json:"operationId" validate:"required,uuid4"`
	Code        string `json:"code" validate:"required,numeric,min=3,max=10"`
}

type callbackResponse struct {
	Session string `json:"session"`
	Status  string `json:"status"`
}

type operationResponse struct {
	OperationID string    `json:"operationId"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type sessionStatusResponse struct {
	Linked  bool       `json:"linked"`
	SavedAt *time.Time `json:"savedAt,omitempty"`
}

type revealResponse struct {
	Session string `json:"session"`
}

type probeResponse struct {
	Linked bool `json:"linked"`
}

// identity is set by Authenticate; a miss here means the route was mounted
// without it.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := IdentityFromCtx(r.Context())
	if !ok {
		respondError(w, h.log, http.StatusForbidden, ErrMsgNotAuthenticated)
	}
	return id, ok
}

// Init handles POST /v2/auth/init.
func (h *Handlers) Init(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req initRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		return
	}

	opID, err := h.linker.StartHandshake(r.Context(), id, req.Phone, req.Password)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, initResponse{OperationID: opID.String(), Status: string(model.StatusPending)})
}

// Callback handles POST /v2/auth/callback: it hands the code to the login and
// returns the encrypted session.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		return
	}
	opID := uuid.FromStringOrNil(req.OperationID)

	if err := h.linker.SubmitCode(r.Context(), id, opID, req.Code); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	blob, err := h.linker.CompleteAndPersist(r.Context(), id, opID)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, callbackResponse{Session: blob, Status: "code_received"})
}

// Operation handles GET /v2/auth/operations/{id}.
func (h *Handlers) Operation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	opID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.log, errs.ErrNotFound)
		return
	}

	v, err := h.linker.Status(r.Context(), id, opID)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, operationResponse{
		OperationID: v.ID.String(),
		Status:      string(v.Status),
		Error:       v.ErrorClass,
		CreatedAt:   v.CreatedAt.UTC(),
	})
}

// SessionStatus handles GET /v2/auth/session.
func (h *Handlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	st, err := h.sessions.Status(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	resp := sessionStatusResponse{Linked: st.Linked}
	if st.Linked {
		at := st.SavedAt.UTC()
		resp.SavedAt = &at
	}
	respondJSON(w, h.log, http.StatusOK, resp)
}

// RevealSession handles GET /v2/auth/session/reveal.
func (h *Handlers) RevealSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.Reveal(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, revealResponse{Session: sess})
}

// ProbeSession handles POST /v2/auth/session/probe.
func (h *Handlers) ProbeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	linked, err := h.sessions.Probe(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, probeResponse{Linked: linked})
}

// RevokeSession handles DELETE /v2/auth/session.
func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Revoke(r.Context(), id); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminRevoke handles DELETE /admin/sessions/{telegramId}.
func (h *Handlers) AdminRevoke(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "telegramId")
	if err := h.sessions.Revoke(r.Context(), target); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	h.log.Info("session revoked by operator", zap.String("user", target))
	w.WriteHeader(http.StatusNoContent)
}
