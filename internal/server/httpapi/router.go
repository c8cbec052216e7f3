// Package httpapi is the HTTP surface of tglink: a chi router over the
// handshake coordinator and the session service.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/metrics"
	"github.com/and161185/tglink/internal/service"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Auth     Authenticator
	Linker   Linker
	Sessions service.SessionService
	APIKey   string
	Log      *zap.Logger
}

// NewRouter builds the full route table.
func NewRouter(d Deps) http.Handler {
	log := d.Log.Named("http")
	h := NewHandlers(d.Linker, d.Sessions, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recover(log))
	r.Use(Logging(log))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v2/auth", func(r chi.Router) {
		r.Use(Authenticate(d.Auth, log))
		r.Post("/init", h.Init)
		r.Post("/callback", h.Callback)
		r.Get("/operations/{id}", h.Operation)
		r.Get("/session", h.SessionStatus)
		r.Get("/session/reveal", h.RevealSession)
		r.Post("/session/probe", h.ProbeSession)
		r.Delete("/session", h.RevokeSession)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAPIKey(d.APIKey, log))
		r.Delete("/sessions/{telegramId}", h.AdminRevoke)
	})

	return r
}
