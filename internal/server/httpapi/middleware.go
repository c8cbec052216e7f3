package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/metrics"
)

// HeaderAPIKey carries the static key for /admin routes.
const HeaderAPIKey = "X-API-Key"

// Authenticator resolves an Authorization header into a telegram id.
type Authenticator interface {
	Authenticate(header string) (string, error)
}

// Authenticate rejects requests without a valid init-data assertion and
// stores the caller's telegram id in the request context.
func Authenticate(auth Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			id, err := auth.Authenticate(header)
			if err != nil {
				reason := "invalid"
				switch {
				case header == "":
					reason = "missing"
				case errors.Is(err, errs.ErrConfiguration):
					reason = "configuration"
				}
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				if reason == "configuration" {
					log.Error("init-data check unavailable", zap.Error(err))
				} else {
					log.Debug("init-data rejected", zap.String("reason", reason), zap.String("path", r.URL.Path))
				}
				status, msg := mapError(err)
				respondError(w, log, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAPIKey guards operator routes with a static key compared in constant time.
func RequireAPIKey(apiKey string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(HeaderAPIKey)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				log.Warn("api key rejected",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path),
					zap.Bool("has_key", provided != ""),
				)
				respondError(w, log, http.StatusForbidden, ErrMsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Logging writes one line per request. Bodies and headers are never logged.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("dur", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Recover turns a handler panic into a 500.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					respondError(w, log, http.StatusInternalServerError, ErrMsgInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
