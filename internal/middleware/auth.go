package middleware

import (
	"net/http"
	"strings"

	"github.com/jayms/healthsync/internal/telemetry/tracing"
	"github.com/jayms/healthsync/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// AuthMiddlewareHandler guards the mutating endpoints (sync trigger,
// backup trigger) with a shared secret; everything else on the
// dashboard is read-only and open to localhost
type AuthMiddlewareHandler struct {
	syncSecretHash  string
	protectedPrefix []string
}

func NewAuthMiddlewareHandler(syncSecretHash string) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		syncSecretHash: syncSecretHash,
		protectedPrefix: []string{
			"/api/sync",
			"/api/backup",
		},
	}
}

func (h *AuthMiddlewareHandler) pathIsProtected(path string) bool {
	for _, prefix := range h.protectedPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if !h.pathIsProtected(r.URL.Path) {
				span.SetStatus(codes.Ok, "open-path")
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("X-HEALTHSYNC-TOKEN")
			if token == "" || !pkg.CheckPasswordHash(token, h.syncSecretHash) {
				log.Tracef("failed sync trigger auth for path: %s", r.URL.Path)
				span.SetStatus(codes.Error, "wrong-token")
				http.Error(w, "no can do", http.StatusUnauthorized)
				return
			}

			span.SetStatus(codes.Ok, "token-ok")
			next.ServeHTTP(w, r)
		})
	}
}
