package middleware

import (
	"errors"
	"net/http"

	"github.com/wolfman30/medmitra-kiosk/internal/session"
)

// KioskSession attaches the signed kiosk patient id to the request context.
// Requests without a cookie pass through untouched; a tampered or expired
// cookie is rejected.
func KioskSession(manager *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				next.ServeHTTP(w, r)
				return
			}
			pid, err := manager.FromRequest(r)
			switch {
			case errors.Is(err, session.ErrNoSession):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				http.Error(w, `{"error": "invalid or expired kiosk session"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithPatientID(r.Context(), pid)))
		})
	}
}
