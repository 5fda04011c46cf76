package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/session"
)

func TestKioskSession(t *testing.T) {
	manager := session.NewManager("test-secret")
	var seen string
	h := KioskSession(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.PatientIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/availability", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, seen)

	token, _, err := manager.Issue("pat-123456")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/appointments/availability", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pat-123456", seen)

	req = httptest.NewRequest(http.MethodGet, "/appointments/availability", nil)
	req.AddCookie(&http.Cookie{Name: manager.CookieName(), Value: token + "x"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
