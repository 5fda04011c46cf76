package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	httpmiddleware "github.com/wolfman30/medmitra-kiosk/internal/http/middleware"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/session"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

const adminSecret = "admin-secret"

// bookedStore reports a fixed booked list and accepts every reservation.
type bookedStore struct {
	booked []slots.TimeSlot
}

func (s bookedStore) BookedSlots(context.Context, resource.Ref, slots.Date) ([]slots.TimeSlot, error) {
	return s.booked, nil
}

func (bookedStore) Reserve(context.Context, bookings.Reservation, []*bookings.Appointment) error {
	return nil
}

func (bookedStore) ListForPatient(context.Context, string, int, string) (bookings.Page, error) {
	return bookings.Page{}, nil
}

func (bookedStore) Get(context.Context, string, string) (*bookings.Appointment, error) {
	return nil, bookings.ErrNotFound
}

func (bookedStore) AttachKiosk(context.Context, string, string, map[string]any, time.Time) (*bookings.Appointment, error) {
	return nil, bookings.ErrNotFound
}

type testRouter struct {
	handler http.Handler
	manager *session.Manager
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) testRouter {
	t.Helper()

	logger := logging.New("error")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := resource.NewRedisCatalog(rdb, resource.NewStaticCatalog(slots.DefaultGrid(), resource.DefaultResources()...))
	service := bookings.NewService(bookedStore{booked: []slots.TimeSlot{slots.MustParse("10:00")}}, catalog, logger,
		bookings.WithClock(func() time.Time { return time.Date(2025, 3, 4, 9, 3, 0, 0, time.UTC) }),
		bookings.WithLocation(time.UTC))
	manager := session.NewManager("session-secret", session.WithSecure(false))

	return testRouter{
		manager: manager,
		handler: New(&Config{
			Logger:             logger,
			BookingsHandler:    bookings.NewHandler(service, logger),
			ResourceHandler:    resource.NewHandler(catalog, catalog, logger),
			SessionHandler:     session.NewHandler(manager, logger),
			SessionManager:     manager,
			AdminAuthSecret:    adminSecret,
			CORSAllowedOrigins: []string{"https://kiosk.medmitra.in"},
			RateLimiter:        httpmiddleware.NewRedisRateLimiter(rdb, 100, time.Minute),
			HealthChecks:       checks,
		}),
	}
}

func (tr testRouter) do(method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndReady(t *testing.T) {
	tr := newTestRouter(t, map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := tr.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = tr.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"ok","postgres":"connection refused"}}`, rec.Body.String())
}

func TestRouterAvailability(t *testing.T) {
	tr := newTestRouter(t, nil)

	rec := tr.do(http.MethodGet, "/appointments/availability?type=doctor&resourceId=1&date=2025-03-04", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resourceKey":"doctor#1","date":"2025-03-04","booked":["10:00"]}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
}

func TestRouterSessionCookieScopesBooking(t *testing.T) {
	tr := newTestRouter(t, nil)

	rec := tr.do(http.MethodPost, "/kiosk/session/set", `{"patientId":"pat-123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	withCookie := func(c *http.Cookie) func(*http.Request) {
		return func(r *http.Request) { r.AddCookie(c) }
	}

	rec = tr.do(http.MethodGet, "/kiosk/session/me", "", withCookie(cookies[0]))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pat-123456")

	body := `{"patientId":"pat-999999","appointment_details":{"dateISO":"2025-03-04","doctorId":"1"},"timeSlots":["11:00"]}`
	rec = tr.do(http.MethodPost, "/appointments/book", body, withCookie(cookies[0]))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body = `{"patientId":"pat-123456","appointment_details":{"dateISO":"2025-03-04","doctorId":"1"},"timeSlots":["11:00","11:15"]}`
	rec = tr.do(http.MethodPost, "/appointments/book-batch", body, withCookie(cookies[0]))
	assert.Equal(t, http.StatusCreated, rec.Code)

	tampered := *cookies[0]
	tampered.Value = "not-a-token"
	rec = tr.do(http.MethodGet, "/appointments/availability?doctorId=1&date=2025-03-04", "", withCookie(&tampered))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAdminResourceUpdate(t *testing.T) {
	tr := newTestRouter(t, nil)
	body := `{"name":"Dr. Michael Chen","open":"09:00","close":"12:00"}`

	rec := tr.do(http.MethodPut, "/admin/resources/doctor/1", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := httpmiddleware.SignAdminToken(adminSecret, "front-desk", httpmiddleware.ScopeResourcesWrite, time.Minute)
	require.NoError(t, err)
	rec = tr.do(http.MethodPut, "/admin/resources/doctor/1", body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tr.do(http.MethodGet, "/resources?type=doctor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"close":"12:00"`)
}

func TestRouterCORSPreflight(t *testing.T) {
	tr := newTestRouter(t, nil)

	rec := tr.do(http.MethodOptions, "/appointments/book", "", func(r *http.Request) {
		r.Header.Set("Origin", "https://kiosk.medmitra.in")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://kiosk.medmitra.in", rec.Header().Get("Access-Control-Allow-Origin"))
}
