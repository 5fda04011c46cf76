package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	"github.com/wolfman30/medmitra-kiosk/internal/http/middleware"
	"github.com/wolfman30/medmitra-kiosk/internal/kiosk"
)

const visitDate = "2099-01-05"

// fakeAPI serves one doctor open 09:00-13:00 in 30 minute steps with 10:00
// and 11:30 taken.
type fakeAPI struct {
	mu        sync.Mutex
	conflicts []string
	requests  []bookings.BookRequest
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/resources":
		_, _ = io.WriteString(w, `{"items":[{"type":"doctor","id":"1","name":"Dr. Michael Chen","open":"09:00","close":"13:00","stepMinutes":30}]}`)
	case "/appointments/availability":
		_, _ = io.WriteString(w, `{"resourceKey":"doctor#1","date":"`+r.URL.Query().Get("date")+`","booked":["10:00","11:30"]}`)
	case "/appointments/book-batch":
		var req bookings.BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		conflicts := f.conflicts
		f.mu.Unlock()
		if len(conflicts) > 0 {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"detail": "Some slots are no longer available", "conflicts": conflicts})
			return
		}
		appts := make([]map[string]string, 0, len(req.TimeSlots))
		for i, ts := range req.TimeSlots {
			appts = append(appts, map[string]string{"patientId": req.PatientID, "appointmentId": "appt-" + string(rune('a'+i)), "timeSlot": ts})
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"patientId":     req.PatientID,
			"appointmentId": "appt-a",
			"resourceKey":   "doctor#1",
			"date":          req.Details.DateISO,
			"appointments":  appts,
		})
	default:
		http.NotFound(w, r)
	}
}

// syncBuffer is written to from the flow's notification goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(ctx context.Context, t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := newRootCmd(out, io.Discard)
	cmd.SetArgs(append([]string{"--api-url", srv.URL, "--log-level", "error", "--fetch-failure", "block"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestResourcesCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	out, err := execute(context.Background(), t, srv, "resources", "--type", "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "doctor#1")
	assert.Contains(t, out, "Dr. Michael Chen")
	assert.Contains(t, out, "8")
}

func TestSlotsCommandPrintsPartyStarts(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	out, err := execute(context.Background(), t, srv, "slots", "--id", "1", "--date", visitDate)
	require.NoError(t, err)
	assert.Contains(t, out, "booked=10:00,11:30")
	assert.Contains(t, out, "available: 09:00,09:30,10:30,11:00,12:00,12:30")

	out, err = execute(context.Background(), t, srv, "slots", "--id", "1", "--date", visitDate, "--group", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "starts for 2: 09:00,10:30,12:00")
}

func TestSlotsCommandUnknownResource(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	_, err := execute(context.Background(), t, srv, "slots", "--id", "9", "--date", visitDate)
	assert.ErrorContains(t, err, "not found")
}

func TestBookCommandSendsConsecutiveSlots(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := execute(context.Background(), t, srv, "book",
		"--id", "1", "--date", visitDate, "--start", "10:30", "--group", "2",
		"--patient", "pat-123456", "--phone", "+919800000000")
	require.NoError(t, err)
	assert.Contains(t, out, "booked 2 slot(s) for pat-123456 on "+visitDate)
	assert.Contains(t, out, "11:00  appt-b")

	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, []string{"10:30", "11:00"}, req.TimeSlots)
	assert.Equal(t, visitDate, req.Details.DateISO)
	assert.Equal(t, "Dr. Michael Chen", req.Details.DoctorName)
	require.NotNil(t, req.Contact)
	assert.Equal(t, "+919800000000", req.Contact.Phone)
}

func TestBookCommandReportsConflict(t *testing.T) {
	api := &fakeAPI{conflicts: []string{"11:00"}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := execute(context.Background(), t, srv, "book",
		"--id", "1", "--date", visitDate, "--start", "10:30", "--group", "2", "--patient", "pat-123456")
	require.Error(t, err)
	_, ok := kiosk.IsConflict(err)
	assert.True(t, ok)
	assert.Contains(t, out, "conflict: 11:00 no longer available")
}

func TestBookCommandRejectsPartyThatDoesNotFit(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	_, err := execute(context.Background(), t, srv, "book",
		"--id", "1", "--date", visitDate, "--start", "11:00", "--group", "2", "--patient", "pat-123456")
	require.Error(t, err)
	assert.Empty(t, api.requests)

	_, err = execute(context.Background(), t, srv, "book",
		"--id", "1", "--date", visitDate, "--start", "10:00", "--patient", "pat-123456")
	assert.ErrorIs(t, err, kiosk.ErrSlotUnavailable)
}

func TestWatchCommandPrintsUpdatesUntilCancelled(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := execute(ctx, t, srv, "--poll", "20ms", "watch", "--id", "1", "--date", visitDate)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "[idle] doctor#1 "+visitDate+" confirmed free=6 booked=10:00,11:30", lines[0])
}

func TestAdminTokenCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	out, err := execute(context.Background(), t, srv, "admin-token", "--secret", "s3cret", "--subject", "ops")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	protected := middleware.AdminJWT("s3cret", middleware.ScopeResourcesWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.AdminClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "ops", claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPut, "/admin/resources/doctor/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err = execute(context.Background(), t, srv, "admin-token", "--secret", "")
	assert.Error(t, err)
}

func TestRootRejectsUnknownFailurePolicy(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	_, err := execute(context.Background(), t, srv, "--fetch-failure", "yolo", "resources")
	assert.Error(t, err)
}
