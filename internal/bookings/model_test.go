package bookings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

func TestParseDefaultsToDoctorFromDetails(t *testing.T) {
	res, err := BookRequest{
		PatientID: " pat-123456 ",
		Details:   Details{DateISO: "2025-03-04", DoctorID: "2", TimeSlot: "11:00"},
	}.Parse()
	require.NoError(t, err)
	assert.Equal(t, "pat-123456", res.PatientID)
	assert.Equal(t, resource.Doctor("2"), res.Resource)
	assert.Equal(t, []string{"11:00"}, slots.Strings(res.Slots))
	assert.Equal(t, DefaultSource, res.Source)
	assert.Empty(t, res.Details.TimeSlot)
}

func TestParseExplicitResource(t *testing.T) {
	res, err := BookRequest{
		PatientID:    "pat-123456",
		ResourceType: "lab",
		ResourceID:   "xray-1",
		Details:      Details{DateISO: "2025-03-04"},
		TimeSlots:    []string{"08:00", "08:15"},
		Source:       "frontdesk",
	}.Parse()
	require.NoError(t, err)
	assert.Equal(t, "lab#xray-1", res.Resource.Key())
	assert.Equal(t, "frontdesk", res.Source)
	assert.Empty(t, res.Details.DoctorID)

	appts := res.Appointments(testNow, sequentialIDs())
	require.Len(t, appts, 2)
	assert.Equal(t, "lab", appts[0].RecordType)
	assert.Empty(t, appts[0].DoctorID)
	assert.Equal(t, "2025-03-04#08:15", appts[1].DateKey)
	assert.Equal(t, "2025-03-04T09:03:00Z", appts[1].CreatedAt)
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Slots: []slots.TimeSlot{slots.MustParse("11:15"), slots.MustParse("11:30")}}
	assert.Equal(t, "bookings: slots no longer available: 11:15, 11:30", err.Error())
	assert.Equal(t, "bookings: slots no longer available", (&ConflictError{}).Error())
}

func TestCursorRoundTrip(t *testing.T) {
	id, err := decodeCursor(encodeCursor("0190a8c2-7d2e-7c1a-9a4b-1f2e3d4c5b6a"))
	require.NoError(t, err)
	assert.Equal(t, "0190a8c2-7d2e-7c1a-9a4b-1f2e3d4c5b6a", id)

	id, err = decodeCursor("")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMergeKiosk(t *testing.T) {
	first := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	merged := MergeKiosk(nil, map[string]any{"bp": "120/80"}, first)
	assert.Equal(t, map[string]any{
		"bp":        "120/80",
		"source":    "kiosk",
		"createdAt": "2025-03-04T09:00:00Z",
		"updatedAt": "2025-03-04T09:00:00Z",
	}, merged)

	later := first.Add(time.Hour)
	merged = MergeKiosk(merged, map[string]any{"pulse": 72, "source": "nurse"}, later)
	assert.Equal(t, "120/80", merged["bp"])
	assert.Equal(t, 72, merged["pulse"])
	assert.Equal(t, "nurse", merged["source"])
	assert.Equal(t, "2025-03-04T09:00:00Z", merged["createdAt"])
	assert.Equal(t, "2025-03-04T10:00:00Z", merged["updatedAt"])
}
