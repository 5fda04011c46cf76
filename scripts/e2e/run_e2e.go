// Package main runs end-to-end booking scenarios against a running API:
//   - single slot booking shows up in availability
//   - two kiosks racing for the same slot
//   - all-or-nothing group booking when one slot is taken
//   - non-consecutive group requests are rejected
//   - the patient's appointment list is newest first
//
// Each run books on a far-future date derived from the clock, so runs do
// not collide with each other or with real bookings.
//
// Usage:
//
//	API_BASE_URL=... go run scripts/e2e/run_e2e.go               # runs all
//	API_BASE_URL=... go run scripts/e2e/run_e2e.go group-booking # runs one
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	"github.com/wolfman30/medmitra-kiosk/internal/kiosk"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

var (
	apiBase string
	client  *kiosk.Client
	runDate slots.Date
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func newPatient() string {
	return "e2e-" + uuid.NewString()[:8]
}

func book(ctx context.Context, patient string, ts ...string) (*bookings.BookResult, error) {
	return client.Book(ctx, bookings.BookRequest{
		PatientID:    patient,
		ResourceType: string(resource.TypeDoctor),
		ResourceID:   "1",
		Details:      bookings.Details{DateISO: runDate.String(), DoctorID: "1", ConsultationType: "walk-in"},
		TimeSlots:    ts,
		Source:       "e2e",
	})
}

func booked(ctx context.Context) (slots.Set, error) {
	list, err := client.BookedSlots(ctx, resource.Doctor("1"), runDate)
	if err != nil {
		return nil, err
	}
	return slots.NewSet(list...), nil
}

func scenarioSingleBooking(t *T) {
	ctx := context.Background()
	res, err := book(ctx, newPatient(), "09:00")
	if err != nil {
		t.fatalf("book 09:00: %v", err)
		return
	}
	t.check("one appointment returned", len(res.Appointments) == 1)

	set, err := booked(ctx)
	if err != nil {
		t.fatalf("availability: %v", err)
		return
	}
	t.check("09:00 reported as booked", set.Has(slots.MustParse("09:00")))
	t.check("09:15 still free", !set.Has(slots.MustParse("09:15")))
}

func scenarioRace(t *T) {
	ctx := context.Background()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := book(ctx, newPatient(), "14:00")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if c, ok := kiosk.IsConflict(err); ok && len(c.Slots) == 1 && c.Slots[0].String() == "14:00" {
				conflicts++
			}
		}()
	}
	wg.Wait()
	t.check("exactly one kiosk wins 14:00", wins == 1)
	t.check("the other gets a conflict naming 14:00", conflicts == 1)
}

func scenarioGroupBooking(t *T) {
	ctx := context.Background()
	if _, err := book(ctx, newPatient(), "11:15"); err != nil {
		t.fatalf("book 11:15: %v", err)
		return
	}

	_, err := book(ctx, newPatient(), "11:00", "11:15", "11:30")
	c, ok := kiosk.IsConflict(err)
	t.check("group over a taken slot conflicts", ok)
	t.check("conflict names 11:15", ok && strings.Join(slots.Strings(c.Slots), ",") == "11:15")

	set, err := booked(ctx)
	if err != nil {
		t.fatalf("availability: %v", err)
		return
	}
	t.check("11:00 left free", !set.Has(slots.MustParse("11:00")))
	t.check("11:30 left free", !set.Has(slots.MustParse("11:30")))

	res, err := book(ctx, newPatient(), "12:00", "12:15", "12:30")
	if err != nil {
		t.fatalf("book group of 3: %v", err)
		return
	}
	t.check("group of 3 booked", len(res.Appointments) == 3)
}

func scenarioNonConsecutive(t *T) {
	_, err := book(context.Background(), newPatient(), "15:00", "15:30")
	t.check("gap in group rejected as invalid", errors.Is(err, bookings.ErrInvalidRequest))
}

func scenarioPatientList(t *T) {
	ctx := context.Background()
	patient := newPatient()
	for _, ts := range []string{"16:00", "17:00"} {
		if _, err := book(ctx, patient, ts); err != nil {
			t.fatalf("book %s: %v", ts, err)
			return
		}
	}

	resp, err := http.Get(fmt.Sprintf("%s/appointments/patients/%s", apiBase, patient))
	if err != nil {
		t.fatalf("list: %v", err)
		return
	}
	defer resp.Body.Close()
	var page struct {
		Items []struct {
			TimeSlot string `json:"timeSlot"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.fatalf("decode list: %v", err)
		return
	}
	t.check("two appointments listed", len(page.Items) == 2)
	t.check("newest first", len(page.Items) == 2 && page.Items[0].TimeSlot == "17:00")
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	client = kiosk.NewClient(apiBase, 10*time.Second, nil)

	now := time.Now()
	runDate = slots.DateOf(now).AddDays(365 + int(now.Unix()%3000))

	all := []scenario{
		{"single-booking", scenarioSingleBooking},
		{"double-booking-race", scenarioRace},
		{"group-booking", scenarioGroupBooking},
		{"non-consecutive", scenarioNonConsecutive},
		{"patient-list", scenarioPatientList},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	fmt.Printf("E2E against %s on %s\n", apiBase, runDate)
	totalPassed, totalFailed := 0, 0
	for _, s := range all {
		if filter != "" && s.Name != filter {
			continue
		}
		fmt.Printf("\n=== %s ===\n", s.Name)
		t := &T{name: s.Name}
		s.Fn(t)
		totalPassed += t.passed
		totalFailed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", totalPassed, totalFailed)
	if totalFailed > 0 {
		os.Exit(1)
	}
}
