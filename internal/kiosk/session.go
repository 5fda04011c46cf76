// Package kiosk is the client side of walk-in booking: it keeps a resource's
// day schedule fresh, validates a party's consecutive-slot pick and drives
// the submit state machine against the booking API.
package kiosk

import (
	"errors"
	"strings"
)

// ErrMissingIdentity means the flow has no patient in scope. Callers must
// send the patient back to identification rather than retry.
var ErrMissingIdentity = errors.New("kiosk: patient identity missing")

// Session is the identity a booking flow acts for. It is passed in
// explicitly rather than read from ambient state.
type Session struct {
	PatientID string
	Phone     string
	GroupSize int
}

// Validate checks the identity and normalizes the party size to at least 1.
func (s Session) Validate() (Session, error) {
	s.PatientID = strings.TrimSpace(s.PatientID)
	s.Phone = strings.TrimSpace(s.Phone)
	if len(s.PatientID) < 6 {
		return s, ErrMissingIdentity
	}
	if s.GroupSize < 1 {
		s.GroupSize = 1
	}
	return s, nil
}
