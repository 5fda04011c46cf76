// Package resource describes bookable entities (doctors, labs, rooms,
// equipment) and the catalog the kiosk picks them from.
package resource

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

// Type tags what kind of thing is being booked.
type Type string

const (
	TypeDoctor    Type = "doctor"
	TypeLab       Type = "lab"
	TypeRoom      Type = "room"
	TypeEquipment Type = "equipment"
)

var (
	// ErrUnknownType is returned for type tags outside the known set.
	ErrUnknownType = errors.New("resource: unknown type")
	// ErrInvalidKey is returned for keys not in "type#id" form.
	ErrInvalidKey = errors.New("resource: invalid key")
	// ErrNotFound is returned when a catalog has no such resource.
	ErrNotFound = errors.New("resource: not found")
)

// ParseType validates a type tag.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeDoctor, TypeLab, TypeRoom, TypeEquipment:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Ref identifies a resource without its display metadata.
type Ref struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// NewRef validates the parts of a reference.
func NewRef(typ, id string) (Ref, error) {
	t, err := ParseType(typ)
	if err != nil {
		return Ref{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "#") {
		return Ref{}, fmt.Errorf("%w: id %q", ErrInvalidKey, id)
	}
	return Ref{Type: t, ID: id}, nil
}

// Doctor is shorthand for a doctor reference.
func Doctor(id string) Ref { return Ref{Type: TypeDoctor, ID: id} }

// Key is the partition key used by the slot lock table, e.g. "doctor#1".
func (r Ref) Key() string { return string(r.Type) + "#" + r.ID }

func (r Ref) String() string { return r.Key() }

func (r Ref) IsZero() bool { return r.Type == "" && r.ID == "" }

// ParseKey reverses Key.
func ParseKey(key string) (Ref, error) {
	typ, id, ok := strings.Cut(key, "#")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return NewRef(typ, id)
}

// Resource is a bookable entity with its own day window. A zero window
// means the kiosk default of 08:00-20:00 in 15 minute steps.
type Resource struct {
	Type           Type           `json:"type"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Specialty      string         `json:"specialty,omitempty"`
	ClinicName     string         `json:"clinicName,omitempty"`
	Qualifications string         `json:"qualifications,omitempty"`
	Rating         float64        `json:"rating,omitempty"`
	Fee            string         `json:"fee,omitempty"`
	Languages      []string       `json:"languages,omitempty"`
	Open           slots.TimeSlot `json:"open"`
	Close          slots.TimeSlot `json:"close"`
	StepMinutes    int            `json:"stepMinutes,omitempty"`
}

func (r Resource) Ref() Ref    { return Ref{Type: r.Type, ID: r.ID} }
func (r Resource) Key() string { return r.Ref().Key() }

// Grid returns the resource's slot grid.
func (r Resource) Grid() (slots.Grid, error) {
	if r.Open == r.Close && r.StepMinutes == 0 {
		return slots.DefaultGrid(), nil
	}
	step := slots.DefaultStep
	if r.StepMinutes > 0 {
		step = time.Duration(r.StepMinutes) * time.Minute
	}
	g, err := slots.NewGrid(r.Open, r.Close, step)
	if err != nil {
		return slots.Grid{}, fmt.Errorf("resource: %s: %w", r.Key(), err)
	}
	return g, nil
}

// WithGrid returns a copy of r using g as its window.
func (r Resource) WithGrid(g slots.Grid) Resource {
	r.Open = g.Open()
	r.Close = g.Close()
	r.StepMinutes = int(g.Step() / time.Minute)
	return r
}
