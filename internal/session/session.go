// Package session binds a kiosk browser to the patient it registered, using
// an HMAC-signed cookie so the patient id cannot be forged client side.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "kiosk_pid"
	DefaultTTL        = 24 * time.Hour
	minPatientIDLen   = 6
)

var (
	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("session: no kiosk session")
	// ErrInvalidSession covers bad signatures, expiry and malformed tokens.
	ErrInvalidSession = errors.New("session: invalid or expired kiosk session")
)

// Claims is the signed cookie payload.
type Claims struct {
	PatientID string `json:"pid"`
	jwt.RegisteredClaims
}

// Manager issues and verifies kiosk session cookies.
type Manager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	domain     string
	secure     bool
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name = strings.TrimSpace(name); name != "" {
			m.cookieName = name
		}
	}
}

func WithDomain(domain string) Option {
	return func(m *Manager) { m.domain = strings.TrimSpace(domain) }
}

// WithSecure controls the cookie Secure flag. Local HTTP kiosks need false.
func WithSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager panics when secret is empty.
func NewManager(secret string, opts ...Option) *Manager {
	if secret == "" {
		panic("session: secret cannot be empty")
	}
	m := &Manager{
		secret:     []byte(secret),
		ttl:        DefaultTTL,
		cookieName: DefaultCookieName,
		secure:     true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CookieName() string { return m.cookieName }

// Issue signs a token for patientID.
func (m *Manager) Issue(patientID string) (string, time.Time, error) {
	patientID = strings.TrimSpace(patientID)
	if len(patientID) < minPatientIDLen {
		return "", time.Time{}, fmt.Errorf("session: patientId must be at least %d characters", minPatientIDLen)
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		PatientID: patientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   patientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return token, expires, nil
}

// Verify returns the patient id carried by token.
func (m *Manager) Verify(token string) (string, error) {
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.PatientID == "" {
		return "", ErrInvalidSession
	}
	return claims.PatientID, nil
}

// FromRequest reads and verifies the session cookie.
func (m *Manager) FromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return "", ErrNoSession
	}
	return m.Verify(c.Value)
}

// SetCookie issues a session for patientID and writes it to w.
func (m *Manager) SetCookie(w http.ResponseWriter, patientID string) error {
	token, expires, err := m.Issue(patientID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.domain,
		Expires:  expires,
		MaxAge:   int(m.ttl / time.Second),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   -1,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type contextKey string

const patientIDKey contextKey = "kioskPatientID"

// WithPatientID stores the session's patient id on ctx.
func WithPatientID(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, patientIDKey, patientID)
}

// PatientIDFromContext returns the session's patient id if present.
func PatientIDFromContext(ctx context.Context) (string, bool) {
	pid, ok := ctx.Value(patientIDKey).(string)
	return pid, ok && pid != ""
}
