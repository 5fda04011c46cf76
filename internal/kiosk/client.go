package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// AvailabilitySource reports the booked slots of a resource on a date.
type AvailabilitySource interface {
	BookedSlots(ctx context.Context, ref resource.Ref, date slots.Date) ([]slots.TimeSlot, error)
}

// Booker submits a consecutive-slot booking. A lost race is reported as
// *bookings.ConflictError.
type Booker interface {
	Book(ctx context.Context, req bookings.BookRequest) (*bookings.BookResult, error)
}

// ResourceLister lists bookable resources with their grids.
type ResourceLister interface {
	Resources(ctx context.Context, typ resource.Type) ([]resource.Resource, error)
}

// StatusError is a non-2xx reply that is neither a conflict nor a
// validation failure. It is retryable.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kiosk: booking API returned %d: %s", e.Status, e.Body)
}

// Client talks to the booking API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

var (
	_ AvailabilitySource = (*Client)(nil)
	_ Booker             = (*Client)(nil)
	_ ResourceLister     = (*Client)(nil)
)

// NewClient constructs a booking API client. timeout <= 0 uses 10s.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		panic("kiosk: base URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

func (c *Client) BookedSlots(ctx context.Context, ref resource.Ref, date slots.Date) ([]slots.TimeSlot, error) {
	q := url.Values{}
	q.Set("type", string(ref.Type))
	q.Set("resourceId", ref.ID)
	q.Set("date", date.String())

	var avail bookings.Availability
	if err := c.doJSON(ctx, http.MethodGet, "/appointments/availability?"+q.Encode(), nil, &avail); err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return avail.Booked, nil
}

func (c *Client) Book(ctx context.Context, req bookings.BookRequest) (*bookings.BookResult, error) {
	var result bookings.BookResult
	if err := c.doJSON(ctx, http.MethodPost, "/appointments/book-batch", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Resources(ctx context.Context, typ resource.Type) ([]resource.Resource, error) {
	path := "/resources"
	if typ != "" {
		path += "?type=" + url.QueryEscape(string(typ))
	}
	var wrapped struct {
		Items []resource.Resource `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapped); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return wrapped.Items, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(path, resp.StatusCode, respBody)
	}
	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(path string, status int, body []byte) error {
	switch status {
	case http.StatusConflict:
		var payload struct {
			Conflicts []string `json:"conflicts"`
		}
		conflict := &bookings.ConflictError{}
		if err := json.Unmarshal(body, &payload); err == nil {
			for _, raw := range payload.Conflicts {
				if ts, err := slots.Parse(raw); err == nil {
					conflict.Slots = append(conflict.Slots, ts)
				}
			}
		}
		return conflict
	case http.StatusUnprocessableEntity:
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		return fmt.Errorf("%w: %s", bookings.ErrInvalidRequest, payload.Error)
	case http.StatusTooManyRequests:
		return bookings.ErrDuplicateRequest
	}

	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	c.logger.Warn("booking API non-2xx response", "status", status, "path", path, "body", msg)
	return &StatusError{Status: status, Body: msg}
}

// IsConflict reports whether err is a lost booking race.
func IsConflict(err error) (*bookings.ConflictError, bool) {
	var conflict *bookings.ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
