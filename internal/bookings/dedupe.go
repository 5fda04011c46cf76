package bookings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

// Deduper guards against the same party submitting the same booking twice
// in quick succession, e.g. a double tap on two kiosks or a client retry.
type Deduper struct {
	client *redis.Client
	window time.Duration
}

// NewDeduper returns nil when client is nil or window is not positive, and
// a nil *Deduper never rejects.
func NewDeduper(client *redis.Client, window time.Duration) *Deduper {
	if client == nil || window <= 0 {
		return nil
	}
	return &Deduper{client: client, window: window}
}

func dedupeKey(res Reservation) string {
	raw := strings.Join([]string{
		res.PatientID,
		res.Resource.Key(),
		res.Date.String(),
		strings.Join(slots.Strings(res.Slots), ","),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return "bookings:dedupe:" + hex.EncodeToString(sum[:16])
}

// Acquire claims the request. The returned release drops the claim so a
// failed attempt can be retried at once.
func (d *Deduper) Acquire(ctx context.Context, res Reservation) (release func(), err error) {
	if d == nil {
		return func() {}, nil
	}
	key := dedupeKey(res)
	ok, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), d.window).Result()
	if err != nil {
		return nil, fmt.Errorf("bookings: dedupe claim: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}
	return func() {
		_ = d.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}
