package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

// Catalog looks up bookable resources.
type Catalog interface {
	Get(ctx context.Context, ref Ref) (*Resource, error)
	List(ctx context.Context, typ Type) ([]Resource, error)
}

// DefaultResources are the walk-in doctors offered when nothing else is
// configured.
func DefaultResources() []Resource {
	return []Resource{
		{
			Type:           TypeDoctor,
			ID:             "1",
			Name:           "Dr. Michael Chen",
			Specialty:      "General Medicine",
			ClinicName:     "MedMitra Downtown Clinic",
			Qualifications: "MBBS, MD (Internal Medicine)",
			Rating:         4.8,
			Fee:            "500",
			Languages:      []string{"English", "Hindi"},
		},
		{
			Type:           TypeDoctor,
			ID:             "2",
			Name:           "Dr. Priya Sharma",
			Specialty:      "General Medicine",
			ClinicName:     "MedMitra Central Clinic",
			Qualifications: "MBBS, DNB (Family Medicine)",
			Rating:         4.7,
			Fee:            "500",
			Languages:      []string{"English", "Hindi", "Tamil"},
		},
	}
}

// StaticCatalog serves a fixed set of resources.
type StaticCatalog struct {
	byKey map[string]Resource
}

// NewStaticCatalog indexes resources by key. Resources without their own
// window get grid.
func NewStaticCatalog(grid slots.Grid, resources ...Resource) *StaticCatalog {
	c := &StaticCatalog{byKey: make(map[string]Resource, len(resources))}
	for _, r := range resources {
		if r.Open == r.Close && r.StepMinutes == 0 && !grid.IsZero() {
			r = r.WithGrid(grid)
		}
		c.byKey[r.Key()] = r
	}
	return c
}

func (c *StaticCatalog) Get(_ context.Context, ref Ref) (*Resource, error) {
	r, ok := c.byKey[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return &r, nil
}

func (c *StaticCatalog) List(_ context.Context, typ Type) ([]Resource, error) {
	out := make([]Resource, 0, len(c.byKey))
	for _, r := range c.byKey {
		if typ == "" || r.Type == typ {
			out = append(out, r)
		}
	}
	sortResources(out)
	return out, nil
}

// RedisCatalog stores per-resource overrides as JSON in Redis and falls back
// to another catalog for anything not stored there.
type RedisCatalog struct {
	redis    *redis.Client
	fallback Catalog
}

// NewRedisCatalog creates a Redis-backed catalog.
func NewRedisCatalog(redisClient *redis.Client, fallback Catalog) *RedisCatalog {
	if redisClient == nil {
		panic("resource: redis client cannot be nil")
	}
	if fallback == nil {
		fallback = NewStaticCatalog(slots.DefaultGrid())
	}
	return &RedisCatalog{redis: redisClient, fallback: fallback}
}

func (c *RedisCatalog) key(ref Ref) string {
	return fmt.Sprintf("resource:%s", ref.Key())
}

func (c *RedisCatalog) indexKey(typ Type) string {
	return fmt.Sprintf("resource:index:%s", typ)
}

// Get returns the stored resource, or the fallback's when none is stored.
func (c *RedisCatalog) Get(ctx context.Context, ref Ref) (*Resource, error) {
	data, err := c.redis.Get(ctx, c.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return c.fallback.Get(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: get %s: %w", ref, err)
	}
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("resource: unmarshal %s: %w", ref, err)
	}
	return &r, nil
}

// List merges stored resources over the fallback's list.
func (c *RedisCatalog) List(ctx context.Context, typ Type) ([]Resource, error) {
	base, err := c.fallback.List(ctx, typ)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]Resource, len(base))
	for _, r := range base {
		merged[r.Key()] = r
	}

	types := []Type{typ}
	if typ == "" {
		types = []Type{TypeDoctor, TypeLab, TypeRoom, TypeEquipment}
	}
	for _, t := range types {
		ids, err := c.redis.SMembers(ctx, c.indexKey(t)).Result()
		if err != nil {
			return nil, fmt.Errorf("resource: list %s: %w", t, err)
		}
		for _, id := range ids {
			r, err := c.Get(ctx, Ref{Type: t, ID: id})
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			merged[r.Key()] = *r
		}
	}

	out := make([]Resource, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortResources(out)
	return out, nil
}

// Set stores a resource, validating its window first.
func (c *RedisCatalog) Set(ctx context.Context, r Resource) error {
	if _, err := NewRef(string(r.Type), r.ID); err != nil {
		return err
	}
	if _, err := r.Grid(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("resource: marshal %s: %w", r.Key(), err)
	}
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, c.key(r.Ref()), data, 0)
	pipe.SAdd(ctx, c.indexKey(r.Type), r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resource: set %s: %w", r.Key(), err)
	}
	return nil
}

func sortResources(in []Resource) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Type != in[j].Type {
			return in[i].Type < in[j].Type
		}
		return in[i].ID < in[j].ID
	})
}
