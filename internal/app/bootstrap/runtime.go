package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/medmitra-kiosk/internal/config"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/session"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSlotGrid parses the configured default day window.
func BuildSlotGrid(cfg *appconfig.Config) (slots.Grid, error) {
	if cfg == nil {
		return slots.Grid{}, fmt.Errorf("bootstrap: config is required")
	}
	grid, err := slots.ParseGrid(cfg.SlotOpen, cfg.SlotClose, cfg.SlotStep)
	if err != nil {
		return slots.Grid{}, fmt.Errorf("bootstrap: slot window: %w", err)
	}
	return grid, nil
}

// BuildCatalog serves the default walk-in doctors on grid, overlaid with
// Redis-stored overrides when Redis is available. The second return value
// is the writer for admin updates and is nil without Redis.
func BuildCatalog(grid slots.Grid, redisClient *redis.Client) (resource.Catalog, resource.Writer) {
	static := resource.NewStaticCatalog(grid, resource.DefaultResources()...)
	if redisClient == nil {
		return static, nil
	}
	catalog := resource.NewRedisCatalog(redisClient, static)
	return catalog, catalog
}

// BuildSessionManager creates the kiosk cookie signer. Production refuses
// to start without a secret; elsewhere a random one is generated, which
// invalidates sessions on restart.
func BuildSessionManager(cfg *appconfig.Config, logger *logging.Logger) (*session.Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	secret := strings.TrimSpace(cfg.KioskSessionSecret)
	if secret == "" {
		if strings.EqualFold(cfg.Env, "production") {
			return nil, fmt.Errorf("bootstrap: KIOSK_SESSION_SECRET is required in production")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("bootstrap: generate session secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("KIOSK_SESSION_SECRET not set; using an ephemeral secret", "env", cfg.Env)
	}

	opts := []session.Option{
		session.WithTTL(cfg.KioskSessionTTL),
		session.WithSecure(cfg.KioskCookieSecure),
	}
	if cfg.KioskCookieName != "" {
		opts = append(opts, session.WithCookieName(cfg.KioskCookieName))
	}
	if cfg.KioskCookieDomain != "" {
		opts = append(opts, session.WithDomain(cfg.KioskCookieDomain))
	}
	return session.NewManager(secret, opts...), nil
}
