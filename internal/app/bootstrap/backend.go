package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	appconfig "github.com/wolfman30/medmitra-kiosk/internal/config"
	"github.com/wolfman30/medmitra-kiosk/internal/events"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// Backend is the booking persistence selected by STORE_BACKEND together
// with the event path that fits it.
type Backend struct {
	Name  string
	Store bookings.Store
	// Publisher receives events after a booking commits. Postgres writes
	// events to the outbox inside the booking transaction instead, so it
	// gets a no-op publisher.
	Publisher events.Publisher
	// Deliverer drains the Postgres outbox to SQS. Nil for DynamoDB or when
	// no queue is configured.
	Deliverer *events.Deliverer
	Archive   *bookings.Archive
	Checks    map[string]func(ctx context.Context) error

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *Backend) Close() {
	if b != nil && b.pool != nil {
		b.pool.Close()
	}
}

// BuildBackend wires the store, event publisher and S3 archive.
func BuildBackend(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sqsPublisher *events.SQSPublisher
	if queue := strings.TrimSpace(cfg.BookingEventsQueue); queue != "" {
		sqsPublisher = events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), queue)
	}

	b := &Backend{
		Name:      cfg.StoreBackend,
		Publisher: events.NopPublisher{},
		Archive:   BuildArchive(cfg, awsCfg, logger),
		Checks:    map[string]func(ctx context.Context) error{},
	}

	switch cfg.StoreBackend {
	case appconfig.StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		b.pool = pool
		b.Store = bookings.NewPGStore(pool)
		b.Checks["postgres"] = pool.Ping
		if sqsPublisher != nil {
			b.Deliverer = events.NewDeliverer(events.NewOutboxStore(pool), sqsPublisher, logger).
				WithInterval(cfg.OutboxPollInterval)
		}
	case appconfig.StoreDynamo, "":
		b.Name = appconfig.StoreDynamo
		if cfg.SlotsTable == "" || cfg.AppointmentsTable == "" {
			return nil, fmt.Errorf("bootstrap: DDB_TABLE_SLOTS and DDB_TABLE_APPOINTMENTS are required for the dynamo store")
		}
		b.Store = bookings.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.SlotsTable, cfg.AppointmentsTable, logger)
		if sqsPublisher != nil {
			b.Publisher = sqsPublisher
		}
	default:
		return nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	logger.Info("booking backend ready",
		"backend", b.Name,
		"events", sqsPublisher != nil,
		"archive", b.Archive.Enabled(),
	)
	return b, nil
}

// BuildArchive returns the S3 appointment archive. Without a bucket the
// archive is disabled and Put is a no-op.
func BuildArchive(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *bookings.Archive {
	if strings.TrimSpace(cfg.AppointmentsBucket) == "" {
		return bookings.NewArchive(nil, "", cfg.AppointmentsS3Prefix, logger)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path, not by virtual host.
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return bookings.NewArchive(client, cfg.AppointmentsBucket, cfg.AppointmentsS3Prefix, logger)
}
