package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medmitra-kiosk/internal/config"
	"github.com/wolfman30/medmitra-kiosk/internal/events"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true))
}

func TestBuildSlotGrid(t *testing.T) {
	grid, err := BuildSlotGrid(&appconfig.Config{SlotOpen: "09:00", SlotClose: "12:00", SlotStep: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 6, grid.Len())

	_, err = BuildSlotGrid(&appconfig.Config{SlotOpen: "12:00", SlotClose: "09:00", SlotStep: 15 * time.Minute})
	assert.Error(t, err)
}

func TestBuildCatalog(t *testing.T) {
	catalog, writer := BuildCatalog(slots.DefaultGrid(), nil)
	assert.Nil(t, writer)
	doc, err := catalog.Get(context.Background(), resource.Doctor("1"))
	require.NoError(t, err)
	assert.Equal(t, "Dr. Michael Chen", doc.Name)

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, false)
	defer client.Close()
	_, writer = BuildCatalog(slots.DefaultGrid(), client)
	assert.NotNil(t, writer)
}

func TestBuildSessionManager(t *testing.T) {
	_, err := BuildSessionManager(&appconfig.Config{Env: "production"}, logging.New("error"))
	assert.Error(t, err)

	m, err := BuildSessionManager(&appconfig.Config{Env: "development", KioskCookieName: "kiosk_session"}, logging.New("error"))
	require.NoError(t, err)
	assert.Equal(t, "kiosk_session", m.CookieName())

	token, _, err := m.Issue("pat-123456")
	require.NoError(t, err)
	pid, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "pat-123456", pid)
}

func testAWSConfig() aws.Config {
	return aws.Config{
		Region:      "ap-south-1",
		Credentials: aws.AnonymousCredentials{},
	}
}

func TestBuildBackendDynamo(t *testing.T) {
	cfg := &appconfig.Config{
		StoreBackend:       appconfig.StoreDynamo,
		SlotsTable:         "slots",
		AppointmentsTable:  "appointments",
		BookingEventsQueue: "http://localhost:4566/000000000000/booking-events",
		AppointmentsBucket: "medmitra-appointments",
	}
	b, err := BuildBackend(context.Background(), cfg, testAWSConfig(), logging.New("error"))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, appconfig.StoreDynamo, b.Name)
	assert.NotNil(t, b.Store)
	assert.IsType(t, &events.SQSPublisher{}, b.Publisher)
	assert.Nil(t, b.Deliverer)
	assert.True(t, b.Archive.Enabled())
}

func TestBuildBackendWithoutQueueUsesNopPublisher(t *testing.T) {
	cfg := &appconfig.Config{SlotsTable: "slots", AppointmentsTable: "appointments"}
	b, err := BuildBackend(context.Background(), cfg, testAWSConfig(), logging.New("error"))
	require.NoError(t, err)
	assert.Equal(t, appconfig.StoreDynamo, b.Name)
	assert.Equal(t, events.NopPublisher{}, b.Publisher)
	assert.False(t, b.Archive.Enabled())
}

func TestBuildBackendErrors(t *testing.T) {
	_, err := BuildBackend(context.Background(), nil, testAWSConfig(), nil)
	assert.Error(t, err)

	_, err = BuildBackend(context.Background(), &appconfig.Config{StoreBackend: appconfig.StorePostgres}, testAWSConfig(), nil)
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = BuildBackend(context.Background(), &appconfig.Config{StoreBackend: appconfig.StoreDynamo}, testAWSConfig(), nil)
	assert.ErrorContains(t, err, "DDB_TABLE_SLOTS")

	_, err = BuildBackend(context.Background(), &appconfig.Config{StoreBackend: "cassandra"}, testAWSConfig(), nil)
	assert.ErrorContains(t, err, "unknown STORE_BACKEND")
}
