package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/netmetering/internal/clock"
	"github.com/smallbiznis/netmetering/internal/config"
	devicedomain "github.com/smallbiznis/netmetering/internal/device/domain"
	"github.com/smallbiznis/netmetering/internal/device/registry"
	"github.com/smallbiznis/netmetering/internal/events"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	readingrepo "github.com/smallbiznis/netmetering/internal/reading/repository"
	readingservice "github.com/smallbiznis/netmetering/internal/reading/service"
	"github.com/smallbiznis/netmetering/internal/reading/validation"
	"github.com/smallbiznis/netmetering/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	meterToken  = "tok-meter-1"
	meterSecret = "s3cret-meter-1"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, payload any) error {
	args := m.Called(ctx, routingKey, payload)
	return args.Error(0)
}

type gatewayFixture struct {
	gateway *Gateway
	db      *gorm.DB
	clock   *clock.FakeClock
	pub     *publisherMock
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&readingdomain.MeterReading{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))

	reg, err := registry.NewStatic([]devicedomain.Registration{
		{DeviceToken: meterToken, DeviceID: "meter-001", ApplicationID: "app-solar", CustomerID: "cust-001", Secret: meterSecret},
		{DeviceToken: "tok-meter-2", DeviceID: "meter-002", CustomerID: "cust-002", Secret: "other-secret"},
	})
	require.NoError(t, err)

	readings := readingservice.NewService(readingservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  readingrepo.Provide(db),
	})

	pub := &publisherMock{}
	pub.On("Publish", mock.Anything, events.RoutingKeyReadingAccepted, mock.Anything).Return(nil)

	gateway := NewGateway(Params{
		Config:    config.Config{},
		Log:       zap.NewNop(),
		Registry:  reg,
		Limiter:   ratelimit.NewFixedWindow(clk, ratelimit.DefaultWindow, ratelimit.DefaultLimit),
		Decoder:   validation.NewDecoder(),
		Readings:  readings,
		Publisher: pub,
	})
	return &gatewayFixture{gateway: gateway, db: db, clock: clk, pub: pub}
}

func signed(body string) Request {
	return Request{
		DeviceToken: meterToken,
		Signature:   signature.Sign([]byte(meterSecret), []byte(body)),
		Body:        []byte(body),
	}
}

func (f *gatewayFixture) stored(t *testing.T) []readingdomain.MeterReading {
	t.Helper()
	var rows []readingdomain.MeterReading
	require.NoError(t, f.db.Order("id").Find(&rows).Error)
	return rows
}

const validBody = `{"kWh_generated":12.5,"kWh_exported":3,"kWh_imported":7.25,"voltage":230.1,"timestamp":"2024-03-15T09:45:00Z"}`

func TestIngestAcceptsSignedReading(t *testing.T) {
	f := setupGateway(t)

	res, err := f.gateway.Ingest(context.Background(), signed(validBody))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	require.NotNil(t, res.ApplicationID)
	assert.Equal(t, "app-solar", *res.ApplicationID)
	assert.True(t, res.ReceivedAt.Equal(f.clock.Now()))

	rows := f.stored(t)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, res.ReadingID, got.ID.String())
	assert.Equal(t, "cust-001", got.CustomerID)
	assert.Equal(t, "meter-001", got.DeviceID)
	assert.Equal(t, readingdomain.StatusPending, got.Status)
	assert.Equal(t, 12.5, got.KWhGenerated)
	assert.Equal(t, 3.0, got.KWhExported)
	assert.Equal(t, 7.25, got.KWhImported)
	require.NotNil(t, got.Voltage)
	assert.Equal(t, 230.1, *got.Voltage)
	assert.Nil(t, got.Current)
	assert.True(t, got.Timestamp.Equal(time.Date(2024, 3, 15, 9, 45, 0, 0, time.UTC)))

	f.pub.AssertCalled(t, "Publish", mock.Anything, events.RoutingKeyReadingAccepted, mock.Anything)
}

func TestIngestBodyOverridesApplicationAndDeviceButNeverCustomer(t *testing.T) {
	f := setupGateway(t)
	body := `{"applicationId":"app-override","deviceId":"meter-xyz","customerId":"cust-attacker","kWh_generated":1,"kWh_exported":0,"kWh_imported":1,"timestamp":"2024-03-15T09:45:00Z"}`

	res, err := f.gateway.Ingest(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, "app-override", *res.ApplicationID)

	rows := f.stored(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "cust-001", rows[0].CustomerID)
	assert.Equal(t, "meter-xyz", rows[0].DeviceID)
	assert.Equal(t, "app-override", *rows[0].ApplicationID)
}

func TestIngestWithoutRegistryApplication(t *testing.T) {
	f := setupGateway(t)
	body := `{"kWh_generated":1,"kWh_exported":0,"kWh_imported":1,"timestamp":"2024-03-15"}`

	res, err := f.gateway.Ingest(context.Background(), Request{
		DeviceToken: "tok-meter-2",
		Signature:   signature.Sign([]byte("other-secret"), []byte(body)),
		Body:        []byte(body),
	})
	require.NoError(t, err)
	assert.Nil(t, res.ApplicationID)
	assert.Equal(t, "cust-002", f.stored(t)[0].CustomerID)
}

func TestIngestAuthenticationFailures(t *testing.T) {
	f := setupGateway(t)
	good := signed(validBody)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{name: "missing_token", req: Request{Signature: good.Signature, Body: good.Body}, want: ErrMissingCredentials},
		{name: "missing_signature", req: Request{DeviceToken: meterToken, Body: good.Body}, want: ErrMissingCredentials},
		{name: "unknown_token", req: Request{DeviceToken: "nope", Signature: good.Signature, Body: good.Body}, want: ErrUnknownDevice},
		{name: "truncated_signature", req: Request{DeviceToken: meterToken, Signature: good.Signature[:10], Body: good.Body}, want: ErrInvalidSignature},
		{name: "wrong_secret", req: Request{DeviceToken: meterToken, Signature: signature.Sign([]byte("x"), good.Body), Body: good.Body}, want: ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gateway.Ingest(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.stored(t))
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestSingleByteChangeInvalidatesSignature(t *testing.T) {
	f := setupGateway(t)
	req := signed(validBody)

	for i := range req.Body {
		tampered := append([]byte(nil), req.Body...)
		tampered[i] ^= 0x01
		_, err := f.gateway.Ingest(context.Background(), Request{
			DeviceToken: req.DeviceToken,
			Signature:   req.Signature,
			Body:        tampered,
		})
		require.ErrorIs(t, err, ErrInvalidSignature, "byte %d", i)
		// Keep the limiter out of the way.
		f.clock.Advance(ratelimit.DefaultWindow)
	}
	assert.Empty(t, f.stored(t))
}

func TestIngestRateLimitPerDevice(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		_, err := f.gateway.Ingest(ctx, signed(validBody))
		require.NoError(t, err, "request %d", i)
	}

	_, err := f.gateway.Ingest(ctx, signed(validBody))
	require.ErrorIs(t, err, ErrRateLimited)
	var rejection *Rejection
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, 31, rejection.Decision.Count)
	assert.Len(t, f.stored(t), 30)

	// Another device has its own window.
	other := `{"kWh_generated":1,"kWh_exported":0,"kWh_imported":1,"timestamp":"2024-03-15"}`
	_, err = f.gateway.Ingest(ctx, Request{
		DeviceToken: "tok-meter-2",
		Signature:   signature.Sign([]byte("other-secret"), []byte(other)),
		Body:        []byte(other),
	})
	require.NoError(t, err)

	f.clock.Advance(ratelimit.DefaultWindow)
	_, err = f.gateway.Ingest(ctx, signed(validBody))
	require.NoError(t, err)
}

func TestIngestRateLimitRunsBeforeSignatureCheck(t *testing.T) {
	f := setupGateway(t)
	bad := Request{DeviceToken: meterToken, Signature: strings.Repeat("0", 64), Body: []byte(validBody)}

	for i := 0; i < 30; i++ {
		_, err := f.gateway.Ingest(context.Background(), bad)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
	_, err := f.gateway.Ingest(context.Background(), signed(validBody))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestIngestMalformedJSONAfterValidSignature(t *testing.T) {
	f := setupGateway(t)

	_, err := f.gateway.Ingest(context.Background(), signed(`{"kWh_generated":`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Empty(t, f.stored(t))
}

func TestIngestRejectsNegativeEnergy(t *testing.T) {
	for _, field := range []string{"kWh_generated", "kWh_exported", "kWh_imported"} {
		t.Run(field, func(t *testing.T) {
			f := setupGateway(t)
			body := strings.Replace(validBody, fmt.Sprintf(`"%s":`, field), fmt.Sprintf(`"%s":-1,"ignored_%s":`, field, field), 1)

			_, err := f.gateway.Ingest(context.Background(), signed(body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.FieldErrors, field)
			assert.Empty(t, f.stored(t))
		})
	}
}

func TestIngestRejectsUnparseableTimestamp(t *testing.T) {
	f := setupGateway(t)
	body := `{"kWh_generated":1,"kWh_exported":0,"kWh_imported":1,"timestamp":"not-a-date"}`

	_, err := f.gateway.Ingest(context.Background(), signed(body))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Invalid date"}, verr.FieldErrors["timestamp"])
	assert.Empty(t, f.stored(t))
}

func TestIngestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := setupGateway(t)
	f.pub.ExpectedCalls = nil
	f.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	res, err := f.gateway.Ingest(context.Background(), signed(validBody))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
}
