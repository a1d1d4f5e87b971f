// Package ingestion authenticates, rate limits and validates device readings before
// handing them to the reading store.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/netmetering/internal/config"
	devicedomain "github.com/smallbiznis/netmetering/internal/device/domain"
	"github.com/smallbiznis/netmetering/internal/events"
	"github.com/smallbiznis/netmetering/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/netmetering/internal/observability/metrics"
	"github.com/smallbiznis/netmetering/internal/ratelimit"
	readingdomain "github.com/smallbiznis/netmetering/internal/reading/domain"
	"github.com/smallbiznis/netmetering/internal/reading/validation"
	"github.com/smallbiznis/netmetering/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const StatusAccepted = "accepted"

var (
	ErrMissingCredentials = errors.New("missing_device_credentials")
	ErrUnknownDevice      = errors.New("unknown_device_token")
	ErrRateLimited        = errors.New("rate_limit_exceeded")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrMalformedPayload   = errors.New("malformed_payload")
)

// ValidationError carries the per-field issues of a rejected payload.
type ValidationError = readingdomain.ValidationError

// Request is one device submission. Body is the raw, unparsed request body.
type Request struct {
	DeviceToken string
	Signature   string
	Body        []byte
}

type Result struct {
	Status        string    `json:"status"`
	ReadingID     string    `json:"readingId"`
	ReceivedAt    time.Time `json:"receivedAt"`
	ApplicationID *string   `json:"applicationId"`
	DeviceID      string    `json:"-"`
}

// Rejection carries the decision behind a rate limited request.
type Rejection struct {
	Decision ratelimit.Decision
}

func (r *Rejection) Error() string { return ErrRateLimited.Error() }

func (r *Rejection) Unwrap() error { return ErrRateLimited }

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Registry  devicedomain.Registry
	Limiter   ratelimit.Limiter
	Decoder   *validation.Decoder
	Readings  readingdomain.Service
	Publisher events.Publisher    `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Gateway struct {
	log       *zap.Logger
	registry  devicedomain.Registry
	limiter   ratelimit.Limiter
	backend   string
	decoder   *validation.Decoder
	readings  readingdomain.Service
	publisher events.Publisher
	metrics   *obsmetrics.Metrics
}

func NewGateway(p Params) *Gateway {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	decoder := p.Decoder
	if decoder == nil {
		decoder = validation.NewDecoder()
	}
	backend := p.Config.RateLimit.Backend
	if backend == "" {
		backend = config.RateLimitBackendMemory
	}
	return &Gateway{
		log:       p.Log.Named("ingestion.gateway"),
		registry:  p.Registry,
		limiter:   p.Limiter,
		backend:   backend,
		decoder:   decoder,
		readings:  p.Readings,
		publisher: publisher,
		metrics:   p.Metrics,
	}
}

// Ingest runs the write path in order: credentials, device lookup, rate limit,
// signature, JSON parsing, schema validation, persistence. Every failure is terminal
// and nothing is written before the last step.
func (g *Gateway) Ingest(ctx context.Context, req Request) (*Result, error) {
	log := logger.WithContext(ctx, g.log)

	token := strings.TrimSpace(req.DeviceToken)
	if token == "" || strings.TrimSpace(req.Signature) == "" {
		return nil, g.reject(ctx, log, ErrMissingCredentials, "missing_credentials")
	}

	registration, ok := g.registry.Resolve(token)
	if !ok {
		return nil, g.reject(ctx, log, ErrUnknownDevice, "unknown_device")
	}
	log = log.With(zap.String("device_id", registration.DeviceID), zap.String("customer_id", registration.CustomerID))

	decision, err := g.limiter.Check(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !decision.Allowed {
		g.metrics.RecordRateLimitDenied(ctx, g.backend)
		return nil, g.reject(ctx, log, &Rejection{Decision: decision}, "rate_limited",
			zap.Int("count", decision.Count),
			zap.Int("limit", decision.Limit),
		)
	}
	g.metrics.RecordRateLimitAllowed(ctx, g.backend)

	if !signature.Verify([]byte(registration.Secret), req.Body, req.Signature) {
		return nil, g.reject(ctx, log, ErrInvalidSignature, "invalid_signature")
	}

	payload, err := g.decoder.Decode(req.Body)
	if err != nil {
		if errors.Is(err, validation.ErrMalformedJSON) {
			return nil, g.reject(ctx, log, ErrMalformedPayload, "malformed_payload")
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, g.reject(ctx, log, verr, "validation_failed", zap.Any("issues", verr.FieldErrors))
		}
		return nil, err
	}

	reading, err := g.readings.Create(ctx, newReading(registration, payload))
	if err != nil {
		return nil, err
	}

	applicationID := ""
	if reading.ApplicationID != nil {
		applicationID = *reading.ApplicationID
	}
	g.metrics.RecordReadingAccepted(ctx, applicationID)
	log.Info("reading accepted", zap.String("reading_id", reading.ID.String()))
	g.publishAccepted(ctx, log, reading)

	return &Result{
		Status:        StatusAccepted,
		ReadingID:     reading.ID.String(),
		ReceivedAt:    reading.CreatedAt,
		ApplicationID: reading.ApplicationID,
		DeviceID:      reading.DeviceID,
	}, nil
}

func (g *Gateway) reject(ctx context.Context, log *zap.Logger, err error, reason string, fields ...zap.Field) error {
	g.metrics.RecordReadingRejected(ctx, reason)
	log.Warn("reading rejected", append(fields, zap.String("reason", reason))...)
	return err
}

// newReading takes the customer from the registration only. Body overrides apply to the
// application and device ids.
func newReading(reg devicedomain.Registration, payload *readingdomain.Payload) readingdomain.NewReading {
	deviceID := reg.DeviceID
	if payload.DeviceID != nil && strings.TrimSpace(*payload.DeviceID) != "" {
		deviceID = *payload.DeviceID
	}
	var applicationID *string
	if payload.ApplicationID != nil && strings.TrimSpace(*payload.ApplicationID) != "" {
		applicationID = payload.ApplicationID
	} else if reg.ApplicationID != "" {
		app := reg.ApplicationID
		applicationID = &app
	}

	ts, _ := readingdomain.ParseTimestamp(*payload.Timestamp)
	return readingdomain.NewReading{
		CustomerID:    reg.CustomerID,
		ApplicationID: applicationID,
		DeviceID:      deviceID,
		KWhGenerated:  *payload.KWhGenerated,
		KWhExported:   *payload.KWhExported,
		KWhImported:   *payload.KWhImported,
		Voltage:       payload.Voltage,
		Current:       payload.Current,
		Timestamp:     ts,
	}
}

type readingAcceptedEvent struct {
	ReadingID     string    `json:"readingId"`
	CustomerID    string    `json:"customerId"`
	ApplicationID *string   `json:"applicationId"`
	DeviceID      string    `json:"deviceId"`
	Timestamp     time.Time `json:"timestamp"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

func (g *Gateway) publishAccepted(ctx context.Context, log *zap.Logger, reading *readingdomain.MeterReading) {
	err := g.publisher.Publish(ctx, events.RoutingKeyReadingAccepted, readingAcceptedEvent{
		ReadingID:     reading.ID.String(),
		CustomerID:    reading.CustomerID,
		ApplicationID: reading.ApplicationID,
		DeviceID:      reading.DeviceID,
		Timestamp:     reading.Timestamp,
		ReceivedAt:    reading.CreatedAt,
	})
	if err != nil {
		log.Warn("failed to publish reading event", zap.String("reading_id", reading.ID.String()), zap.Error(err))
	}
}
