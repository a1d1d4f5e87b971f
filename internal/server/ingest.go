package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/netmetering/internal/ingestion"
	obsmiddleware "github.com/smallbiznis/netmetering/internal/observability/logger"
)

const (
	HeaderDeviceToken     = "X-Device-Token"
	HeaderDeviceSignature = "X-Device-Signature"
)

// Device-facing messages. Hardware integrations match on these strings.
const (
	msgMissingCredentials = "Missing device authentication headers"
	msgUnknownDevice      = "Unknown device token"
	msgRateLimited        = "Rate limit exceeded"
	msgInvalidSignature   = "Invalid signature"
	msgMalformedPayload   = "Invalid JSON body"
	msgValidationFailed   = "Payload validation failed"
	msgPayloadTooLarge    = "Payload too large"
	msgTimeout            = "Request timed out"
	msgInternal           = "Internal server error"
)

type ingestErrorResponse struct {
	Error  string                     `json:"error"`
	Issues *ingestion.ValidationError `json:"issues,omitempty"`
}

// IngestMeterReading accepts one signed reading from a device. Errors use the flat
// {"error": "..."} body that deployed meters already parse.
func (s *Server) IngestMeterReading(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeIngestError(c, http.StatusRequestEntityTooLarge, "payload_too_large", err, ingestErrorResponse{Error: msgPayloadTooLarge})
			return
		}
		s.writeIngestError(c, http.StatusBadRequest, "malformed_payload", err, ingestErrorResponse{Error: msgMalformedPayload})
		return
	}

	res, err := s.gateway.Ingest(c.Request.Context(), ingestion.Request{
		DeviceToken: c.GetHeader(HeaderDeviceToken),
		Signature:   c.GetHeader(HeaderDeviceSignature),
		Body:        body,
	})
	if err != nil {
		s.handleIngestError(c, err)
		return
	}

	c.Set(obsmiddleware.ContextKeyDeviceID, res.DeviceID)
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleIngestError(c *gin.Context, err error) {
	var verr *ingestion.ValidationError
	if errors.As(err, &verr) {
		s.writeIngestError(c, http.StatusBadRequest, "validation_failed", err, ingestErrorResponse{Error: msgValidationFailed, Issues: verr})
		return
	}

	var rejection *ingestion.Rejection
	if errors.As(err, &rejection) {
		d := rejection.Decision
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		if retry := d.RetryAfter(s.clock.Now()); retry > 0 {
			c.Header("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
		}
	}

	status, ok := ingestStatus(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	s.writeIngestError(c, status, ingestReason(err), err, ingestErrorResponse{Error: ingestMessage(err)})
}

func (s *Server) writeIngestError(c *gin.Context, status int, reason string, err error, body ingestErrorResponse) {
	c.Set(obsmiddleware.ContextKeyRejectReason, reason)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func ingestStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, ingestion.ErrMissingCredentials),
		errors.Is(err, ingestion.ErrUnknownDevice),
		errors.Is(err, ingestion.ErrInvalidSignature):
		return http.StatusUnauthorized, true
	case errors.Is(err, ingestion.ErrRateLimited):
		return http.StatusTooManyRequests, true
	case errors.Is(err, ingestion.ErrMalformedPayload):
		return http.StatusBadRequest, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	}
	var verr *ingestion.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, true
	}
	return 0, false
}

func ingestMessage(err error) string {
	switch {
	case errors.Is(err, ingestion.ErrMissingCredentials):
		return msgMissingCredentials
	case errors.Is(err, ingestion.ErrUnknownDevice):
		return msgUnknownDevice
	case errors.Is(err, ingestion.ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, ingestion.ErrInvalidSignature):
		return msgInvalidSignature
	case errors.Is(err, ingestion.ErrMalformedPayload):
		return msgMalformedPayload
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	default:
		return msgInternal
	}
}

func ingestReason(err error) string {
	switch {
	case errors.Is(err, ingestion.ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ingestion.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ingestion.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ingestion.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ingestion.ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}

func ingestErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "validation_error"
	}
}
