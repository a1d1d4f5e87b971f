package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	obscontext "github.com/smallbiznis/netmetering/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/netmetering/internal/observability/logger"
)

// RequestTimeout bounds the request context. Handlers map the deadline to 504.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// CORS allows browser dashboards to call the read endpoints. An empty origin list
// allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	handler := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", obsmiddleware.RequestIDHeader},
		ExposedHeaders: []string{obsmiddleware.RequestIDHeader},
		MaxAge:         600,
	})
	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		// Preflight responses are already written.
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Abort()
			return
		}
		c.Next()
	}
}

// OfficerAuthRequired checks the shared officer bearer token. Officer routes reject
// every request when no token is configured.
func (s *Server) OfficerAuthRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.OfficerAPIToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "officer", "api_token")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
