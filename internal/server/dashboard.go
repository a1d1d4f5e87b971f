package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	"github.com/smallbiznis/netmetering/internal/dashboard"
)

func queryLimit(c *gin.Context) int {
	raw, present := c.GetQuery("limit")
	return dashboard.ClampLimit(raw, present)
}

// GetDashboard serves recent readings, bills and stats for an optional customerId.
func (s *Server) GetDashboard(c *gin.Context) {
	payload, err := s.dashboard.Build(c.Request.Context(), c.Query("customerId"), queryLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.billing.ListInvoices(c.Request.Context(), billingdomain.ListInvoicesRequest{
		CustomerID: c.Query("customerId"),
		Limit:      queryLimit(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}
