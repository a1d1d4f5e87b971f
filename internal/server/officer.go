package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/netmetering/internal/billing/domain"
	"go.uber.org/zap"
)

func (s *Server) GetMeterReading(c *gin.Context) {
	reading, err := s.readings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reading})
}

// VerifyMeterReading moves a pending reading to verified so billing can pick it up.
func (s *Server) VerifyMeterReading(c *gin.Context) {
	reading, err := s.readings.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reading})
}

type billingRunResponse struct {
	Month int                      `json:"month"`
	Year  int                      `json:"year"`
	Count int                      `json:"count"`
	Data  []billingdomain.BillPair `json:"data"`
}

// CreateBillingRun bills every verified reading of the requested period. Running the
// same period twice bills it twice.
func (s *Server) CreateBillingRun(c *gin.Context) {
	var req billingdomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Trigger = billingdomain.TriggerManual

	pairs, err := s.billing.GenerateMonthlyBills(c.Request.Context(), req)
	if err != nil {
		if len(pairs) > 0 {
			s.log.Error("billing run stopped after partial progress",
				zap.Int("month", req.Month),
				zap.Int("year", req.Year),
				zap.Int("created", len(pairs)),
				zap.Error(err),
			)
		}
		AbortWithError(c, err)
		return
	}

	if pairs == nil {
		pairs = []billingdomain.BillPair{}
	}
	c.JSON(http.StatusCreated, billingRunResponse{
		Month: req.Month,
		Year:  req.Year,
		Count: len(pairs),
		Data:  pairs,
	})
}

func (s *Server) ListMonthlyBills(c *gin.Context) {
	bills, err := s.billing.ListMonthlyBills(c.Request.Context(), billingdomain.ListBillsRequest{
		CustomerID: c.Query("customerId"),
		Limit:      queryLimit(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bills})
}
