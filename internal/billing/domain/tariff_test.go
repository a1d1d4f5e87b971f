package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeAmountSigns(t *testing.T) {
	cases := []struct {
		name     string
		netUnits float64
		want     float64
		imported float64
		exported float64
	}{
		{name: "net_import", netUnits: 100, want: 3000, imported: 100, exported: 0},
		{name: "net_export", netUnits: -50, want: -1250, imported: 0, exported: 50},
		{name: "balanced", netUnits: 0, want: 0, imported: 0, exported: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeAmount(tc.netUnits, 30, 25))
			imported, exported := ImportedExported(tc.netUnits)
			assert.Equal(t, tc.imported, imported)
			assert.Equal(t, tc.exported, exported)
			assert.False(t, imported > 0 && exported > 0)
		})
	}
}

func TestLineItemDescription(t *testing.T) {
	assert.Equal(t, "Net energy import (100 kWh)", LineItemDescription(100))
	assert.Equal(t, "Net energy export (12.5 kWh)", LineItemDescription(-12.5))
	assert.Equal(t, "Net energy import (0 kWh)", LineItemDescription(0))
}

func TestInvoiceDescriptionUsesReadingMonth(t *testing.T) {
	assert.Equal(t, "February Net Metering Bill", InvoiceDescription(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)))
	// 2024-03-01T01:00+07:00 is still February in UTC.
	assert.Equal(t, "February Net Metering Bill", InvoiceDescription(time.Date(2024, 3, 1, 1, 0, 0, 0, time.FixedZone("WIB", 7*3600))))
}

func TestDueDateIsFourteenDaysAfterReading(t *testing.T) {
	reading := time.Date(2024, 2, 20, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC), DueDate(reading, 14))

	yearEnd := time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), DueDate(yearEnd, 14))
}

func TestInvoiceLineItemsTotal(t *testing.T) {
	inv := Invoice{LineItems: []LineItem{{Total: -1250}}}
	assert.Equal(t, -1250.0, inv.LineItemsTotal())
}
