package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	DirectionImport = "import"
	DirectionExport = "export"
)

// Direction is import for a net consumer (netUnits >= 0) and export otherwise.
func Direction(netUnits float64) string {
	if netUnits >= 0 {
		return DirectionImport
	}
	return DirectionExport
}

// ComputeAmount charges net import at rate and credits net export at creditRate.
// The credit rate applies to the signed value, so exports yield a negative amount.
func ComputeAmount(netUnits, rate, creditRate float64) float64 {
	if netUnits >= 0 {
		return netUnits * rate
	}
	return netUnits * creditRate
}

// ImportedExported splits signed net units into the non-negative bill columns.
func ImportedExported(netUnits float64) (imported, exported float64) {
	return math.Max(0, netUnits), math.Max(0, -netUnits)
}

func LineItemDescription(netUnits float64) string {
	return fmt.Sprintf("Net energy %s (%s kWh)", Direction(netUnits), strconv.FormatFloat(math.Abs(netUnits), 'f', -1, 64))
}

// InvoiceDescription names the bill after the month of the reading itself.
func InvoiceDescription(readingTime time.Time) string {
	return readingTime.UTC().Month().String() + " Net Metering Bill"
}

// DueDate is dueDays calendar days after the reading.
func DueDate(readingTime time.Time, dueDays int) time.Time {
	return readingTime.UTC().AddDate(0, 0, dueDays)
}
