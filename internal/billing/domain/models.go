// Package domain contains invoices, monthly bills and the net metering tariff arithmetic.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceType string

const InvoiceTypeMonthlyBill InvoiceType = "monthly_bill"

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// LineItem is one priced row on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Total       float64 `json:"total"`
}

// Invoice amount is signed: positive means the customer owes, negative is a credit.
type Invoice struct {
	ID            snowflake.ID                  `gorm:"primaryKey" json:"id"`
	ApplicationID *string                       `gorm:"type:text" json:"applicationId"`
	CustomerID    string                        `gorm:"type:text;not null;index" json:"customerId"`
	Type          InvoiceType                   `gorm:"type:text;not null" json:"type"`
	Description   string                        `gorm:"type:text;not null" json:"description"`
	Amount        float64                       `gorm:"not null" json:"amount"`
	Status        InvoiceStatus                 `gorm:"type:text;not null;index" json:"status"`
	DueDate       time.Time                     `gorm:"not null" json:"dueDate"`
	PaidAt        *time.Time                    `json:"paidAt"`
	LineItems     datatypes.JSONSlice[LineItem] `gorm:"not null" json:"lineItems"`
	CreatedAt     time.Time                     `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time                     `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// LineItemsTotal sums the line item totals.
func (i Invoice) LineItemsTotal() float64 {
	var total float64
	for _, item := range i.LineItems {
		total += item.Total
	}
	return total
}

// MonthlyBill summarizes one billed reading and references the invoice it was issued with.
// At most one of KWhExported and KWhImported is positive.
type MonthlyBill struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID     snowflake.ID `gorm:"not null;index" json:"invoiceId"`
	CustomerID    string       `gorm:"type:text;not null;index" json:"customerId"`
	ApplicationID *string      `gorm:"type:text" json:"applicationId"`
	Month         int          `gorm:"not null;index:idx_monthly_bills_period" json:"month"`
	Year          int          `gorm:"not null;index:idx_monthly_bills_period" json:"year"`
	KWhGenerated  float64      `gorm:"column:kwh_generated;not null" json:"kWhGenerated"`
	KWhExported   float64      `gorm:"column:kwh_exported;not null" json:"kWhExported"`
	KWhImported   float64      `gorm:"column:kwh_imported;not null" json:"kWhImported"`
	NetAmount     float64      `gorm:"not null" json:"netAmount"`
	CreatedAt     time.Time    `gorm:"not null" json:"createdAt"`
}

// TableName sets the database table name.
func (MonthlyBill) TableName() string { return "monthly_bills" }

// BillPair is one reading's output from a billing run.
type BillPair struct {
	Bill    *MonthlyBill `json:"bill"`
	Invoice *Invoice     `json:"invoice"`
}
