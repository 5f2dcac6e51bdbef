package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is one invoice line. Total is always Quantity * UnitPrice.
type Item struct {
	Description string          `json:"description"`
	Quantity    int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
	MedicineID  *uuid.UUID      `json:"medicineId,omitempty"`
}

// PatientSummary is the billed patient as shown on an invoice.
type PatientSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
}

type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"patientId"`
	AppointmentID *uuid.UUID      `json:"appointmentId,omitempty"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Paid          bool            `json:"paid"`
	Patient       *PatientSummary `json:"patient,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// computeTotals fills item totals, the subtotal and the grand total.
// Money is kept to cents.
func (inv *Invoice) computeTotals() {
	inv.Subtotal = decimal.Zero
	for i := range inv.Items {
		it := &inv.Items[i]
		it.UnitPrice = it.UnitPrice.Round(2)
		it.Total = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		inv.Subtotal = inv.Subtotal.Add(it.Total)
	}
	inv.Tax = inv.Tax.Round(2)
	inv.Total = inv.Subtotal.Add(inv.Tax)
}

// ItemInput is an item as submitted. Pointers distinguish a missing
// quantity or price from zero.
type ItemInput struct {
	Description string           `json:"description"`
	Qty         *int             `json:"qty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice"`
	MedicineID  string           `json:"medicineId"`
}

type CreateInput struct {
	PatientID     string           `json:"patientId"`
	AppointmentID string           `json:"appointmentId"`
	Items         []ItemInput      `json:"items"`
	Tax           *decimal.Decimal `json:"tax"`
}

func (in ItemInput) complete() bool {
	return strings.TrimSpace(in.Description) != "" && in.Qty != nil && in.UnitPrice != nil
}

type InvoiceFilter struct {
	PatientID uuid.UUID
	Paid      *bool
}
