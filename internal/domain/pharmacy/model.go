package pharmacy

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusActive       = "active"
	StatusInactive     = "inactive"
	StatusDiscontinued = "discontinued"
)

var validStatuses = map[string]bool{
	StatusActive:       true,
	StatusInactive:     true,
	StatusDiscontinued: true,
}

var validCategories = map[string]bool{
	"Tablet": true, "Capsule": true, "Syrup": true, "Injection": true,
	"Cream": true, "Ointment": true, "Drops": true, "Other": true,
}

var validUnits = map[string]bool{
	"pieces": true, "strips": true, "bottles": true, "boxes": true, "vials": true, "tubes": true,
}

const (
	MovementPurchase   = "purchase"
	MovementSale       = "sale"
	MovementAdjustment = "adjustment"
	MovementExpired    = "expired"
	MovementDamaged    = "damaged"
)

var validMovementTypes = map[string]bool{
	MovementPurchase:   true,
	MovementSale:       true,
	MovementAdjustment: true,
	MovementExpired:    true,
	MovementDamaged:    true,
}

const (
	DefaultMinimumStock = 10
	DefaultMaximumStock = 1000
	DefaultUnit         = "pieces"
	// DefaultShelfLife applies to batches received without an expiry date.
	DefaultShelfLife = 365 * 24 * time.Hour
)

type Batch struct {
	BatchNo      string          `json:"batchNo"`
	Quantity     int             `json:"quantity"`
	ExpiryDate   time.Time       `json:"expiryDate"`
	PurchaseDate time.Time       `json:"purchaseDate"`
	Supplier     string          `json:"supplier,omitempty"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	IsActive     bool            `json:"isActive"`
}

type Medicine struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	GenericName    string          `json:"genericName,omitempty"`
	Brand          string          `json:"brand,omitempty"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	SKU            string          `json:"sku"`
	Category       string          `json:"category"`
	DosageForm     string          `json:"dosageForm,omitempty"`
	Description    string          `json:"description,omitempty"`
	CurrentStock   int             `json:"currentStock"`
	MinimumStock   int             `json:"minimumStock"`
	MaximumStock   int             `json:"maximumStock"`
	Unit           string          `json:"unit"`
	CostPrice      decimal.Decimal `json:"costPrice"`
	SellingPrice   decimal.Decimal `json:"sellingPrice"`
	Status         string          `json:"status"`
	Batches        []Batch         `json:"batches"`
	TotalSold      int             `json:"totalSold"`
	TotalPurchased int             `json:"totalPurchased"`
	LastRestocked  *time.Time      `json:"lastRestocked,omitempty"`
	LastSold       *time.Time      `json:"lastSold,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Movement is one immutable stock ledger entry. Quantity is signed and
// always equals NewStock - PreviousStock.
type Movement struct {
	ID            uuid.UUID  `json:"id"`
	MedicineID    uuid.UUID  `json:"medicineId"`
	MovementType  string     `json:"movementType"`
	Quantity      int        `json:"quantity"`
	PreviousStock int        `json:"previousStock"`
	NewStock      int        `json:"newStock"`
	Reason        string     `json:"reason"`
	PerformedBy   string     `json:"performedBy"`
	BatchNo       string     `json:"batchNo,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	InvoiceID     *uuid.UUID `json:"invoiceId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// View is a medicine with values derived from its current state.
type View struct {
	*Medicine
	IsOutOfStock    bool             `json:"isOutOfStock"`
	IsLowStock      bool             `json:"isLowStock"`
	IsExpiringSoon  bool             `json:"isExpiringSoon"`
	Margin          *decimal.Decimal `json:"margin,omitempty"`
	StockValue      decimal.Decimal  `json:"stockValue"`
	DaysUntilExpiry *int             `json:"daysUntilExpiry,omitempty"`
}

// View derives stock flags at now. A batch is expiring soon when it is
// active and expires within windowDays.
func (m *Medicine) View(now time.Time, windowDays int) *View {
	v := &View{
		Medicine:     m,
		IsOutOfStock: m.CurrentStock == 0,
		IsLowStock:   m.CurrentStock <= m.MinimumStock,
		StockValue:   m.SellingPrice.Mul(decimal.NewFromInt(int64(m.CurrentStock))),
	}
	v.IsExpiringSoon = len(m.ExpiringBatches(now, windowDays)) > 0

	if m.CostPrice.IsPositive() && m.SellingPrice.IsPositive() {
		margin := m.SellingPrice.Sub(m.CostPrice).Div(m.CostPrice).Mul(decimal.NewFromInt(100)).Round(2)
		v.Margin = &margin
	}

	var earliest *Batch
	for i := range m.Batches {
		b := &m.Batches[i]
		if b.IsActive && (earliest == nil || b.ExpiryDate.Before(earliest.ExpiryDate)) {
			earliest = b
		}
	}
	if earliest != nil {
		days := DaysUntil(now, earliest.ExpiryDate)
		v.DaysUntilExpiry = &days
	}
	return v
}

// ExpiringBatches returns active batches expiring on or before now+days.
func (m *Medicine) ExpiringBatches(now time.Time, days int) []Batch {
	cutoff := now.AddDate(0, 0, days)
	var out []Batch
	for _, b := range m.Batches {
		if b.IsActive && !b.ExpiryDate.After(cutoff) {
			out = append(out, b)
		}
	}
	return out
}

func (m *Medicine) batch(batchNo string) *Batch {
	for i := range m.Batches {
		if m.Batches[i].BatchNo == batchNo {
			return &m.Batches[i]
		}
	}
	return nil
}

// DaysUntil rounds the time left up to whole days. Past dates give
// zero or negative values.
func DaysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// MedicineInput is the create and update form. Nil and empty fields are
// left unchanged on update.
type MedicineInput struct {
	Name         string           `json:"name"`
	GenericName  string           `json:"genericName"`
	Brand        string           `json:"brand"`
	Manufacturer string           `json:"manufacturer"`
	SKU          string           `json:"sku"`
	Category     string           `json:"category"`
	DosageForm   string           `json:"dosageForm"`
	Description  string           `json:"description"`
	CostPrice    *decimal.Decimal `json:"costPrice"`
	SellingPrice *decimal.Decimal `json:"sellingPrice"`
	MinimumStock *int             `json:"minimumStock"`
	MaximumStock *int             `json:"maximumStock"`
	Unit         string           `json:"unit"`
	Status       string           `json:"status"`
	BatchInfo    *BatchInput      `json:"batchInfo"`
}

// BatchInput describes received stock. Without BatchNo no batch is
// recorded.
type BatchInput struct {
	BatchNo      string           `json:"batchNo"`
	Quantity     int              `json:"quantity"`
	ExpiryDate   *time.Time       `json:"expiryDate"`
	PurchaseDate *time.Time       `json:"purchaseDate"`
	Supplier     string           `json:"supplier"`
	CostPrice    *decimal.Decimal `json:"costPrice"`
	Reason       string           `json:"reason"`
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// MedicineFilter narrows List. SortBy is one of the sortColumns keys.
type MedicineFilter struct {
	Search    string
	Category  string
	Status    string
	SortBy    string
	SortOrder string
}

type MovementFilter struct {
	MedicineID   uuid.UUID
	MovementType string
	From         time.Time
	To           time.Time
}

// BatchReport splits a medicine's batches. A batch that is inactive or
// already past its expiry date counts as expired.
type BatchReport struct {
	Active       []Batch `json:"active"`
	Expired      []Batch `json:"expired"`
	TotalActive  int     `json:"totalActive"`
	TotalExpired int     `json:"totalExpired"`
}

type ExpiringBatch struct {
	BatchNo         string    `json:"batchNo"`
	Quantity        int       `json:"quantity"`
	ExpiryDate      time.Time `json:"expiryDate"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
}

type ExpiryAlert struct {
	MedicineID      uuid.UUID       `json:"medicineId"`
	Name            string          `json:"name"`
	Brand           string          `json:"brand,omitempty"`
	SKU             string          `json:"sku"`
	ExpiringBatches []ExpiringBatch `json:"expiringBatches"`
}

type Analytics struct {
	TotalMedicines  int             `json:"totalMedicines"`
	OutOfStock      int             `json:"outOfStock"`
	LowStock        int             `json:"lowStock"`
	ExpiringSoon    int             `json:"expiringSoon"`
	TotalStockValue decimal.Decimal `json:"totalStockValue"`
}

// SaleLine is one invoice line drawing on stock.
type SaleLine struct {
	MedicineID uuid.UUID
	Quantity   int
}

// Sale is an over-the-counter sale. It is written in the same transaction
// as the stock movement it references.
type Sale struct {
	ID           uuid.UUID       `json:"id"`
	MedicineID   uuid.UUID       `json:"medicineId"`
	MedicineName string          `json:"medicineName"`
	SKU          string          `json:"sku"`
	MovementID   uuid.UUID       `json:"movementId"`
	QuantitySold int             `json:"quantitySold"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	SoldTo       string          `json:"soldTo,omitempty"`
	SoldBy       string          `json:"soldBy"`
	InvoiceID    *uuid.UUID      `json:"invoiceId,omitempty"`
	SaleDate     time.Time       `json:"saleDate"`
}

// SaleInput records a sale. UnitPrice defaults to the selling price.
type SaleInput struct {
	MedicineID   uuid.UUID        `json:"medicineId"`
	QuantitySold int              `json:"quantitySold"`
	UnitPrice    *decimal.Decimal `json:"unitPrice"`
	SoldTo       string           `json:"soldTo"`
	InvoiceID    *uuid.UUID       `json:"invoiceId"`
}

type SaleFilter struct {
	MedicineID uuid.UUID
	From       time.Time
	To         time.Time
}
