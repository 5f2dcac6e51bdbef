package pharmacy

import (
	"fmt"
	"time"

	"github.com/cliniq/hms/internal/platform/apperr"
)

var (
	ErrInsufficientStock   = apperr.Conflict("Insufficient stock")
	ErrNonPositiveQuantity = apperr.Invalid("Quantity must be positive")
	ErrNegativeStock       = apperr.Invalid("Stock cannot be negative")
	ErrBatchNotFound       = apperr.NotFound("Batch not found")
	ErrBatchExists         = apperr.Invalid("Batch number already exists for this medicine")
	ErrBatchExpired        = apperr.Invalid("Batch already expired")
)

// The ledger operations below mutate m and return the movement that
// records the change. On error m is left untouched.

func (m *Medicine) movement(kind string, previous int, reason string, now time.Time) *Movement {
	return &Movement{
		MedicineID:    m.ID,
		MovementType:  kind,
		Quantity:      m.CurrentStock - previous,
		PreviousStock: previous,
		NewStock:      m.CurrentStock,
		Reason:        reason,
		CreatedAt:     now,
	}
}

// AddStock receives qty units. When b names a batch it is appended with a
// one year shelf life unless an expiry date is given.
func (m *Medicine) AddStock(qty int, b *BatchInput, now time.Time) (*Movement, error) {
	if qty <= 0 {
		return nil, ErrNonPositiveQuantity
	}
	var batch *Batch
	if b != nil && b.BatchNo != "" {
		if m.batch(b.BatchNo) != nil {
			return nil, ErrBatchExists
		}
		batch = &Batch{
			BatchNo:      b.BatchNo,
			Quantity:     qty,
			ExpiryDate:   now.Add(DefaultShelfLife),
			PurchaseDate: now,
			Supplier:     b.Supplier,
			CostPrice:    m.CostPrice,
			IsActive:     true,
		}
		if b.ExpiryDate != nil {
			batch.ExpiryDate = *b.ExpiryDate
		}
		if b.PurchaseDate != nil {
			batch.PurchaseDate = *b.PurchaseDate
		}
		if b.CostPrice != nil {
			batch.CostPrice = *b.CostPrice
		}
	}

	previous := m.CurrentStock
	m.CurrentStock += qty
	m.TotalPurchased += qty
	m.LastRestocked = &now

	reason := "Stock added"
	if b != nil && b.Reason != "" {
		reason = b.Reason
	}
	mv := m.movement(MovementPurchase, previous, reason, now)
	if batch != nil {
		m.Batches = append(m.Batches, *batch)
		mv.BatchNo = batch.BatchNo
		expiry := batch.ExpiryDate
		mv.ExpiryDate = &expiry
	}
	return mv, nil
}

// ReduceStock removes sold units. It fails without change when fewer than
// qty units are on hand.
func (m *Medicine) ReduceStock(qty int, reason string, now time.Time) (*Movement, error) {
	if qty <= 0 {
		return nil, ErrNonPositiveQuantity
	}
	if m.CurrentStock < qty {
		return nil, ErrInsufficientStock
	}
	previous := m.CurrentStock
	m.CurrentStock -= qty
	m.TotalSold += qty
	m.LastSold = &now
	if reason == "" {
		reason = "Stock reduced"
	}
	return m.movement(MovementSale, previous, reason, now), nil
}

// AdjustStock sets the stock count after a physical count.
func (m *Medicine) AdjustStock(newQuantity int, reason string, now time.Time) (*Movement, error) {
	if newQuantity < 0 {
		return nil, ErrNegativeStock
	}
	previous := m.CurrentStock
	m.CurrentStock = newQuantity
	if reason == "" {
		reason = "Stock adjustment"
	}
	return m.movement(MovementAdjustment, previous, reason, now), nil
}

// RecordDamage writes off damaged units. Damaged units do not count as sold.
func (m *Medicine) RecordDamage(qty int, reason string, now time.Time) (*Movement, error) {
	if qty <= 0 {
		return nil, ErrNonPositiveQuantity
	}
	if m.CurrentStock < qty {
		return nil, ErrInsufficientStock
	}
	previous := m.CurrentStock
	m.CurrentStock -= qty
	if reason == "" {
		reason = "Damaged stock"
	}
	return m.movement(MovementDamaged, previous, reason, now), nil
}

// ExpireBatch deactivates a batch and writes its units off, never taking
// stock below zero. The movement quantity is the units actually removed.
func (m *Medicine) ExpireBatch(batchNo string, now time.Time) (*Movement, error) {
	b := m.batch(batchNo)
	if b == nil {
		return nil, ErrBatchNotFound
	}
	if !b.IsActive {
		return nil, ErrBatchExpired
	}
	b.IsActive = false

	previous := m.CurrentStock
	m.CurrentStock -= b.Quantity
	if m.CurrentStock < 0 {
		m.CurrentStock = 0
	}
	mv := m.movement(MovementExpired, previous, fmt.Sprintf("Batch %s expired", batchNo), now)
	mv.BatchNo = batchNo
	expiry := b.ExpiryDate
	mv.ExpiryDate = &expiry
	return mv, nil
}
