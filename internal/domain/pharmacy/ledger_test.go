package pharmacy

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ledgerNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newMedicine(stock int) *Medicine {
	return &Medicine{
		ID:           uuid.New(),
		Name:         "Paracetamol",
		SKU:          "PARA-500",
		Category:     "Tablet",
		CurrentStock: stock,
		MinimumStock: DefaultMinimumStock,
		MaximumStock: DefaultMaximumStock,
		Unit:         DefaultUnit,
		CostPrice:    decimal.RequireFromString("2.00"),
		SellingPrice: decimal.RequireFromString("2.50"),
		Status:       StatusActive,
	}
}

func checkMovement(t *testing.T, m *Medicine, mv *Movement) {
	t.Helper()
	if mv.NewStock-mv.PreviousStock != mv.Quantity {
		t.Errorf("movement quantity %d does not match %d -> %d", mv.Quantity, mv.PreviousStock, mv.NewStock)
	}
	if mv.NewStock != m.CurrentStock {
		t.Errorf("movement new stock %d, medicine has %d", mv.NewStock, m.CurrentStock)
	}
	if m.CurrentStock < 0 {
		t.Errorf("stock went negative: %d", m.CurrentStock)
	}
}

func TestAddStock_WithBatch(t *testing.T) {
	m := newMedicine(0)
	mv, err := m.AddStock(50, &BatchInput{BatchNo: "B1", Supplier: "Acme"}, ledgerNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkMovement(t, m, mv)
	if m.CurrentStock != 50 || m.TotalPurchased != 50 {
		t.Errorf("expected stock 50 purchased 50, got %d/%d", m.CurrentStock, m.TotalPurchased)
	}
	if mv.MovementType != MovementPurchase || mv.BatchNo != "B1" {
		t.Errorf("unexpected movement %+v", mv)
	}
	if len(m.Batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(m.Batches))
	}
	b := m.Batches[0]
	if !b.ExpiryDate.Equal(ledgerNow.Add(DefaultShelfLife)) {
		t.Errorf("expected default expiry one year out, got %s", b.ExpiryDate)
	}
	if !b.CostPrice.Equal(m.CostPrice) || !b.IsActive {
		t.Errorf("unexpected batch %+v", b)
	}
	if m.LastRestocked == nil || !m.LastRestocked.Equal(ledgerNow) {
		t.Errorf("expected lastRestocked to be set")
	}
}

func TestAddStock_Errors(t *testing.T) {
	m := newMedicine(5)
	if _, err := m.AddStock(0, nil, ledgerNow); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Errorf("expected ErrNonPositiveQuantity, got %v", err)
	}
	if _, err := m.AddStock(5, &BatchInput{BatchNo: "B1"}, ledgerNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.AddStock(5, &BatchInput{BatchNo: "B1"}, ledgerNow); !errors.Is(err, ErrBatchExists) {
		t.Errorf("expected ErrBatchExists, got %v", err)
	}
	if m.CurrentStock != 10 {
		t.Errorf("failed add changed stock to %d", m.CurrentStock)
	}
}

func TestReduceStock_Insufficient(t *testing.T) {
	m := newMedicine(10)
	_, err := m.ReduceStock(11, "", ledgerNow)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if m.CurrentStock != 10 || m.TotalSold != 0 || m.LastSold != nil {
		t.Errorf("failed reduce mutated medicine: %+v", m)
	}

	mv, err := m.ReduceStock(10, "counter sale", ledgerNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkMovement(t, m, mv)
	if mv.Quantity != -10 || mv.Reason != "counter sale" || m.TotalSold != 10 {
		t.Errorf("unexpected movement %+v", mv)
	}
}

func TestAdjustStock(t *testing.T) {
	m := newMedicine(40)
	mv, err := m.AdjustStock(25, "", ledgerNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkMovement(t, m, mv)
	if mv.Quantity != -15 || mv.MovementType != MovementAdjustment {
		t.Errorf("unexpected movement %+v", mv)
	}
	if _, err := m.AdjustStock(-1, "", ledgerNow); !errors.Is(err, ErrNegativeStock) {
		t.Errorf("expected ErrNegativeStock, got %v", err)
	}
}

func TestRecordDamage(t *testing.T) {
	m := newMedicine(8)
	mv, err := m.RecordDamage(3, "", ledgerNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkMovement(t, m, mv)
	if m.TotalSold != 0 {
		t.Errorf("damage must not count as sold")
	}
	if _, err := m.RecordDamage(6, "", ledgerNow); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestExpireBatch_FloorsAtZero(t *testing.T) {
	m := newMedicine(0)
	if _, err := m.AddStock(30, &BatchInput{BatchNo: "B1"}, ledgerNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ReduceStock(20, "", ledgerNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mv, err := m.ExpireBatch("B1", ledgerNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkMovement(t, m, mv)
	if m.CurrentStock != 0 || mv.Quantity != -10 {
		t.Errorf("expected stock 0 and quantity -10, got %d and %d", m.CurrentStock, mv.Quantity)
	}
	if m.Batches[0].IsActive {
		t.Error("expected batch to be inactive")
	}
	if _, err := m.ExpireBatch("B1", ledgerNow); !errors.Is(err, ErrBatchExpired) {
		t.Errorf("expected ErrBatchExpired, got %v", err)
	}
	if _, err := m.ExpireBatch("NOPE", ledgerNow); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestLedger_ReplayMatchesStock(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := newMedicine(0)
	var moves []*Movement
	batch := 0

	for i := 0; i < 500; i++ {
		var mv *Movement
		var err error
		switch rng.Intn(5) {
		case 0:
			batch++
			mv, err = m.AddStock(1+rng.Intn(40), &BatchInput{BatchNo: "B" + strconv.Itoa(batch)}, ledgerNow)
		case 1:
			mv, err = m.ReduceStock(1+rng.Intn(30), "", ledgerNow)
		case 2:
			mv, err = m.AdjustStock(rng.Intn(60), "", ledgerNow)
		case 3:
			mv, err = m.RecordDamage(1+rng.Intn(10), "", ledgerNow)
		case 4:
			if len(m.Batches) > 0 {
				mv, err = m.ExpireBatch(m.Batches[rng.Intn(len(m.Batches))].BatchNo, ledgerNow)
			}
		}
		if err != nil || mv == nil {
			continue
		}
		checkMovement(t, m, mv)
		moves = append(moves, mv)
	}

	stock := 0
	for _, mv := range moves {
		if mv.PreviousStock != stock {
			t.Fatalf("movement chain broken: expected previous %d, got %d", stock, mv.PreviousStock)
		}
		stock += mv.Quantity
	}
	if stock != m.CurrentStock {
		t.Errorf("replayed stock %d, medicine has %d", stock, m.CurrentStock)
	}
}

func TestView_DerivedValues(t *testing.T) {
	m := newMedicine(0)
	soon := ledgerNow.AddDate(0, 0, 10)
	if _, err := m.AddStock(8, &BatchInput{BatchNo: "B1", ExpiryDate: &soon}, ledgerNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := m.View(ledgerNow, 30)
	if v.IsOutOfStock || !v.IsLowStock || !v.IsExpiringSoon {
		t.Errorf("unexpected flags %+v", v)
	}
	if v.Margin == nil || !v.Margin.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected margin 25, got %v", v.Margin)
	}
	if !v.StockValue.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("expected stock value 20, got %s", v.StockValue)
	}
	if v.DaysUntilExpiry == nil || *v.DaysUntilExpiry != 10 {
		t.Errorf("expected 10 days until expiry, got %v", v.DaysUntilExpiry)
	}

	later := m.View(ledgerNow.AddDate(0, 0, -30), 30)
	if later.IsExpiringSoon {
		t.Error("batch 40 days out should not be expiring soon")
	}
}

func TestView_NoMarginWithoutCost(t *testing.T) {
	m := newMedicine(0)
	m.CostPrice = decimal.Zero
	v := m.View(ledgerNow, 30)
	if v.Margin != nil {
		t.Errorf("expected no margin, got %s", v.Margin)
	}
	if !v.IsOutOfStock {
		t.Error("expected out of stock")
	}
}
