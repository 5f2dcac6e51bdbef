package pharmacy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
)

var (
	ErrMedicineNotFound = apperr.NotFound("Medicine not found")
	ErrDuplicateSKU     = apperr.Invalid("Medicine with this SKU already exists")
	ErrIncompleteForm   = apperr.Invalid("Name, SKU and category are required")
	ErrInvalidCategory  = apperr.Invalid("Invalid category")
	ErrInvalidUnit      = apperr.Invalid("Invalid unit")
	ErrInvalidStatus    = apperr.Invalid("Invalid status")
	ErrNegativePrice    = apperr.Invalid("Prices cannot be negative")
	ErrInvoiceNotFound  = apperr.Invalid("Invoice not found")
)

// DefaultExpiryWindowDays is how far ahead a batch counts as expiring soon.
const DefaultExpiryWindowDays = 30

type Service struct {
	medicines  MedicineRepository
	movements  MovementRepository
	sales      SaleRepository
	tx         db.Transactor
	events     events.Recorder
	windowDays int
	now        func() time.Time
}

func NewService(medicines MedicineRepository, movements MovementRepository, sales SaleRepository,
	tx db.Transactor, recorder events.Recorder, windowDays int) *Service {
	if windowDays <= 0 {
		windowDays = DefaultExpiryWindowDays
	}
	return &Service{
		medicines:  medicines,
		movements:  movements,
		sales:      sales,
		tx:         tx,
		events:     recorder,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// -- Catalogue --

func validatePrices(in *MedicineInput) error {
	if in.CostPrice != nil && in.CostPrice.IsNegative() {
		return ErrNegativePrice
	}
	if in.SellingPrice != nil && in.SellingPrice.IsNegative() {
		return ErrNegativePrice
	}
	if (in.MinimumStock != nil && *in.MinimumStock < 0) || (in.MaximumStock != nil && *in.MaximumStock < 0) {
		return ErrNegativeStock
	}
	return nil
}

// Create adds a medicine. An initial batch in the input is received
// through AddStock so it lands in the ledger.
func (s *Service) Create(ctx context.Context, in MedicineInput, by string) (*View, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = normalizeSKU(in.SKU)
	if in.Name == "" || in.SKU == "" || in.Category == "" {
		return nil, ErrIncompleteForm
	}
	if !validCategories[in.Category] {
		return nil, ErrInvalidCategory
	}
	if in.Unit == "" {
		in.Unit = DefaultUnit
	}
	if !validUnits[in.Unit] {
		return nil, ErrInvalidUnit
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if !validStatuses[in.Status] {
		return nil, ErrInvalidStatus
	}
	if err := validatePrices(&in); err != nil {
		return nil, err
	}

	m := &Medicine{
		ID:           uuid.New(),
		Name:         in.Name,
		GenericName:  strings.TrimSpace(in.GenericName),
		Brand:        strings.TrimSpace(in.Brand),
		Manufacturer: strings.TrimSpace(in.Manufacturer),
		SKU:          in.SKU,
		Category:     in.Category,
		DosageForm:   in.DosageForm,
		Description:  in.Description,
		MinimumStock: DefaultMinimumStock,
		MaximumStock: DefaultMaximumStock,
		Unit:         in.Unit,
		Status:       in.Status,
		Batches:      []Batch{},
		CreatedBy:    by,
	}
	if in.CostPrice != nil {
		m.CostPrice = *in.CostPrice
	}
	if in.SellingPrice != nil {
		m.SellingPrice = *in.SellingPrice
	}
	if in.MinimumStock != nil {
		m.MinimumStock = *in.MinimumStock
	}
	if in.MaximumStock != nil {
		m.MaximumStock = *in.MaximumStock
	}

	now := s.now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.medicines.Create(ctx, m); err != nil {
			return err
		}
		if in.BatchInfo == nil || in.BatchInfo.Quantity <= 0 {
			return nil
		}
		mv, err := m.AddStock(in.BatchInfo.Quantity, in.BatchInfo, now)
		if err != nil {
			return err
		}
		return s.commit(ctx, m, mv, by, 0)
	})
	if err != nil {
		return nil, err
	}
	return m.View(now, s.windowDays), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	m, err := s.medicines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.View(s.now(), s.windowDays), nil
}

// Update changes descriptive fields. Stock is only changed through the
// ledger operations.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in MedicineInput) (*View, error) {
	if err := validatePrices(&in); err != nil {
		return nil, err
	}
	if in.Category != "" && !validCategories[in.Category] {
		return nil, ErrInvalidCategory
	}
	if in.Unit != "" && !validUnits[in.Unit] {
		return nil, ErrInvalidUnit
	}
	if in.Status != "" && !validStatuses[in.Status] {
		return nil, ErrInvalidStatus
	}

	var m *Medicine
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.medicines.GetForUpdate(ctx, id); err != nil {
			return err
		}
		setString(&m.Name, strings.TrimSpace(in.Name))
		setString(&m.GenericName, strings.TrimSpace(in.GenericName))
		setString(&m.Brand, strings.TrimSpace(in.Brand))
		setString(&m.Manufacturer, strings.TrimSpace(in.Manufacturer))
		setString(&m.SKU, normalizeSKU(in.SKU))
		setString(&m.Category, in.Category)
		setString(&m.DosageForm, in.DosageForm)
		setString(&m.Description, in.Description)
		setString(&m.Unit, in.Unit)
		setString(&m.Status, in.Status)
		if in.CostPrice != nil {
			m.CostPrice = *in.CostPrice
		}
		if in.SellingPrice != nil {
			m.SellingPrice = *in.SellingPrice
		}
		if in.MinimumStock != nil {
			m.MinimumStock = *in.MinimumStock
		}
		if in.MaximumStock != nil {
			m.MaximumStock = *in.MaximumStock
		}
		return s.medicines.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m.View(s.now(), s.windowDays), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Discontinue is the delete operation. The row and its ledger are kept.
func (s *Service) Discontinue(ctx context.Context, id uuid.UUID) error {
	_, err := s.Update(ctx, id, MedicineInput{Status: StatusDiscontinued})
	return err
}

func (s *Service) List(ctx context.Context, f MedicineFilter, limit, offset int) ([]*View, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, ErrInvalidStatus
	}
	items, total, err := s.medicines.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.views(items), total, nil
}

func (s *Service) views(items []*Medicine) []*View {
	now := s.now()
	out := make([]*View, len(items))
	for i, m := range items {
		out[i] = m.View(now, s.windowDays)
	}
	return out
}

// -- Stock operations --

// applyMovement locks the medicine, runs op against it and persists the new
// state together with its movement.
func (s *Service) applyMovement(ctx context.Context, id uuid.UUID, by string,
	op func(m *Medicine, now time.Time) (*Movement, error)) (*View, *Movement, error) {
	var m *Medicine
	var mv *Movement
	now := s.now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.medicines.GetForUpdate(ctx, id); err != nil {
			return err
		}
		before := m.CurrentStock
		if mv, err = op(m, now); err != nil {
			return err
		}
		return s.commit(ctx, m, mv, by, before)
	})
	if err != nil {
		return nil, nil, err
	}
	return m.View(now, s.windowDays), mv, nil
}

// commit writes the medicine's stock, its movement and the matching events.
// before is the stock level prior to the movement.
func (s *Service) commit(ctx context.Context, m *Medicine, mv *Movement, by string, before int) error {
	mv.PerformedBy = by
	if err := s.medicines.SaveStock(ctx, m); err != nil {
		return err
	}
	if err := s.movements.Create(ctx, mv); err != nil {
		return err
	}
	evts := []events.Event{{
		AggregateType: "medicine",
		AggregateID:   m.ID.String(),
		Type:          events.StockMoved,
		Payload:       mv,
	}}
	if before > m.MinimumStock && m.CurrentStock <= m.MinimumStock {
		evts = append(evts, events.Event{
			AggregateType: "medicine",
			AggregateID:   m.ID.String(),
			Type:          events.MedicineLowStock,
			Payload: map[string]any{
				"medicineId":   m.ID,
				"sku":          m.SKU,
				"currentStock": m.CurrentStock,
				"minimumStock": m.MinimumStock,
			},
		})
	}
	return s.events.Record(ctx, evts...)
}

func (s *Service) AddStock(ctx context.Context, id uuid.UUID, qty int, batch *BatchInput, by string) (*View, *Movement, error) {
	return s.applyMovement(ctx, id, by, func(m *Medicine, now time.Time) (*Movement, error) {
		return m.AddStock(qty, batch, now)
	})
}

func (s *Service) ReduceStock(ctx context.Context, id uuid.UUID, qty int, reason, by string) (*View, *Movement, error) {
	return s.applyMovement(ctx, id, by, func(m *Medicine, now time.Time) (*Movement, error) {
		return m.ReduceStock(qty, reason, now)
	})
}

func (s *Service) AdjustStock(ctx context.Context, id uuid.UUID, newQuantity int, reason, by string) (*View, *Movement, error) {
	return s.applyMovement(ctx, id, by, func(m *Medicine, now time.Time) (*Movement, error) {
		return m.AdjustStock(newQuantity, reason, now)
	})
}

func (s *Service) RecordDamage(ctx context.Context, id uuid.UUID, qty int, reason, by string) (*View, *Movement, error) {
	return s.applyMovement(ctx, id, by, func(m *Medicine, now time.Time) (*Movement, error) {
		return m.RecordDamage(qty, reason, now)
	})
}

func (s *Service) ExpireBatch(ctx context.Context, id uuid.UUID, batchNo, by string) (*View, *Movement, error) {
	if strings.TrimSpace(batchNo) == "" {
		return nil, nil, apperr.Invalid("batchNo is required")
	}
	return s.applyMovement(ctx, id, by, func(m *Medicine, now time.Time) (*Movement, error) {
		return m.ExpireBatch(strings.TrimSpace(batchNo), now)
	})
}

// SellForInvoice draws the stock for an invoice. It must run inside the
// caller's transaction. Every line is checked before any stock changes,
// with quantities for the same medicine summed.
func (s *Service) SellForInvoice(ctx context.Context, invoiceID uuid.UUID, lines []SaleLine, by string) error {
	wanted := make(map[uuid.UUID]int)
	for _, l := range lines {
		if l.Quantity <= 0 {
			return ErrNonPositiveQuantity
		}
		wanted[l.MedicineID] += l.Quantity
	}
	ids := make([]uuid.UUID, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	// Fixed lock order keeps concurrent invoices from deadlocking.
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked := make(map[uuid.UUID]*Medicine, len(ids))
	for _, id := range ids {
		m, err := s.medicines.GetForUpdate(ctx, id)
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.Invalid(fmt.Sprintf("Medicine with ID %s not found", id))
		}
		if err != nil {
			return err
		}
		if m.CurrentStock < wanted[id] {
			return &apperr.Error{
				Kind:    apperr.KindConflict,
				Message: fmt.Sprintf("Insufficient stock for medicine %s. Available: %d, Requested: %d", m.Name, m.CurrentStock, wanted[id]),
				Err:     ErrInsufficientStock,
			}
		}
		locked[id] = m
	}

	now := s.now()
	reason := fmt.Sprintf("Sold via Invoice #%s", invoiceID)
	for _, l := range lines {
		m := locked[l.MedicineID]
		before := m.CurrentStock
		mv, err := m.ReduceStock(l.Quantity, reason, now)
		if err != nil {
			return err
		}
		inv := invoiceID
		mv.InvoiceID = &inv
		if err := s.commit(ctx, m, mv, by, before); err != nil {
			return err
		}
	}
	return nil
}

// -- Sales --

// RecordSale sells stock over the counter. The stock reduction, its
// movement and the sale record commit together.
func (s *Service) RecordSale(ctx context.Context, in SaleInput, by string) (*Sale, *View, error) {
	if in.MedicineID == uuid.Nil {
		return nil, nil, apperr.Invalid("medicineId is required")
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return nil, nil, ErrNegativePrice
	}
	soldTo := strings.TrimSpace(in.SoldTo)
	reason := "Direct sale"
	if soldTo != "" {
		reason = "Sold to " + soldTo
	}

	var m *Medicine
	var sale *Sale
	now := s.now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.medicines.GetForUpdate(ctx, in.MedicineID); err != nil {
			return err
		}
		before := m.CurrentStock
		mv, err := m.ReduceStock(in.QuantitySold, reason, now)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, m, mv, by, before); err != nil {
			return err
		}

		unit := m.SellingPrice
		if in.UnitPrice != nil {
			unit = in.UnitPrice.Round(2)
		}
		sale = &Sale{
			MedicineID:   m.ID,
			MedicineName: m.Name,
			SKU:          m.SKU,
			MovementID:   mv.ID,
			QuantitySold: in.QuantitySold,
			UnitPrice:    unit,
			TotalAmount:  unit.Mul(decimal.NewFromInt(int64(in.QuantitySold))).Round(2),
			SoldTo:       soldTo,
			SoldBy:       by,
			InvoiceID:    in.InvoiceID,
			SaleDate:     now,
		}
		if err := s.sales.Create(ctx, sale); err != nil {
			return err
		}
		return s.events.Record(ctx, events.Event{
			AggregateType: "medicine",
			AggregateID:   m.ID.String(),
			Type:          events.SaleRecorded,
			Payload:       sale,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return sale, m.View(now, s.windowDays), nil
}

// Sales returns the sales history, newest first.
func (s *Service) Sales(ctx context.Context, f SaleFilter, limit, offset int) ([]*Sale, int, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, 0, apperr.Invalid("endDate must not be before startDate")
	}
	return s.sales.List(ctx, f, limit, offset)
}

// -- Reports --

func (s *Service) Batches(ctx context.Context, id uuid.UUID) (*BatchReport, error) {
	m, err := s.medicines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r := &BatchReport{Active: []Batch{}, Expired: []Batch{}}
	for _, b := range m.Batches {
		if b.IsActive && b.ExpiryDate.After(now) {
			r.Active = append(r.Active, b)
		} else {
			r.Expired = append(r.Expired, b)
		}
	}
	r.TotalActive, r.TotalExpired = len(r.Active), len(r.Expired)
	return r, nil
}

// ExpiryAlerts lists active medicines with batches expiring within days.
func (s *Service) ExpiryAlerts(ctx context.Context, days int) ([]ExpiryAlert, error) {
	if days <= 0 {
		days = s.windowDays
	}
	now := s.now()
	items, err := s.medicines.ListExpiring(ctx, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	alerts := make([]ExpiryAlert, 0, len(items))
	for _, m := range items {
		a := ExpiryAlert{MedicineID: m.ID, Name: m.Name, Brand: m.Brand, SKU: m.SKU}
		for _, b := range m.ExpiringBatches(now, days) {
			a.ExpiringBatches = append(a.ExpiringBatches, ExpiringBatch{
				BatchNo:         b.BatchNo,
				Quantity:        b.Quantity,
				ExpiryDate:      b.ExpiryDate,
				DaysUntilExpiry: DaysUntil(now, b.ExpiryDate),
			})
		}
		if len(a.ExpiringBatches) > 0 {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (s *Service) LowStockAlerts(ctx context.Context) ([]*View, error) {
	items, err := s.medicines.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(items), nil
}

// Analytics summarises the active catalogue.
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	items, err := s.medicines.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	a := &Analytics{TotalMedicines: len(items), TotalStockValue: decimal.Zero}
	for _, v := range s.views(items) {
		if v.IsOutOfStock {
			a.OutOfStock++
		}
		if v.IsLowStock {
			a.LowStock++
		}
		if v.IsExpiringSoon {
			a.ExpiringSoon++
		}
		a.TotalStockValue = a.TotalStockValue.Add(v.StockValue)
	}
	return a, nil
}

func (s *Service) Movements(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error) {
	if f.MovementType != "" && !validMovementTypes[f.MovementType] {
		return nil, 0, apperr.Invalid("Invalid movement type")
	}
	return s.movements.List(ctx, f, limit, offset)
}

// -- Jobs --

// SweepExpiring logs and publishes every medicine with batches expiring
// within the configured window. It returns the number of medicines found.
func (s *Service) SweepExpiring(ctx context.Context) (int, error) {
	alerts, err := s.ExpiryAlerts(ctx, s.windowDays)
	if err != nil {
		return 0, err
	}
	if len(alerts) == 0 {
		return 0, nil
	}
	log := zerolog.Ctx(ctx)
	evts := make([]events.Event, 0, len(alerts))
	for _, a := range alerts {
		log.Warn().
			Str("medicine_id", a.MedicineID.String()).
			Str("sku", a.SKU).
			Int("batches", len(a.ExpiringBatches)).
			Msg("medicine batches expiring soon")
		evts = append(evts, events.Event{
			AggregateType: "medicine",
			AggregateID:   a.MedicineID.String(),
			Type:          events.MedicineExpiring,
			Payload:       a,
		})
	}
	if err := s.events.Record(ctx, evts...); err != nil {
		return 0, err
	}
	return len(alerts), nil
}
