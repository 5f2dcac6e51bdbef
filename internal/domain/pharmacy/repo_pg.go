package pharmacy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniq/hms/internal/platform/db"
)

// -- Medicine --

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository { return &medicineRepoPG{pool: pool} }

func (r *medicineRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const medCols = `id, name, generic_name, brand, manufacturer, sku, category, dosage_form, description,
	current_stock, minimum_stock, maximum_stock, unit, cost_price, selling_price, status, batches,
	total_sold, total_purchased, last_restocked, last_sold, created_by, created_at, updated_at`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	var batches []byte
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Brand, &m.Manufacturer, &m.SKU, &m.Category,
		&m.DosageForm, &m.Description, &m.CurrentStock, &m.MinimumStock, &m.MaximumStock, &m.Unit,
		&m.CostPrice, &m.SellingPrice, &m.Status, &batches, &m.TotalSold, &m.TotalPurchased,
		&m.LastRestocked, &m.LastSold, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrMedicineNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(batches, &m.Batches); err != nil {
		return nil, fmt.Errorf("decode batches for %s: %w", m.ID, err)
	}
	return &m, nil
}

func encodeBatches(b []Batch) ([]byte, error) {
	if b == nil {
		b = []Batch{}
	}
	return json.Marshal(b)
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	batches, err := encodeBatches(m.Batches)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicines (id, name, generic_name, brand, manufacturer, sku, category, dosage_form,
			description, current_stock, minimum_stock, maximum_stock, unit, cost_price, selling_price,
			status, batches, total_sold, total_purchased, last_restocked, last_sold, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.GenericName, m.Brand, m.Manufacturer, m.SKU, m.Category, m.DosageForm,
		m.Description, m.CurrentStock, m.MinimumStock, m.MaximumStock, m.Unit, m.CostPrice, m.SellingPrice,
		m.Status, batches, m.TotalSold, m.TotalPurchased, m.LastRestocked, m.LastSold, m.CreatedBy,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if db.IsUniqueViolation(err, "medicines_sku_key") {
		return ErrDuplicateSKU
	}
	return err
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return scanMedicine(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medicines WHERE id = $1`, id))
}

func (r *medicineRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return scanMedicine(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medicines WHERE id = $1 FOR UPDATE`, id))
}

func (r *medicineRepoPG) Update(ctx context.Context, m *Medicine) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medicines SET name = $2, generic_name = $3, brand = $4, manufacturer = $5, sku = $6,
			category = $7, dosage_form = $8, description = $9, minimum_stock = $10, maximum_stock = $11,
			unit = $12, cost_price = $13, selling_price = $14, status = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Name, m.GenericName, m.Brand, m.Manufacturer, m.SKU, m.Category, m.DosageForm,
		m.Description, m.MinimumStock, m.MaximumStock, m.Unit, m.CostPrice, m.SellingPrice, m.Status,
	).Scan(&m.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrMedicineNotFound
	}
	if db.IsUniqueViolation(err, "medicines_sku_key") {
		return ErrDuplicateSKU
	}
	return err
}

func (r *medicineRepoPG) SaveStock(ctx context.Context, m *Medicine) error {
	batches, err := encodeBatches(m.Batches)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE medicines SET current_stock = $2, batches = $3, total_sold = $4, total_purchased = $5,
			last_restocked = $6, last_sold = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.CurrentStock, batches, m.TotalSold, m.TotalPurchased, m.LastRestocked, m.LastSold,
	).Scan(&m.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrMedicineNotFound
	}
	if db.IsCheckViolation(err) {
		return ErrInsufficientStock
	}
	return err
}

var sortColumns = map[string]string{
	"name":         "name",
	"sku":          "sku",
	"category":     "category",
	"currentStock": "current_stock",
	"sellingPrice": "selling_price",
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
}

func (r *medicineRepoPG) List(ctx context.Context, f MedicineFilter, limit, offset int) ([]*Medicine, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR generic_name ILIKE $%d OR brand ILIKE $%d OR sku ILIKE $%d)`,
			idx, idx, idx, idx)
		args = append(args, "%"+strings.TrimSpace(f.Search)+"%")
		idx++
	}
	if f.Category != "" {
		where += fmt.Sprintf(` AND category = $%d`, idx)
		args = append(args, f.Category)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medicines`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "name"
	}
	dir := "ASC"
	if strings.EqualFold(f.SortOrder, "desc") {
		dir = "DESC"
	}
	query := `SELECT ` + medCols + ` FROM medicines` + where +
		fmt.Sprintf(` ORDER BY %s %s, id LIMIT $%d OFFSET $%d`, col, dir, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	return items, total, err
}

func (r *medicineRepoPG) query(ctx context.Context, query string, args ...any) ([]*Medicine, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *medicineRepoPG) ListActive(ctx context.Context) ([]*Medicine, error) {
	return r.query(ctx, `SELECT `+medCols+` FROM medicines WHERE status = 'active' ORDER BY name, id`)
}

func (r *medicineRepoPG) ListExpiring(ctx context.Context, cutoff time.Time) ([]*Medicine, error) {
	return r.query(ctx, `SELECT `+medCols+` FROM medicines m
		WHERE m.status = 'active' AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(m.batches) b
			WHERE (b->>'isActive')::boolean AND (b->>'expiryDate')::timestamptz <= $1
		)
		ORDER BY m.name, m.id`, cutoff)
}

func (r *medicineRepoPG) ListLowStock(ctx context.Context) ([]*Medicine, error) {
	return r.query(ctx, `SELECT `+medCols+` FROM medicines
		WHERE status = 'active' AND current_stock <= minimum_stock
		ORDER BY current_stock, name, id`)
}

// -- Movement --

type movementRepoPG struct{ pool *pgxpool.Pool }

func NewMovementRepoPG(pool *pgxpool.Pool) MovementRepository { return &movementRepoPG{pool: pool} }

func (r *movementRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const movementCols = `id, medicine_id, movement_type, quantity, previous_stock, new_stock, reason,
	performed_by, batch_no, expiry_date, invoice_id, created_at`

func scanMovement(row pgx.Row) (*Movement, error) {
	var mv Movement
	err := row.Scan(&mv.ID, &mv.MedicineID, &mv.MovementType, &mv.Quantity, &mv.PreviousStock,
		&mv.NewStock, &mv.Reason, &mv.PerformedBy, &mv.BatchNo, &mv.ExpiryDate, &mv.InvoiceID, &mv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

func (r *movementRepoPG) Create(ctx context.Context, mv *Movement) error {
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_movements (id, medicine_id, movement_type, quantity, previous_stock, new_stock,
			reason, performed_by, batch_no, expiry_date, invoice_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		mv.ID, mv.MedicineID, mv.MovementType, mv.Quantity, mv.PreviousStock, mv.NewStock,
		mv.Reason, mv.PerformedBy, mv.BatchNo, mv.ExpiryDate, mv.InvoiceID,
	).Scan(&mv.CreatedAt)
}

func (r *movementRepoPG) List(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.MedicineID != uuid.Nil {
		where += fmt.Sprintf(` AND medicine_id = $%d`, idx)
		args = append(args, f.MedicineID)
		idx++
	}
	if f.MovementType != "" {
		where += fmt.Sprintf(` AND movement_type = $%d`, idx)
		args = append(args, f.MovementType)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND created_at <= $%d`, idx)
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + movementCols + ` FROM stock_movements` + where +
		fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, mv)
	}
	return items, total, rows.Err()
}

// -- Sale --

type saleRepoPG struct{ pool *pgxpool.Pool }

func NewSaleRepoPG(pool *pgxpool.Pool) SaleRepository { return &saleRepoPG{pool: pool} }

func (r *saleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *saleRepoPG) Create(ctx context.Context, s *Sale) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sales_records (id, medicine_id, movement_id, quantity_sold, unit_price, total_amount,
			sold_to, sold_by, invoice_id, sale_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING sale_date`,
		s.ID, s.MedicineID, s.MovementID, s.QuantitySold, s.UnitPrice, s.TotalAmount,
		s.SoldTo, s.SoldBy, s.InvoiceID, s.SaleDate,
	).Scan(&s.SaleDate)
	if db.IsForeignKeyViolation(err) {
		return ErrInvoiceNotFound
	}
	return err
}

func (r *saleRepoPG) List(ctx context.Context, f SaleFilter, limit, offset int) ([]*Sale, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.MedicineID != uuid.Nil {
		where += fmt.Sprintf(` AND s.medicine_id = $%d`, idx)
		args = append(args, f.MedicineID)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND s.sale_date >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND s.sale_date <= $%d`, idx)
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sales_records s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT s.id, s.medicine_id, m.name, m.sku, s.movement_id, s.quantity_sold, s.unit_price,
			s.total_amount, s.sold_to, s.sold_by, s.invoice_id, s.sale_date
		FROM sales_records s JOIN medicines m ON m.id = s.medicine_id` + where +
		fmt.Sprintf(` ORDER BY s.sale_date DESC, s.id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.MedicineID, &s.MedicineName, &s.SKU, &s.MovementID, &s.QuantitySold,
			&s.UnitPrice, &s.TotalAmount, &s.SoldTo, &s.SoldBy, &s.InvoiceID, &s.SaleDate); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}
