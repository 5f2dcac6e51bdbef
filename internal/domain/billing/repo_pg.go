package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniq/hms/internal/platform/db"
)

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const invCols = `i.id, i.patient_id, i.appointment_id, i.subtotal, i.tax, i.total, i.paid,
	i.created_at, i.updated_at, u.first_name, u.last_name, u.email, u.phone`

const invFrom = ` FROM invoices i JOIN users u ON u.id = i.patient_id`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	p := PatientSummary{}
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.AppointmentID, &inv.Subtotal, &inv.Tax, &inv.Total,
		&inv.Paid, &inv.CreatedAt, &inv.UpdatedAt, &p.FirstName, &p.LastName, &p.Email, &p.Phone)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	p.ID = inv.PatientID
	inv.Patient = &p
	inv.Items = []Item{}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, patient_id, appointment_id, subtotal, tax, total, paid)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PatientID, inv.AppointmentID, inv.Subtotal, inv.Tax, inv.Total, inv.Paid,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrPatientNotFound
		}
		return err
	}
	for i, it := range inv.Items {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, total, medicine_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			inv.ID, i, it.Description, it.Quantity, it.UnitPrice, it.Total, it.MedicineID)
		if err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+invFrom+` WHERE i.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) MarkPaid(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE invoices SET paid = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInvoiceNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND i.patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Paid != nil {
		where += fmt.Sprintf(` AND i.paid = $%d`, idx)
		args = append(args, *f.Paid)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices i`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invCols + invFrom + where +
		fmt.Sprintf(` ORDER BY i.created_at DESC, i.id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.loadItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// loadItems attaches line items to invs with one query.
func (r *invoiceRepoPG) loadItems(ctx context.Context, invs []*Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Invoice, len(invs))
	ids := make([]string, len(invs))
	for i, inv := range invs {
		byID[inv.ID] = inv
		ids[i] = inv.ID.String()
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT invoice_id, description, quantity, unit_price, total, medicine_id
		FROM invoice_items WHERE invoice_id = ANY($1::uuid[])
		ORDER BY invoice_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var invoiceID uuid.UUID
		var it Item
		if err := rows.Scan(&invoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Total, &it.MedicineID); err != nil {
			return err
		}
		if inv := byID[invoiceID]; inv != nil {
			inv.Items = append(inv.Items, it)
		}
	}
	return rows.Err()
}
