package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniq/hms/internal/platform/db"
)

// -- Availability --

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *availabilityRepoPG) Get(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	var a Availability
	var raw []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT doctor_id, windows, updated_at FROM doctor_availability WHERE doctor_id = $1`, doctorID,
	).Scan(&a.DoctorID, &raw, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &a.Windows); err != nil {
		return nil, fmt.Errorf("decode windows for %s: %w", doctorID, err)
	}
	return &a, nil
}

func (r *availabilityRepoPG) Upsert(ctx context.Context, a *Availability) error {
	raw, err := json.Marshal(a.Windows)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_id, windows, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (doctor_id) DO UPDATE SET windows = EXCLUDED.windows, updated_at = NOW()
		RETURNING updated_at`,
		a.DoctorID, raw,
	).Scan(&a.UpdatedAt)
}

// -- Appointment --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, patient_id, doctor_id, doctor_name, department, appointment_at, status, has_visited,
	contact_first_name, contact_last_name, contact_email, contact_phone, contact_dob, contact_gender,
	contact_address, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DoctorName, &a.Department, &a.AppointmentAt,
		&a.Status, &a.HasVisited,
		&a.Contact.FirstName, &a.Contact.LastName, &a.Contact.Email, &a.Contact.Phone, &a.Contact.DOB,
		&a.Contact.Gender, &a.Contact.Address, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.AppointmentAt = a.AppointmentAt.UTC()
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	// ON CONFLICT only applies to the Accepted partial index, so Pending
	// rows always insert.
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, doctor_name, department, appointment_at, status,
			has_visited, contact_first_name, contact_last_name, contact_email, contact_phone, contact_dob,
			contact_gender, contact_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (doctor_id, appointment_at) WHERE status = 'Accepted' DO NOTHING
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.DoctorName, a.Department, a.AppointmentAt, a.Status,
		a.HasVisited, a.Contact.FirstName, a.Contact.LastName, a.Contact.Email, a.Contact.Phone, a.Contact.DOB,
		a.Contact.Gender, a.Contact.Address,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Taken(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND appointment_at = $2 AND status IN ('Accepted', 'Pending')
		)`, doctorID, at).Scan(&taken)
	return taken, err
}

func (r *appointmentRepoPG) Occupied(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT appointment_at FROM appointments
		WHERE doctor_id = $1 AND appointment_at >= $2 AND appointment_at < $3
		  AND status IN ('Accepted', 'Pending')
		ORDER BY appointment_at`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t.UTC())
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) OldestPending(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_at = $2 AND status = 'Pending'
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE`, doctorID, at))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $2, has_visited = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.HasVisited,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrAppointmentNotFound
	}
	if db.IsUniqueViolation(err, "appointments_accepted_slot_key") {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.DoctorID != uuid.Nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND appointment_at >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND appointment_at < $%d`, idx)
		args = append(args, f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY appointment_at DESC, created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListForPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Appointment, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE patient_id = ANY($1)
		ORDER BY appointment_at DESC, created_at`, patientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
