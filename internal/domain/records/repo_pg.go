package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniq/hms/internal/platform/db"
)

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const recordCols = `patient_id, height, weight, blood_group, allergies, chronic_conditions, created_at, updated_at`

func (r *recordRepoPG) get(ctx context.Context, patientID uuid.UUID, lock string) (*Record, error) {
	var rec Record
	d := &rec.Demographic
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM patient_records WHERE patient_id = $1`+lock, patientID).
		Scan(&rec.PatientID, &d.Height, &d.Weight, &d.BloodGroup, &d.Allergies, &d.ChronicConditions,
			&rec.CreatedAt, &rec.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	return r.get(ctx, patientID, ``)
}

func (r *recordRepoPG) GetForUpdate(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	return r.get(ctx, patientID, ` FOR UPDATE`)
}

func (r *recordRepoPG) Save(ctx context.Context, rec *Record) error {
	d := rec.Demographic
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_records (patient_id, height, weight, blood_group, allergies, chronic_conditions)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (patient_id) DO UPDATE SET
			height = EXCLUDED.height,
			weight = EXCLUDED.weight,
			blood_group = EXCLUDED.blood_group,
			allergies = EXCLUDED.allergies,
			chronic_conditions = EXCLUDED.chronic_conditions,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		rec.PatientID, d.Height, d.Weight, d.BloodGroup, nonNil(d.Allergies), nonNil(d.ChronicConditions),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *recordRepoPG) AddVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	prescriptions, err := json.Marshal(nonNilPrescriptions(v.Prescriptions))
	if err != nil {
		return fmt.Errorf("encode prescriptions: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_visits (id, patient_id, visited_at, reason, notes, diagnoses, prescriptions, doctor_id, doctor_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		v.ID, v.PatientID, v.Date, v.Reason, v.Notes, nonNil(v.Diagnoses), prescriptions, v.DoctorID, v.DoctorName,
	).Scan(&v.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrRecordNotFound
	}
	return err
}

func (r *recordRepoPG) Visits(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, visited_at, reason, notes, diagnoses, prescriptions, doctor_id, doctor_name, created_at
		FROM patient_visits
		WHERE patient_id = $1
		ORDER BY visited_at DESC, seq DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		var v Visit
		var prescriptions []byte
		if err := rows.Scan(&v.ID, &v.PatientID, &v.Date, &v.Reason, &v.Notes, &v.Diagnoses,
			&prescriptions, &v.DoctorID, &v.DoctorName, &v.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(prescriptions, &v.Prescriptions); err != nil {
			return nil, fmt.Errorf("decode prescriptions for visit %s: %w", v.ID, err)
		}
		visits = append(visits, &v)
	}
	return visits, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilPrescriptions(p []Prescription) []Prescription {
	if p == nil {
		return []Prescription{}
	}
	return p
}
