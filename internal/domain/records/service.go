package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/auth"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
)

var (
	ErrRecordNotFound  = apperr.NotFound("Record not found")
	ErrPatientNotFound = apperr.NotFound("Patient not found")
	ErrInvalidPatient  = apperr.Invalid("A valid patientId is required")
	ErrInvalidDoctor   = apperr.Invalid("Invalid doctorId")
	ErrFutureVisit     = apperr.Invalid("Visit date cannot be in the future")
)

// Users resolves the accounts a record refers to.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	records RecordRepository
	users   Users
	tx      db.Transactor
	events  events.Recorder
	now     func() time.Time
}

func NewService(records RecordRepository, users Users, tx db.Transactor, recorder events.Recorder) *Service {
	return &Service{records: records, users: users, tx: tx, events: recorder, now: time.Now}
}

// Save creates the patient's record or merges the given demographic fields
// into the existing one.
func (s *Service) Save(ctx context.Context, in RecordInput) (*Record, error) {
	patientID, err := uuid.Parse(strings.TrimSpace(in.PatientID))
	if err != nil {
		return nil, ErrInvalidPatient
	}
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}

	var rec *Record
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.records.GetForUpdate(ctx, patientID)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			existing = &Record{PatientID: patientID}
		case err != nil:
			return err
		}
		mergeDemographic(&existing.Demographic, in.Demographic)
		if err := s.records.Save(ctx, existing); err != nil {
			return err
		}
		rec = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.Visits, err = s.records.Visits(ctx, patientID); err != nil {
		return nil, err
	}
	if rec.Visits == nil {
		rec.Visits = []*Visit{}
	}
	return rec, nil
}

func mergeDemographic(d *Demographic, in DemographicInput) {
	if in.Height != nil {
		d.Height = strings.TrimSpace(*in.Height)
	}
	if in.Weight != nil {
		d.Weight = strings.TrimSpace(*in.Weight)
	}
	if in.BloodGroup != nil {
		d.BloodGroup = strings.TrimSpace(*in.BloodGroup)
	}
	if in.Allergies != nil {
		d.Allergies = cleanList(*in.Allergies)
	}
	if in.ChronicConditions != nil {
		d.ChronicConditions = cleanList(*in.ChronicConditions)
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		return ErrPatientNotFound
	}
	if err != nil {
		return err
	}
	if u.Role != auth.RolePatient {
		return ErrPatientNotFound
	}
	return nil
}

// AddVisit appends a visit to an existing record. The attending doctor's
// name is stored with the visit.
func (s *Service) AddVisit(ctx context.Context, patientID uuid.UUID, in VisitInput) (*Visit, error) {
	now := s.now()
	v := &Visit{
		PatientID:     patientID,
		Date:          now,
		Reason:        strings.TrimSpace(in.Reason),
		Notes:         strings.TrimSpace(in.Notes),
		Diagnoses:     cleanList(in.Diagnoses),
		Prescriptions: in.Prescriptions,
	}
	if in.Date != nil {
		if in.Date.After(now) {
			return nil, ErrFutureVisit
		}
		v.Date = *in.Date
	}
	if id := strings.TrimSpace(in.DoctorID); id != "" {
		doctorID, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrInvalidDoctor
		}
		doctor, err := s.users.GetDoctor(ctx, doctorID)
		if err != nil {
			return nil, err
		}
		v.DoctorID = &doctor.ID
		v.DoctorName = strings.TrimSpace(doctor.FirstName + " " + doctor.LastName)
	}
	for i := range v.Prescriptions {
		p := &v.Prescriptions[i]
		p.Name, p.Dose, p.Duration = strings.TrimSpace(p.Name), strings.TrimSpace(p.Dose), strings.TrimSpace(p.Duration)
		if p.Name == "" {
			return nil, apperr.Invalid("Every prescription needs a medicine name")
		}
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.records.GetForUpdate(ctx, patientID); err != nil {
			return err
		}
		if err := s.records.AddVisit(ctx, v); err != nil {
			return err
		}
		return s.events.Record(ctx, events.Event{
			AggregateType: "patient_record",
			AggregateID:   patientID.String(),
			Type:          events.VisitRecorded,
			Payload: map[string]any{
				"visitId":   v.ID,
				"patientId": patientID,
				"doctorId":  v.DoctorID,
				"date":      v.Date,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the record with its visits newest first.
func (s *Service) Get(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	rec, err := s.records.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if rec.Visits, err = s.records.Visits(ctx, patientID); err != nil {
		return nil, err
	}
	if rec.Visits == nil {
		rec.Visits = []*Visit{}
	}
	return rec, nil
}
