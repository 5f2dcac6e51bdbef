package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
	"github.com/cliniq/hms/internal/platform/lock"
)

var (
	ErrAppointmentNotFound  = apperr.NotFound("Appointment not found")
	ErrAvailabilityNotFound = apperr.NotFound("Availability not found")
	ErrNotConfigured        = apperr.Invalid("Doctor availability not configured")
	ErrDoctorUnavailable    = apperr.Invalid("Doctor not available at this time")
	ErrInvalidDate          = apperr.Invalid("Invalid date")
	ErrDoctorsConflict      = apperr.Invalid("Doctors Conflict! Please Contact Through Email Or Phone!")
	ErrIncompleteForm       = apperr.Invalid("Please Fill Full Form!")
	ErrInvalidStatus        = apperr.Invalid("Invalid status")
	// ErrSlotTaken means another appointment already holds the slot as
	// Accepted.
	ErrSlotTaken = apperr.Invalid("Slot already accepted for another appointment")
)

// Doctors resolves doctor and patient accounts.
type Doctors interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
	FindDoctors(ctx context.Context, firstName, lastName, department string) ([]*identity.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	ListPatients(ctx context.Context, search string, limit, offset int) ([]*identity.User, int, error)
}

// PatientAppointments is a patient account with its appointments, newest
// first.
type PatientAppointments struct {
	Patient      *identity.User `json:"patient"`
	Appointments []*Appointment `json:"appointments"`
}

type Options struct {
	Location     *time.Location
	HorizonDays  int
	SuggestLimit int
}

type Service struct {
	availability AvailabilityRepository
	appointments AppointmentRepository
	doctors      Doctors
	tx           db.Transactor
	locker       lock.Locker
	events       events.Recorder

	loc          *time.Location
	horizonDays  int
	suggestLimit int
	now          func() time.Time
}

func NewService(avail AvailabilityRepository, appts AppointmentRepository, doctors Doctors,
	tx db.Transactor, locker lock.Locker, recorder events.Recorder, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 14
	}
	if opts.SuggestLimit <= 0 {
		opts.SuggestLimit = 6
	}
	return &Service{
		availability: avail,
		appointments: appts,
		doctors:      doctors,
		tx:           tx,
		locker:       locker,
		events:       recorder,
		loc:          opts.Location,
		horizonDays:  opts.HorizonDays,
		suggestLimit: opts.SuggestLimit,
		now:          time.Now,
	}
}

// parseInstant accepts RFC3339 or a zone-less local time in the clinic zone.
func (s *Service) parseInstant(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC().Truncate(time.Millisecond), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, v, s.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

func slotKey(doctorID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("slot:%s:%d", doctorID, at.UnixMilli())
}

// -- Availability --

func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	return s.availability.Get(ctx, doctorID)
}

// SetAvailability replaces the doctor's weekly windows.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, windows []Window) (*Availability, error) {
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	normalized, err := NormalizeWindows(windows)
	if err != nil {
		return nil, err
	}
	a := &Availability{DoctorID: doctorID, Windows: normalized}
	if err := s.availability.Upsert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// -- Slots --

// SuggestSlots returns the next free instants for doctorID starting on
// preferred's date. A doctor without availability gets an empty list.
func (s *Service) SuggestSlots(ctx context.Context, doctorID string, preferred string) ([]string, error) {
	id, err := uuid.Parse(strings.TrimSpace(doctorID))
	if err != nil {
		return nil, apperr.Invalid("doctorId is required")
	}
	now := s.now()
	from := now
	if preferred != "" {
		if from, err = s.parseInstant(preferred); err != nil {
			return nil, err
		}
	}

	avail, err := s.availability.Get(ctx, id)
	if errors.Is(err, ErrAvailabilityNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	dayStart, _ := dayRange(from, s.loc)
	taken, err := s.appointments.Occupied(ctx, id, dayStart, dayStart.AddDate(0, 0, s.horizonDays))
	if err != nil {
		return nil, err
	}

	slots := Suggest(SlotQuery{
		Availability: avail,
		Occupied:     NewOccupied(taken...),
		From:         from,
		Now:          now,
		Location:     s.loc,
		HorizonDays:  s.horizonDays,
		Limit:        s.suggestLimit,
	})
	out := make([]string, len(slots))
	for i, t := range slots {
		out[i] = FormatInstant(t)
	}
	return out, nil
}

// BookedSlots lists the clinic-local "HH:MM" times taken on date.
func (s *Service) BookedSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	id, err := uuid.Parse(strings.TrimSpace(doctorID))
	if err != nil || date == "" {
		return nil, apperr.Invalid("doctorId and date are required")
	}
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	start, end := dayRange(day, s.loc)
	taken, err := s.appointments.Occupied(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(taken))
	for _, t := range taken {
		out = append(out, t.In(s.loc).Format("15:04"))
	}
	return out, nil
}

// -- Booking --

// BookSlot records an appointment for patientID at the requested instant.
// The appointment is Accepted when no Accepted or Pending appointment holds
// the slot and Pending otherwise.
func (s *Service) BookSlot(ctx context.Context, req BookRequest, patientID *uuid.UUID) (*Appointment, error) {
	if strings.TrimSpace(req.DoctorID) == "" || req.date() == "" {
		return nil, apperr.Invalid("doctorId and appointment_date are required")
	}
	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return nil, identity.ErrDoctorNotFound
	}
	at, err := s.parseInstant(req.date())
	if err != nil {
		return nil, err
	}

	avail, err := s.availability.Get(ctx, doctorID)
	if errors.Is(err, ErrAvailabilityNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	if !avail.Covers(at, s.loc) {
		return nil, ErrDoctorUnavailable
	}

	doctor, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:     patientID,
		DoctorID:      doctorID,
		DoctorName:    doctor.FullName(),
		Department:    doctor.Department,
		AppointmentAt: at,
	}
	if patientID != nil {
		if p, err := s.doctors.GetUser(ctx, *patientID); err == nil {
			a.Contact = Contact{
				FirstName: p.FirstName,
				LastName:  p.LastName,
				Email:     p.Email,
				Phone:     p.Phone,
				DOB:       p.DOB,
				Gender:    p.Gender,
			}
		} else if !errors.Is(err, identity.ErrUserNotFound) {
			return nil, err
		}
	}

	err = s.locker.WithLock(ctx, slotKey(doctorID, at), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			taken, err := s.appointments.Taken(ctx, doctorID, at)
			if err != nil {
				return err
			}
			a.Status = StatusAccepted
			if taken {
				a.Status = StatusPending
			}
			err = s.appointments.Create(ctx, a)
			if errors.Is(err, ErrSlotTaken) {
				a.Status = StatusPending
				err = s.appointments.Create(ctx, a)
			}
			if err != nil {
				return err
			}
			evtType := events.AppointmentBooked
			if a.Status == StatusPending {
				evtType = events.AppointmentQueued
			}
			return s.events.Record(ctx, appointmentEvent(evtType, a))
		})
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, apperr.Unavailable("Slot is busy, please retry")
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// PostAppointment books by doctor name and department. The request is
// queued as Pending for an admin to accept.
func (s *Service) PostAppointment(ctx context.Context, f AppointmentForm, patientID *uuid.UUID) (*Appointment, error) {
	for _, v := range []string{f.FirstName, f.LastName, f.Email, f.Phone, f.DOB, f.Gender,
		f.AppointmentDate, f.Department, f.DoctorFirstName, f.DoctorLastName, f.Address} {
		if strings.TrimSpace(v) == "" {
			return nil, ErrIncompleteForm
		}
	}
	at, err := s.parseInstant(f.AppointmentDate)
	if err != nil {
		return nil, err
	}
	dob, err := time.Parse("2006-01-02", strings.TrimSpace(f.DOB))
	if err != nil {
		if dob, err = time.Parse(time.RFC3339, strings.TrimSpace(f.DOB)); err != nil {
			return nil, apperr.Invalid("Invalid date of birth")
		}
	}

	found, err := s.doctors.FindDoctors(ctx, f.DoctorFirstName, f.DoctorLastName, f.Department)
	if err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, identity.ErrDoctorNotFound
	case len(found) > 1:
		return nil, ErrDoctorsConflict
	}
	doctor := found[0]

	a := &Appointment{
		PatientID:     patientID,
		DoctorID:      doctor.ID,
		DoctorName:    doctor.FullName(),
		Department:    doctor.Department,
		AppointmentAt: at,
		Status:        StatusPending,
		HasVisited:    f.HasVisited,
		Contact: Contact{
			FirstName: strings.TrimSpace(f.FirstName),
			LastName:  strings.TrimSpace(f.LastName),
			Email:     strings.TrimSpace(f.Email),
			Phone:     strings.TrimSpace(f.Phone),
			DOB:       &dob,
			Gender:    strings.TrimSpace(f.Gender),
			Address:   strings.TrimSpace(f.Address),
		},
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		return s.events.Record(ctx, appointmentEvent(events.AppointmentQueued, a))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// -- Ledger --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validAppointmentStatuses[f.Status] {
		return nil, 0, ErrInvalidStatus
	}
	return s.appointments.List(ctx, f, limit, offset)
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, AppointmentFilter{PatientID: patientID}, limit, offset)
}

// PatientsWithAppointments pages through patient accounts and attaches
// each one's appointments.
func (s *Service) PatientsWithAppointments(ctx context.Context, search string, limit, offset int) ([]PatientAppointments, int, error) {
	patients, total, err := s.doctors.ListPatients(ctx, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uuid.UUID, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
	}
	appts, err := s.appointments.ListForPatients(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	byPatient := make(map[uuid.UUID][]*Appointment, len(patients))
	for _, a := range appts {
		if a.PatientID != nil {
			byPatient[*a.PatientID] = append(byPatient[*a.PatientID], a)
		}
	}

	out := make([]PatientAppointments, len(patients))
	for i, p := range patients {
		list := byPatient[p.ID]
		if list == nil {
			list = []*Appointment{}
		}
		out[i] = PatientAppointments{Patient: p, Appointments: list}
	}
	return out, total, nil
}

// UpdateStatus changes an appointment's status. When an Accepted
// appointment is rejected the oldest Pending request for the same slot is
// promoted and returned.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, u StatusUpdate) (*Appointment, *Appointment, error) {
	if u.Status != "" && !validAppointmentStatuses[u.Status] {
		return nil, nil, ErrInvalidStatus
	}
	current, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var updated, promoted *Appointment
	err = s.locker.WithLock(ctx, slotKey(current.DoctorID, current.AppointmentAt), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			a, err := s.appointments.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			previous := a.Status
			if u.Status != "" {
				a.Status = u.Status
			}
			if u.HasVisited != nil {
				a.HasVisited = *u.HasVisited
			}
			if err := s.appointments.UpdateStatus(ctx, a); err != nil {
				return err
			}
			updated = a
			if err := s.events.Record(ctx, appointmentEvent(events.AppointmentStatus, a)); err != nil {
				return err
			}
			if previous == StatusAccepted && a.Status == StatusRejected {
				promoted, err = s.promote(ctx, a.DoctorID, a.AppointmentAt)
			}
			return err
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, promoted, nil
}

// DeleteAppointment removes an appointment and promotes the next queued
// request when it held the slot.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	current, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var promoted *Appointment
	err = s.locker.WithLock(ctx, slotKey(current.DoctorID, current.AppointmentAt), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			a, err := s.appointments.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := s.appointments.Delete(ctx, id); err != nil {
				return err
			}
			if err := s.events.Record(ctx, appointmentEvent(events.AppointmentDeleted, a)); err != nil {
				return err
			}
			if a.Status == StatusAccepted {
				promoted, err = s.promote(ctx, a.DoctorID, a.AppointmentAt)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (s *Service) promote(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	next, err := s.appointments.OldestPending(ctx, doctorID, at)
	if err != nil || next == nil {
		return nil, err
	}
	next.Status = StatusAccepted
	if err := s.appointments.UpdateStatus(ctx, next); err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, appointmentEvent(events.AppointmentPromoted, next)); err != nil {
		return nil, err
	}
	return next, nil
}

func appointmentEvent(evtType string, a *Appointment) events.Event {
	return events.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID.String(),
		Type:          evtType,
		Payload: map[string]any{
			"id":              a.ID,
			"doctorId":        a.DoctorID,
			"patientId":       a.PatientID,
			"appointmentDate": FormatInstant(a.AppointmentAt),
			"status":          a.Status,
			"hasVisited":      a.HasVisited,
		},
	}
}
