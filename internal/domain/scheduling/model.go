package scheduling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniq/hms/internal/platform/apperr"
)

const (
	StatusPending   = "Pending"
	StatusAccepted  = "Accepted"
	StatusRejected  = "Rejected"
	StatusCompleted = "Completed"
)

var validAppointmentStatuses = map[string]bool{
	StatusPending:   true,
	StatusAccepted:  true,
	StatusRejected:  true,
	StatusCompleted: true,
}

// DefaultSlotMinutes applies to windows stored without a slot length.
const DefaultSlotMinutes = 30

// InstantLayout renders appointment instants, e.g. 2025-10-27T09:00:00.000Z.
const InstantLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// Window is a recurring weekly interval of clinic wall-clock time.
// Weekday is 0 (Sunday) through 6.
type Window struct {
	Weekday     int    `json:"weekday"`
	Start       string `json:"start"`
	End         string `json:"end"`
	SlotMinutes int    `json:"slotMinutes"`
}

type Availability struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	Windows   []Window  `json:"windows"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, fmt.Errorf("malformed time %q", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 24 {
		return 0, fmt.Errorf("malformed time %q", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("malformed time %q", v)
	}
	return hh*60 + mm, nil
}

// bounds returns the window as minutes since midnight. ok is false for
// windows the generator cannot step through.
func (w Window) bounds() (start, end, step int, ok bool) {
	if w.Weekday < 0 || w.Weekday > 6 {
		return 0, 0, 0, false
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return 0, 0, 0, false
	}
	end, err = parseClock(w.End)
	if err != nil {
		return 0, 0, 0, false
	}
	step = w.SlotMinutes
	if step == 0 {
		step = DefaultSlotMinutes
	}
	if start >= end || step < 0 {
		return 0, 0, 0, false
	}
	return start, end, step, true
}

// NormalizeWindows validates windows for storage, fills the default slot
// length and orders them by weekday and start.
func NormalizeWindows(windows []Window) ([]Window, error) {
	out := make([]Window, 0, len(windows))
	for i, w := range windows {
		if w.Weekday < 0 || w.Weekday > 6 {
			return nil, apperr.Invalid(fmt.Sprintf("window %d: weekday must be between 0 and 6", i))
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, apperr.Invalid(fmt.Sprintf("window %d: start must be HH:MM", i))
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, apperr.Invalid(fmt.Sprintf("window %d: end must be HH:MM", i))
		}
		if start >= end {
			return nil, apperr.Invalid(fmt.Sprintf("window %d: start must be before end", i))
		}
		if w.SlotMinutes == 0 {
			w.SlotMinutes = DefaultSlotMinutes
		}
		if w.SlotMinutes < 0 {
			return nil, apperr.Invalid(fmt.Sprintf("window %d: slotMinutes must be positive", i))
		}
		w.Start = fmt.Sprintf("%02d:%02d", start/60, start%60)
		w.End = fmt.Sprintf("%02d:%02d", end/60, end%60)
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// Covers reports whether t falls inside any window, evaluated in loc.
func (a *Availability) Covers(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	weekday := int(local.Weekday())
	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	for _, w := range a.Windows {
		start, end, _, ok := w.bounds()
		if !ok || w.Weekday != weekday {
			continue
		}
		if secs >= start*60 && secs < end*60 {
			return true
		}
	}
	return false
}

// Contact is the patient's details as given at booking time. It is not
// updated when the patient account changes.
type Contact struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	DOB       *time.Time `json:"dob,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	Address   string     `json:"address,omitempty"`
}

type Appointment struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     *uuid.UUID `json:"patientId,omitempty"`
	DoctorID      uuid.UUID  `json:"doctorId"`
	DoctorName    string     `json:"doctorName"`
	Department    string     `json:"department"`
	AppointmentAt time.Time  `json:"-"`
	Status        string     `json:"status"`
	HasVisited    bool       `json:"hasVisited"`
	Contact       Contact    `json:"contact"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// PatientName prefers the booking snapshot.
func (a *Appointment) PatientName() string {
	if name := strings.TrimSpace(a.Contact.FirstName + " " + a.Contact.LastName); name != "" {
		return name
	}
	return "Unknown Patient"
}

func (a *Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		*plain
		AppointmentDate string `json:"appointmentDate"`
		PatientName     string `json:"patientName"`
	}{
		plain:           (*plain)(a),
		AppointmentDate: FormatInstant(a.AppointmentAt),
		PatientName:     a.PatientName(),
	})
}

// BookRequest is the quick booking form. appointment_date is accepted for
// older clients.
type BookRequest struct {
	DoctorID        string `json:"doctorId"`
	AppointmentDate string `json:"appointmentDate"`
	LegacyDate      string `json:"appointment_date"`
}

func (r BookRequest) date() string {
	if r.AppointmentDate != "" {
		return r.AppointmentDate
	}
	return r.LegacyDate
}

// AppointmentForm is the full booking form addressed by doctor name.
type AppointmentForm struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	DOB             string `json:"dob"`
	Gender          string `json:"gender"`
	AppointmentDate string `json:"appointment_date"`
	Department      string `json:"department"`
	DoctorFirstName string `json:"doctor_firstName"`
	DoctorLastName  string `json:"doctor_lastName"`
	HasVisited      bool   `json:"hasVisited"`
	Address         string `json:"address"`
}

type StatusUpdate struct {
	Status     string `json:"status"`
	HasVisited *bool  `json:"hasVisited"`
}

// AppointmentFilter narrows List. Zero values match everything.
type AppointmentFilter struct {
	Status    string
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	From      time.Time
	To        time.Time
}
