package scheduling

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cliniq/hms/internal/platform/apperr"
)

func TestNormalizeWindows(t *testing.T) {
	got, err := NormalizeWindows([]Window{
		{Weekday: 3, Start: "13:00", End: "15:00"},
		{Weekday: 1, Start: "9:00", End: "12:00", SlotMinutes: 15},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Weekday != 1 || got[0].Start != "09:00" {
		t.Errorf("expected sorted, zero-padded windows, got %+v", got)
	}
	if got[1].SlotMinutes != DefaultSlotMinutes {
		t.Errorf("expected default slot length, got %d", got[1].SlotMinutes)
	}
}

func TestNormalizeWindows_Rejects(t *testing.T) {
	tests := []struct {
		name string
		w    Window
	}{
		{"start after end", Window{Weekday: 1, Start: "17:00", End: "09:00"}},
		{"start equals end", Window{Weekday: 1, Start: "09:00", End: "09:00"}},
		{"weekday too large", Window{Weekday: 7, Start: "09:00", End: "10:00"}},
		{"negative weekday", Window{Weekday: -1, Start: "09:00", End: "10:00"}},
		{"malformed start", Window{Weekday: 1, Start: "nine", End: "10:00"}},
		{"minutes out of range", Window{Weekday: 1, Start: "09:75", End: "10:00"}},
		{"negative slot", Window{Weekday: 1, Start: "09:00", End: "10:00", SlotMinutes: -30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeWindows([]Window{tt.w})
			if apperr.KindOf(err) != apperr.KindInvalid {
				t.Errorf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestAvailability_Covers(t *testing.T) {
	a := &Availability{Windows: []Window{{Weekday: 1, Start: "09:00", End: "10:00", SlotMinutes: 30}}}

	tests := []struct {
		at   time.Time
		want bool
	}{
		{monday.Add(9 * time.Hour), true},
		{monday.Add(9*time.Hour + 59*time.Minute), true},
		{monday.Add(10 * time.Hour), false},
		{monday.Add(8*time.Hour + 59*time.Minute), false},
		{monday.AddDate(0, 0, 1).Add(9 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := a.Covers(tt.at, time.UTC); got != tt.want {
			t.Errorf("Covers(%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestAppointment_PatientName(t *testing.T) {
	a := &Appointment{}
	if a.PatientName() != "Unknown Patient" {
		t.Errorf("expected fallback name, got %q", a.PatientName())
	}
	a.Contact = Contact{FirstName: "Ada", LastName: "Lovelace"}
	if a.PatientName() != "Ada Lovelace" {
		t.Errorf("expected snapshot name, got %q", a.PatientName())
	}
}

func TestAppointment_JSONInstant(t *testing.T) {
	a := &Appointment{AppointmentAt: monday.Add(9 * time.Hour), Status: StatusAccepted}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(b), `"appointmentDate":"2025-10-27T09:00:00.000Z"`) {
		t.Errorf("unexpected JSON: %s", b)
	}
	if !strings.Contains(string(b), `"status":"Accepted"`) {
		t.Errorf("expected status in JSON: %s", b)
	}
}

func TestBookRequest_LegacyDate(t *testing.T) {
	var r BookRequest
	json.Unmarshal([]byte(`{"doctorId":"x","appointment_date":"2025-10-27T09:00:00Z"}`), &r)
	if r.date() != "2025-10-27T09:00:00Z" {
		t.Errorf("expected legacy date to be used, got %q", r.date())
	}
}
