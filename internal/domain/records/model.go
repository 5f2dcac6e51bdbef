package records

import (
	"time"

	"github.com/google/uuid"
)

// Record is a patient's medical record: demographic details plus the
// history of visits.
type Record struct {
	PatientID   uuid.UUID   `json:"patientId"`
	Demographic Demographic `json:"demographic"`
	Visits      []*Visit    `json:"visits"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type Demographic struct {
	Height            string   `json:"height"`
	Weight            string   `json:"weight"`
	BloodGroup        string   `json:"bloodGroup"`
	Allergies         []string `json:"allergies"`
	ChronicConditions []string `json:"chronicConditions"`
}

// DemographicInput carries a partial update. Nil fields keep the stored
// value.
type DemographicInput struct {
	Height            *string   `json:"height"`
	Weight            *string   `json:"weight"`
	BloodGroup        *string   `json:"bloodGroup"`
	Allergies         *[]string `json:"allergies"`
	ChronicConditions *[]string `json:"chronicConditions"`
}

type RecordInput struct {
	PatientID   string           `json:"patientId"`
	Demographic DemographicInput `json:"demographic"`
}

type Visit struct {
	ID            uuid.UUID      `json:"id"`
	PatientID     uuid.UUID      `json:"patientId"`
	Date          time.Time      `json:"date"`
	Reason        string         `json:"reason"`
	Notes         string         `json:"notes"`
	Diagnoses     []string       `json:"diagnoses"`
	Prescriptions []Prescription `json:"prescriptions"`
	DoctorID      *uuid.UUID     `json:"doctorId,omitempty"`
	DoctorName    string         `json:"doctorName,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type Prescription struct {
	MedicineID *uuid.UUID `json:"medicineId,omitempty"`
	Name       string     `json:"name"`
	Dose       string     `json:"dose"`
	Duration   string     `json:"duration"`
}

type VisitInput struct {
	Date          *time.Time     `json:"date"`
	Reason        string         `json:"reason"`
	Notes         string         `json:"notes"`
	Diagnoses     []string       `json:"diagnoses"`
	Prescriptions []Prescription `json:"prescriptions"`
	DoctorID      string         `json:"doctorId"`
}
