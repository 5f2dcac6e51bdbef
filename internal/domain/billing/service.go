package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/domain/pharmacy"
	"github.com/cliniq/hms/internal/domain/scheduling"
	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/auth"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
)

var (
	ErrInvoiceNotFound     = apperr.NotFound("Invoice not found")
	ErrPatientRequired     = apperr.Invalid("Patient ID is required")
	ErrPatientNotFound     = apperr.Invalid("Patient not found")
	ErrAppointmentNotFound = apperr.Invalid("Appointment not found")
	ErrNoItems             = apperr.Invalid("At least one item is required")
	ErrIncompleteItem      = apperr.Invalid("Each item must have description, quantity, and unit price")
	ErrNonPositiveQuantity = apperr.Invalid("Item quantity must be positive")
	ErrNegativeAmount      = apperr.Invalid("Prices and tax cannot be negative")
)

// Patients resolves the billed account.
type Patients interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// StockLedger draws medicine stock for invoice lines. It runs inside the
// invoice transaction.
type StockLedger interface {
	SellForInvoice(ctx context.Context, invoiceID uuid.UUID, lines []pharmacy.SaleLine, by string) error
}

type Service struct {
	invoices     InvoiceRepository
	patients     Patients
	appointments Appointments
	stock        StockLedger
	tx           db.Transactor
	events       events.Recorder
}

func NewService(invoices InvoiceRepository, patients Patients, appointments Appointments,
	stock StockLedger, tx db.Transactor, recorder events.Recorder) *Service {
	return &Service{
		invoices:     invoices,
		patients:     patients,
		appointments: appointments,
		stock:        stock,
		tx:           tx,
		events:       recorder,
	}
}

// build validates in and returns the priced invoice together with the
// stock it draws.
func (s *Service) build(ctx context.Context, in CreateInput) (*Invoice, []pharmacy.SaleLine, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return nil, nil, ErrPatientRequired
	}
	patientID, err := uuid.Parse(strings.TrimSpace(in.PatientID))
	if err != nil {
		return nil, nil, ErrPatientNotFound
	}
	if len(in.Items) == 0 {
		return nil, nil, ErrNoItems
	}

	inv := &Invoice{ID: uuid.New(), PatientID: patientID, Tax: decimal.Zero}
	if in.Tax != nil {
		if in.Tax.IsNegative() {
			return nil, nil, ErrNegativeAmount
		}
		inv.Tax = *in.Tax
	}

	var lines []pharmacy.SaleLine
	for _, it := range in.Items {
		if !it.complete() {
			return nil, nil, ErrIncompleteItem
		}
		if *it.Qty <= 0 {
			return nil, nil, ErrNonPositiveQuantity
		}
		if it.UnitPrice.IsNegative() {
			return nil, nil, ErrNegativeAmount
		}
		item := Item{
			Description: strings.TrimSpace(it.Description),
			Quantity:    *it.Qty,
			UnitPrice:   *it.UnitPrice,
		}
		if v := strings.TrimSpace(it.MedicineID); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, nil, apperr.Invalid(fmt.Sprintf("Medicine with ID %s not found", v))
			}
			item.MedicineID = &id
			lines = append(lines, pharmacy.SaleLine{MedicineID: id, Quantity: item.Quantity})
		}
		inv.Items = append(inv.Items, item)
	}
	inv.computeTotals()

	patient, err := s.patients.GetUser(ctx, patientID)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if patient.Role != auth.RolePatient {
		return nil, nil, ErrPatientNotFound
	}
	inv.Patient = &PatientSummary{
		ID:        patient.ID,
		FirstName: patient.FirstName,
		LastName:  patient.LastName,
		Email:     patient.Email,
		Phone:     patient.Phone,
	}

	if v := strings.TrimSpace(in.AppointmentID); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, nil, ErrAppointmentNotFound
		}
		if _, err := s.appointments.GetAppointment(ctx, id); err != nil {
			if errors.Is(err, scheduling.ErrAppointmentNotFound) {
				return nil, nil, ErrAppointmentNotFound
			}
			return nil, nil, err
		}
		inv.AppointmentID = &id
	}
	return inv, lines, nil
}

// Create prices and stores an invoice. Lines that name a medicine draw
// its stock in the same transaction, so a failed line leaves neither an
// invoice nor a stock change behind.
func (s *Service) Create(ctx context.Context, in CreateInput, by string) (*Invoice, error) {
	inv, lines, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := s.stock.SellForInvoice(ctx, inv.ID, lines, by); err != nil {
				return err
			}
		}
		return s.events.Record(ctx, invoiceEvent(events.InvoiceCreated, inv))
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// MarkPaid flags an invoice as paid. Paying twice is a no-op.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Paid {
			inv = current
			return nil
		}
		if inv, err = s.invoices.MarkPaid(ctx, id); err != nil {
			return err
		}
		return s.events.Record(ctx, invoiceEvent(events.InvoicePaid, inv))
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, f, limit, offset)
}

func invoiceEvent(eventType string, inv *Invoice) events.Event {
	return events.Event{
		AggregateType: "invoice",
		AggregateID:   inv.ID.String(),
		Type:          eventType,
		Payload: map[string]any{
			"invoiceId": inv.ID,
			"patientId": inv.PatientID,
			"total":     inv.Total,
			"paid":      inv.Paid,
			"items":     len(inv.Items),
		},
	}
}
