package billing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/domain/pharmacy"
	"github.com/cliniq/hms/internal/domain/scheduling"
	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/auth"
	"github.com/cliniq/hms/internal/platform/events"
)

// -- Mock Invoice Repository --

type mockInvoiceRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Invoice
	seq   int
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{items: make(map[uuid.UUID]*Invoice)}
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	inv.CreatedAt = time.Date(2025, 1, 1, 0, 0, m.seq, 0, time.UTC)
	inv.UpdatedAt = inv.CreatedAt
	cp := *inv
	m.items[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.items[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoiceRepo) MarkPaid(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	inv, ok := m.items[id]
	if ok {
		inv.Paid = true
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) List(_ context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.items {
		if f.PatientID != uuid.Nil && inv.PatientID != f.PatientID {
			continue
		}
		if f.Paid != nil && inv.Paid != *f.Paid {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockInvoiceRepo) snapshot() map[uuid.UUID]*Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[uuid.UUID]*Invoice, len(m.items))
	for k, v := range m.items {
		cp[k] = v
	}
	return cp
}

func (m *mockInvoiceRepo) restore(items map[uuid.UUID]*Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// -- Fakes --

type fakeUsers map[uuid.UUID]*identity.User

func (f fakeUsers) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

type fakeAppointments map[uuid.UUID]*scheduling.Appointment

func (f fakeAppointments) GetAppointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := f[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return a, nil
}

// fakeStock applies lines one at a time so a failing line leaves earlier
// lines applied until the transaction rolls back.
type fakeStock struct {
	mu    sync.Mutex
	stock map[uuid.UUID]int
	sales map[uuid.UUID][]uuid.UUID
}

func newFakeStock() *fakeStock {
	return &fakeStock{stock: make(map[uuid.UUID]int), sales: make(map[uuid.UUID][]uuid.UUID)}
}

func (f *fakeStock) SellForInvoice(_ context.Context, invoiceID uuid.UUID, lines []pharmacy.SaleLine, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range lines {
		have, ok := f.stock[l.MedicineID]
		if !ok {
			return apperr.Invalid("Medicine with ID " + l.MedicineID.String() + " not found")
		}
		if have < l.Quantity {
			return pharmacy.ErrInsufficientStock
		}
		f.stock[l.MedicineID] = have - l.Quantity
		f.sales[invoiceID] = append(f.sales[invoiceID], l.MedicineID)
	}
	return nil
}

func (f *fakeStock) snapshot() (map[uuid.UUID]int, map[uuid.UUID][]uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stock := make(map[uuid.UUID]int, len(f.stock))
	for k, v := range f.stock {
		stock[k] = v
	}
	sales := make(map[uuid.UUID][]uuid.UUID, len(f.sales))
	for k, v := range f.sales {
		sales[k] = v
	}
	return stock, sales
}

func (f *fakeStock) restore(stock map[uuid.UUID]int, sales map[uuid.UUID][]uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock, f.sales = stock, sales
}

type fakeRecorder struct {
	events []events.Event
}

func (f *fakeRecorder) Record(_ context.Context, evts ...events.Event) error {
	f.events = append(f.events, evts...)
	return nil
}

// rollbackTx restores the fakes when fn fails, like a database rollback.
type rollbackTx struct {
	invoices *mockInvoiceRepo
	stock    *fakeStock
	events   *fakeRecorder
}

func (r rollbackTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	invoices := r.invoices.snapshot()
	stock, sales := r.stock.snapshot()
	recorded := len(r.events.events)
	if err := fn(ctx); err != nil {
		r.invoices.restore(invoices)
		r.stock.restore(stock, sales)
		r.events.events = r.events.events[:recorded]
		return err
	}
	return nil
}

type testEnv struct {
	svc      *Service
	invoices *mockInvoiceRepo
	stock    *fakeStock
	events   *fakeRecorder
	patient  *identity.User
	doctor   *identity.User
	appt     *scheduling.Appointment
}

func newTestEnv() *testEnv {
	env := &testEnv{
		invoices: newMockInvoiceRepo(),
		stock:    newFakeStock(),
		events:   &fakeRecorder{},
		patient:  &identity.User{ID: uuid.New(), FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Role: auth.RolePatient},
		doctor:   &identity.User{ID: uuid.New(), FirstName: "Gregory", LastName: "House", Role: auth.RoleDoctor},
	}
	env.appt = &scheduling.Appointment{ID: uuid.New(), PatientID: &env.patient.ID, DoctorID: env.doctor.ID}
	users := fakeUsers{env.patient.ID: env.patient, env.doctor.ID: env.doctor}
	appts := fakeAppointments{env.appt.ID: env.appt}
	tx := rollbackTx{invoices: env.invoices, stock: env.stock, events: env.events}
	env.svc = NewService(env.invoices, users, appts, env.stock, tx, env.events)
	return env
}

func qty(n int) *int { return &n }

func money(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// -- Tests --

func TestService_Create_Totals(t *testing.T) {
	env := newTestEnv()
	inv, err := env.svc.Create(context.Background(), CreateInput{
		PatientID:     env.patient.ID.String(),
		AppointmentID: env.appt.ID.String(),
		Items: []ItemInput{
			{Description: "Consultation", Qty: qty(1), UnitPrice: money("50.00")},
			{Description: "Syringe", Qty: qty(3), UnitPrice: money("0.10")},
		},
		Tax: money("5.03"),
	}, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.Items[1].Total.Equal(decimal.RequireFromString("0.30")) {
		t.Errorf("expected exact item total 0.30, got %s", inv.Items[1].Total)
	}
	if !inv.Subtotal.Equal(decimal.RequireFromString("50.30")) || !inv.Total.Equal(decimal.RequireFromString("55.33")) {
		t.Errorf("unexpected totals subtotal=%s total=%s", inv.Subtotal, inv.Total)
	}
	if inv.AppointmentID == nil || *inv.AppointmentID != env.appt.ID {
		t.Error("expected appointment to be linked")
	}
	if inv.Patient == nil || inv.Patient.Email != "ada@example.com" {
		t.Errorf("expected patient summary, got %+v", inv.Patient)
	}
	if len(env.events.events) != 1 || env.events.events[0].Type != events.InvoiceCreated {
		t.Errorf("expected invoice.created event, got %+v", env.events.events)
	}
}

func TestService_Create_Validation(t *testing.T) {
	env := newTestEnv()
	item := ItemInput{Description: "Consultation", Qty: qty(1), UnitPrice: money("10")}
	pid := env.patient.ID.String()

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing patient", CreateInput{Items: []ItemInput{item}}, ErrPatientRequired},
		{"no items", CreateInput{PatientID: pid}, ErrNoItems},
		{"item without price", CreateInput{PatientID: pid, Items: []ItemInput{{Description: "X", Qty: qty(1)}}}, ErrIncompleteItem},
		{"item without description", CreateInput{PatientID: pid, Items: []ItemInput{{Qty: qty(1), UnitPrice: money("1")}}}, ErrIncompleteItem},
		{"zero quantity", CreateInput{PatientID: pid, Items: []ItemInput{{Description: "X", Qty: qty(0), UnitPrice: money("1")}}}, ErrNonPositiveQuantity},
		{"negative price", CreateInput{PatientID: pid, Items: []ItemInput{{Description: "X", Qty: qty(1), UnitPrice: money("-1")}}}, ErrNegativeAmount},
		{"negative tax", CreateInput{PatientID: pid, Items: []ItemInput{item}, Tax: money("-0.01")}, ErrNegativeAmount},
		{"unknown patient", CreateInput{PatientID: uuid.NewString(), Items: []ItemInput{item}}, ErrPatientNotFound},
		{"doctor as patient", CreateInput{PatientID: env.doctor.ID.String(), Items: []ItemInput{item}}, ErrPatientNotFound},
		{"unknown appointment", CreateInput{PatientID: pid, AppointmentID: uuid.NewString(), Items: []ItemInput{item}}, ErrAppointmentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), tc.in, "admin")
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			if apperr.KindOf(err) != apperr.KindInvalid {
				t.Errorf("expected a 400 class error, got %v", err)
			}
		})
	}
	if len(env.invoices.items) != 0 {
		t.Errorf("expected no invoices, got %d", len(env.invoices.items))
	}
}

func TestService_Create_DrawsStock(t *testing.T) {
	env := newTestEnv()
	med := uuid.New()
	env.stock.stock[med] = 10

	inv, err := env.svc.Create(context.Background(), CreateInput{
		PatientID: env.patient.ID.String(),
		Items: []ItemInput{
			{Description: "Paracetamol", Qty: qty(4), UnitPrice: money("1.50"), MedicineID: med.String()},
			{Description: "Consultation", Qty: qty(1), UnitPrice: money("30")},
		},
	}, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.stock.stock[med] != 6 {
		t.Errorf("expected stock 6, got %d", env.stock.stock[med])
	}
	if len(env.stock.sales[inv.ID]) != 1 {
		t.Errorf("expected one sale line for the invoice, got %v", env.stock.sales[inv.ID])
	}
	if inv.Items[0].MedicineID == nil || *inv.Items[0].MedicineID != med {
		t.Error("expected medicine id on the item")
	}
}

func TestService_Create_FailedStockLeavesNothing(t *testing.T) {
	env := newTestEnv()
	a, b := uuid.New(), uuid.New()
	env.stock.stock[a] = 10
	env.stock.stock[b] = 1

	_, err := env.svc.Create(context.Background(), CreateInput{
		PatientID: env.patient.ID.String(),
		Items: []ItemInput{
			{Description: "A", Qty: qty(5), UnitPrice: money("1"), MedicineID: a.String()},
			{Description: "B", Qty: qty(2), UnitPrice: money("1"), MedicineID: b.String()},
		},
	}, "admin")
	if !errors.Is(err, pharmacy.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if env.stock.stock[a] != 10 || env.stock.stock[b] != 1 {
		t.Errorf("stock changed: a=%d b=%d", env.stock.stock[a], env.stock.stock[b])
	}
	if len(env.invoices.items) != 0 || len(env.events.events) != 0 {
		t.Error("failed invoice left state behind")
	}
}

func TestService_Create_UnknownMedicine(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Create(context.Background(), CreateInput{
		PatientID: env.patient.ID.String(),
		Items:     []ItemInput{{Description: "X", Qty: qty(1), UnitPrice: money("1"), MedicineID: "abc"}},
	}, "admin")
	if apperr.KindOf(err) != apperr.KindInvalid || !strings.Contains(err.Error(), "Medicine with ID abc not found") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestService_MarkPaid(t *testing.T) {
	env := newTestEnv()
	inv, err := env.svc.Create(context.Background(), CreateInput{
		PatientID: env.patient.ID.String(),
		Items:     []ItemInput{{Description: "X", Qty: qty(1), UnitPrice: money("1")}},
	}, "admin")
	if err != nil {
		t.Fatal(err)
	}

	paid, err := env.svc.MarkPaid(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paid.Paid {
		t.Error("expected invoice to be paid")
	}
	if _, err := env.svc.MarkPaid(context.Background(), inv.ID); err != nil {
		t.Fatalf("second payment: %v", err)
	}
	n := 0
	for _, e := range env.events.events {
		if e.Type == events.InvoicePaid {
			n++
		}
	}
	if n != 1 {
		t.Errorf("expected one invoice.paid event, got %d", n)
	}
	if _, err := env.svc.MarkPaid(context.Background(), uuid.New()); !errors.Is(err, ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestService_List_NewestFirst(t *testing.T) {
	env := newTestEnv()
	for _, d := range []string{"first", "second"} {
		if _, err := env.svc.Create(context.Background(), CreateInput{
			PatientID: env.patient.ID.String(),
			Items:     []ItemInput{{Description: d, Qty: qty(1), UnitPrice: money("1")}},
		}, "admin"); err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := env.svc.List(context.Background(), InvoiceFilter{PatientID: env.patient.ID}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || items[0].Items[0].Description != "second" {
		t.Errorf("expected newest first, got %+v", items)
	}
}
