package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniq/hms/internal/config"
	"github.com/cliniq/hms/internal/domain/billing"
	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/domain/messaging"
	"github.com/cliniq/hms/internal/domain/pharmacy"
	"github.com/cliniq/hms/internal/domain/records"
	"github.com/cliniq/hms/internal/domain/scheduling"
	"github.com/cliniq/hms/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// command tree
// ---------------------------------------------------------------------------

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"seed"},
		{"sweep"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("find %v: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("find %v resolved to %q", path, cmd.Name())
		}
	}
}

func TestSeedCmd_Flags(t *testing.T) {
	cmd := seedCmd()
	for _, name := range []string{"seed", "doctors", "patients", "medicines", "password", "admin-email"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if got := cmd.Flags().Lookup("password").DefValue; len(got) < 8 {
		t.Errorf("default password %q is shorter than the account minimum", got)
	}
}

// ---------------------------------------------------------------------------
// seed plan
// ---------------------------------------------------------------------------

var seedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testPlan(seed uint64) seedPlan {
	return planSeed(seedOptions{
		Seed:      seed,
		Doctors:   5,
		Patients:  20,
		Medicines: 20,
		Password:  "password123",
		AdminMail: "admin@hms.test",
	}, seedNow)
}

func TestPlanSeed_Counts(t *testing.T) {
	plan := testPlan(42)
	if len(plan.Doctors) != 5 || len(plan.Patients) != 20 || len(plan.Medicines) != 20 {
		t.Fatalf("counts = %d/%d/%d", len(plan.Doctors), len(plan.Patients), len(plan.Medicines))
	}
	if plan.Admin.Email != "admin@hms.test" {
		t.Errorf("admin email = %q", plan.Admin.Email)
	}
}

func TestPlanSeed_Deterministic(t *testing.T) {
	a, b := testPlan(7), testPlan(7)
	for i := range a.Patients {
		if a.Patients[i].Email != b.Patients[i].Email {
			t.Fatalf("patient %d: %q != %q", i, a.Patients[i].Email, b.Patients[i].Email)
		}
	}
	for i := range a.Medicines {
		if a.Medicines[i].Name != b.Medicines[i].Name || !a.Medicines[i].CostPrice.Equal(*b.Medicines[i].CostPrice) {
			t.Fatalf("medicine %d differs between runs", i)
		}
	}
}

func TestPlanSeed_UniqueEmailsAndSKUs(t *testing.T) {
	plan := testPlan(99)
	emails := map[string]bool{plan.Admin.Email: true}
	for _, d := range plan.Doctors {
		if emails[d.Account.Email] {
			t.Errorf("duplicate email %q", d.Account.Email)
		}
		emails[d.Account.Email] = true
	}
	for _, p := range plan.Patients {
		if emails[p.Email] {
			t.Errorf("duplicate email %q", p.Email)
		}
		emails[p.Email] = true
	}

	skus := map[string]bool{}
	for _, m := range plan.Medicines {
		if skus[m.SKU] {
			t.Errorf("duplicate sku %q", m.SKU)
		}
		skus[m.SKU] = true
	}
}

func TestPlanSeed_DoctorsHaveDepartmentAndWindows(t *testing.T) {
	for _, d := range testPlan(3).Doctors {
		if d.Account.Department == "" {
			t.Errorf("doctor %s has no department", d.Account.Email)
		}
		if len(d.Windows) < 3 || len(d.Windows) > 5 {
			t.Errorf("doctor %s has %d windows", d.Account.Email, len(d.Windows))
		}
		if _, err := scheduling.NormalizeWindows(d.Windows); err != nil {
			t.Errorf("doctor %s windows invalid: %v", d.Account.Email, err)
		}
	}
}

func TestPlanSeed_PatientsHaveDOB(t *testing.T) {
	for _, p := range testPlan(5).Patients {
		dob, err := time.Parse("2006-01-02", p.DOB)
		if err != nil {
			t.Fatalf("patient %s dob %q: %v", p.Email, p.DOB, err)
		}
		if !dob.Before(seedNow) {
			t.Errorf("patient %s born in the future: %s", p.Email, p.DOB)
		}
	}
}

func TestPlanSeed_MedicinesAreSellable(t *testing.T) {
	for _, m := range testPlan(11).Medicines {
		if m.SellingPrice.LessThan(*m.CostPrice) {
			t.Errorf("%s sells below cost: %s < %s", m.SKU, m.SellingPrice, m.CostPrice)
		}
		if m.BatchInfo == nil || m.BatchInfo.Quantity < *m.MinimumStock {
			t.Errorf("%s opening stock below minimum", m.SKU)
		}
		if !m.BatchInfo.ExpiryDate.After(seedNow) {
			t.Errorf("%s opening batch already expired", m.SKU)
		}
		if !strings.HasPrefix(m.SKU, "MED-") {
			t.Errorf("unexpected sku %q", m.SKU)
		}
	}
}

// ---------------------------------------------------------------------------
// server wiring
// ---------------------------------------------------------------------------

func testApp() *app {
	tokens := auth.NewTokens([]byte("test-secret"), "hms", time.Hour)
	revoker := auth.NewMemoryRevoker()
	return &app{
		cfg:        &config.Config{Env: "development", RequestTimeout: time.Second},
		logger:     zerolog.Nop(),
		tokens:     tokens,
		revoker:    revoker,
		identity:   identity.NewService(nil, tokens, revoker),
		scheduling: scheduling.NewService(nil, nil, nil, nil, nil, nil, scheduling.Options{}),
		pharmacy:   pharmacy.NewService(nil, nil, nil, nil, nil, 0),
		billing:    billing.NewService(nil, nil, nil, nil, nil, nil),
		messaging:  messaging.NewService(nil, nil, nil),
		records:    records.NewService(nil, nil, nil, nil),
	}
}

func TestNewServer_RegistersDomainRoutes(t *testing.T) {
	e := newServer(testApp())

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /health",
		"GET /health/db",
		"POST /api/v1/user/patient/register",
		"POST /api/v1/user/login",
		"GET /api/v1/appointment/suggest",
		"POST /api/v1/appointment/book",
		"PUT /api/v1/appointment/update/:id",
		"PUT /api/v1/availability/:doctorId",
		"POST /api/v1/medicine",
		"POST /api/v1/medicine/:id/stock/add",
		"GET /api/v1/medicine/alerts/expiry",
		"POST /api/v1/medicine/sales",
		"GET /api/v1/medicine/sales",
		"PUT /api/v1/user/update",
		"POST /api/v1/user/patient/addnew",
		"GET /api/v1/user/doctor/:id",
		"PUT /api/v1/user/doctor/:id",
		"GET /api/v1/user/patients/appointments",
		"POST /api/v1/invoice",
		"PATCH /api/v1/invoice/:id",
		"POST /api/v1/message/send",
		"GET /api/v1/message/getall",
		"PUT /api/v1/message/mark-as-read/:id",
		"PUT /api/v1/message/mark-all-read",
		"DELETE /api/v1/message/delete/:id",
		"POST /api/v1/patient-record",
		"GET /api/v1/patient-record/:patientId",
		"POST /api/v1/patient-record/:patientId",
	} {
		if !routes[want] {
			t.Errorf("route %q not registered", want)
		}
	}
}

func TestNewServer_Health(t *testing.T) {
	e := newServer(testApp())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}
