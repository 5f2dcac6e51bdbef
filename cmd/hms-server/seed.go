package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/domain/pharmacy"
	"github.com/cliniq/hms/internal/domain/scheduling"
)

var departments = []string{
	"Cardiology",
	"Dermatology",
	"ENT",
	"General Medicine",
	"Neurology",
	"Orthopedics",
	"Pediatrics",
	"Radiology",
}

var medicineCategories = []string{"Tablet", "Capsule", "Syrup", "Injection", "Cream", "Ointment", "Drops"}

var genericNames = []string{
	"Paracetamol", "Amoxicillin", "Ibuprofen", "Cetirizine", "Metformin",
	"Omeprazole", "Azithromycin", "Atorvastatin", "Amlodipine", "Salbutamol",
	"Diclofenac", "Pantoprazole", "Losartan", "Ciprofloxacin", "Ondansetron",
}

// seedDoctor is a doctor account together with its weekly availability.
type seedDoctor struct {
	Account identity.AccountInput
	Windows []scheduling.Window
}

type seedPlan struct {
	Admin     identity.AccountInput
	Doctors   []seedDoctor
	Patients  []identity.AccountInput
	Medicines []pharmacy.MedicineInput
}

type seedOptions struct {
	Seed      uint64
	Doctors   int
	Patients  int
	Medicines int
	Password  string
	AdminMail string
}

// planSeed generates the demo data set. The same seed always yields the
// same plan.
func planSeed(opts seedOptions, now time.Time) seedPlan {
	f := gofakeit.New(opts.Seed)

	plan := seedPlan{
		Admin: identity.AccountInput{
			FirstName: "Clinic",
			LastName:  "Admin",
			Email:     opts.AdminMail,
			Phone:     f.Phone(),
			Password:  opts.Password,
		},
	}

	for i := 0; i < opts.Doctors; i++ {
		acct := fakeAccount(f, "doctor", i, opts.Password)
		acct.Department = departments[f.Number(0, len(departments)-1)]
		plan.Doctors = append(plan.Doctors, seedDoctor{Account: acct, Windows: fakeWindows(f)})
	}

	for i := 0; i < opts.Patients; i++ {
		acct := fakeAccount(f, "patient", i, opts.Password)
		acct.DOB = f.DateRange(now.AddDate(-80, 0, 0), now.AddDate(-1, 0, 0)).Format("2006-01-02")
		plan.Patients = append(plan.Patients, acct)
	}

	for i := 0; i < opts.Medicines; i++ {
		plan.Medicines = append(plan.Medicines, fakeMedicine(f, i, now))
	}
	return plan
}

// fakeAccount keeps addresses unique within a plan by suffixing the index.
func fakeAccount(f *gofakeit.Faker, kind string, i int, password string) identity.AccountInput {
	first, last := f.FirstName(), f.LastName()
	return identity.AccountInput{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("%s.%s.%s%d@hms.test", strings.ToLower(first), strings.ToLower(last), kind, i+1),
		Phone:     f.Phone(),
		Password:  password,
		Gender:    f.Gender(),
	}
}

// fakeWindows gives a doctor a morning or afternoon shift on three to five
// weekdays.
func fakeWindows(f *gofakeit.Faker) []scheduling.Window {
	start, end := "09:00", "13:00"
	if f.Bool() {
		start, end = "14:00", "18:00"
	}
	slot := []int{15, 20, 30}[f.Number(0, 2)]
	days := f.Number(3, 5)

	windows := make([]scheduling.Window, 0, days)
	for d := 1; d <= days; d++ {
		windows = append(windows, scheduling.Window{Weekday: d, Start: start, End: end, SlotMinutes: slot})
	}
	return windows
}

func fakeMedicine(f *gofakeit.Faker, i int, now time.Time) pharmacy.MedicineInput {
	generic := genericNames[i%len(genericNames)]
	strength := []int{50, 100, 250, 500}[f.Number(0, 3)]
	cost := decimal.NewFromFloat(f.Price(1, 40)).Round(2)
	selling := cost.Mul(decimal.NewFromFloat(1.25)).Round(2)
	minStock := f.Number(5, 20)
	maxStock := minStock * 50
	expiry := now.AddDate(0, f.Number(1, 24), 0)
	purchased := now.AddDate(0, 0, -f.Number(1, 60))

	return pharmacy.MedicineInput{
		Name:         fmt.Sprintf("%s %dmg", generic, strength),
		GenericName:  generic,
		Brand:        f.Company(),
		Manufacturer: f.Company(),
		SKU:          fmt.Sprintf("MED-%04d", i+1),
		Category:     medicineCategories[f.Number(0, len(medicineCategories)-1)],
		CostPrice:    &cost,
		SellingPrice: &selling,
		MinimumStock: &minStock,
		MaximumStock: &maxStock,
		BatchInfo: &pharmacy.BatchInput{
			BatchNo:      fmt.Sprintf("B%d-%03d", now.Year(), f.Number(1, 999)),
			Quantity:     f.Number(minStock, maxStock/2),
			ExpiryDate:   &expiry,
			PurchaseDate: &purchased,
			Supplier:     f.Company(),
			CostPrice:    &cost,
			Reason:       "Opening stock",
		},
	}
}

func seedCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo users, availability and medicines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.Seed == 0 {
				opts.Seed = uint64(time.Now().UnixNano())
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			plan := planSeed(opts, time.Now())
			return a.seed(cmd.Context(), plan)
		},
	}
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed (0 picks one from the clock)")
	cmd.Flags().IntVar(&opts.Doctors, "doctors", 8, "number of doctors")
	cmd.Flags().IntVar(&opts.Patients, "patients", 50, "number of patients")
	cmd.Flags().IntVar(&opts.Medicines, "medicines", 30, "number of medicines")
	cmd.Flags().StringVar(&opts.Password, "password", "password123", "password for every seeded account")
	cmd.Flags().StringVar(&opts.AdminMail, "admin-email", "admin@hms.test", "admin account email")
	return cmd
}

// seed applies plan through the domain services. Accounts and SKUs that
// already exist are skipped.
func (a *app) seed(ctx context.Context, plan seedPlan) error {
	log := a.logger.With().Str("command", "seed").Logger()

	if _, err := a.identity.AddAdmin(ctx, plan.Admin); err != nil && !errors.Is(err, identity.ErrEmailTaken) {
		return fmt.Errorf("seed admin: %w", err)
	}

	doctors := 0
	for _, d := range plan.Doctors {
		u, err := a.identity.AddDoctor(ctx, d.Account)
		if errors.Is(err, identity.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed doctor %s: %w", d.Account.Email, err)
		}
		if _, err := a.scheduling.SetAvailability(ctx, u.ID, d.Windows); err != nil {
			return fmt.Errorf("seed availability for %s: %w", d.Account.Email, err)
		}
		doctors++
	}

	patients := 0
	for _, p := range plan.Patients {
		_, err := a.identity.RegisterPatient(ctx, p)
		if errors.Is(err, identity.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed patient %s: %w", p.Email, err)
		}
		patients++
	}

	medicines := 0
	for _, m := range plan.Medicines {
		_, err := a.pharmacy.Create(ctx, m, "seed")
		if errors.Is(err, pharmacy.ErrDuplicateSKU) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed medicine %s: %w", m.SKU, err)
		}
		medicines++
	}

	log.Info().
		Str("admin", plan.Admin.Email).
		Int("doctors", doctors).
		Int("patients", patients).
		Int("medicines", medicines).
		Msg("seed complete")
	return nil
}
