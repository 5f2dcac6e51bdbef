package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/auth"
)

const minPasswordLength = 8

var (
	ErrUserNotFound       = apperr.NotFound("User not found")
	ErrDoctorNotFound     = apperr.NotFound("Doctor not found")
	ErrEmailTaken         = apperr.Invalid("User already registered!")
	ErrInvalidCredentials = apperr.Invalid("Invalid email or password!")
	ErrRoleMismatch       = apperr.Invalid("User with this role not found!")
	ErrIncompleteForm     = apperr.Invalid("Please fill full form!")
	ErrUserInUse          = apperr.Conflict("User has invoices and cannot be deleted")
)

// TokenIssuer signs access tokens for a user and role.
type TokenIssuer interface {
	Issue(userID, role string) (string, time.Time, error)
}

type Service struct {
	users    UserRepository
	tokens   TokenIssuer
	revoker  auth.Revoker
	hashCost int
	now      func() time.Time
}

func NewService(users UserRepository, tokens TokenIssuer, revoker auth.Revoker) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		revoker:  revoker,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// RegisterPatient creates a Patient account and signs the caller in.
func (s *Service) RegisterPatient(ctx context.Context, in AccountInput) (*Session, error) {
	u, err := s.createAccount(ctx, in, auth.RolePatient)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) AddDoctor(ctx context.Context, in AccountInput) (*User, error) {
	if strings.TrimSpace(in.Department) == "" {
		return nil, apperr.Invalid("Doctor department is required")
	}
	return s.createAccount(ctx, in, auth.RoleDoctor)
}

// AddPatient creates a Patient account on behalf of an admin. Unlike
// RegisterPatient no session is issued.
func (s *Service) AddPatient(ctx context.Context, in AccountInput) (*User, error) {
	return s.createAccount(ctx, in, auth.RolePatient)
}

func (s *Service) AddAdmin(ctx context.Context, in AccountInput) (*User, error) {
	return s.createAccount(ctx, in, auth.RoleAdmin)
}

func (s *Service) createAccount(ctx context.Context, in AccountInput, role string) (*User, error) {
	u := &User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     normalizeEmail(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Role:      role,
		Gender:    strings.TrimSpace(in.Gender),
	}
	if role == auth.RoleDoctor {
		u.Department = strings.TrimSpace(in.Department)
	}
	if u.FirstName == "" || u.LastName == "" || u.Email == "" || u.Phone == "" || in.Password == "" {
		return nil, ErrIncompleteForm
	}
	if !strings.Contains(u.Email, "@") {
		return nil, apperr.Invalid("Provide a valid email")
	}
	if in.DOB != "" {
		dob, err := parseDOB(in.DOB)
		if err != nil {
			return nil, apperr.Invalid("Invalid date of birth")
		}
		u.DOB = &dob
	}
	if err := s.setPassword(u, in.Password); err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) setPassword(u *User, password string) error {
	if len(password) < minPasswordLength {
		return apperr.Invalid(fmt.Sprintf("Password must contain at least %d characters", minPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

func parseDOB(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// Login verifies the password and that the account holds the requested role.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" || in.Role == "" {
		return nil, apperr.Invalid("Please provide all details!")
	}
	u, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Role != in.Role {
		return nil, ErrRoleMismatch
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID.String(), u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// Logout revokes the token identified by jti until it would have expired.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(24 * time.Hour)
	}
	return s.revoker.Revoke(ctx, jti, expiresAt)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetDoctor returns the user only when it is a Doctor account.
func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if u.Role != auth.RoleDoctor {
		return nil, ErrDoctorNotFound
	}
	return u, nil
}

// UpdateProfile applies a patient's changes to their own account.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.Department = ""
	return s.update(ctx, u, in)
}

// UpdateDoctor applies an admin's changes to a doctor account.
func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error) {
	u, err := s.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, u, in)
}

func (s *Service) update(ctx context.Context, u *User, in ProfileInput) (*User, error) {
	updated := *u
	setField(&updated.FirstName, in.FirstName)
	setField(&updated.LastName, in.LastName)
	setField(&updated.Phone, in.Phone)
	setField(&updated.Gender, in.Gender)
	setField(&updated.Department, in.Department)
	if email := normalizeEmail(in.Email); email != "" {
		if !strings.Contains(email, "@") {
			return nil, apperr.Invalid("Provide a valid email")
		}
		updated.Email = email
	}
	if in.DOB != "" {
		dob, err := parseDOB(strings.TrimSpace(in.DOB))
		if err != nil {
			return nil, apperr.Invalid("Invalid date of birth")
		}
		updated.DOB = &dob
	}
	if in.Password != "" {
		if err := s.setPassword(&updated, in.Password); err != nil {
			return nil, err
		}
	}
	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func setField(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func (s *Service) FindDoctors(ctx context.Context, firstName, lastName, department string) ([]*User, error) {
	return s.users.FindDoctors(ctx, strings.TrimSpace(firstName), strings.TrimSpace(lastName), strings.TrimSpace(department))
}

func (s *Service) ListDoctors(ctx context.Context, department string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, UserFilter{Role: auth.RoleDoctor, Department: department}, limit, offset)
}

func (s *Service) ListPatients(ctx context.Context, search string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, UserFilter{Role: auth.RolePatient, Search: search}, limit, offset)
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	ok, err := s.users.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}
