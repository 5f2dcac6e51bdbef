package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is any account: patient, doctor or admin.
type User struct {
	ID           uuid.UUID  `json:"id"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	Role         string     `json:"role"`
	Department   string     `json:"department,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	DOB          *time.Time `json:"dob,omitempty"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// AccountInput is the registration form shared by patients, doctors and
// admins. Department is required for doctors only.
type AccountInput struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	Gender     string `json:"gender"`
	DOB        string `json:"dob"`
	Department string `json:"department"`
}

// ProfileInput is a partial account update. Empty fields are left
// unchanged. Department only applies to doctors.
type ProfileInput struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	Gender     string `json:"gender"`
	DOB        string `json:"dob"`
	Department string `json:"department"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Session is returned by login and registration.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

// UserFilter narrows List. Empty fields match everything.
type UserFilter struct {
	Role       string
	Department string
	Search     string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
