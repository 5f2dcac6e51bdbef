package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Update writes profile fields and the password hash. Role is fixed.
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error)
	FindDoctors(ctx context.Context, firstName, lastName, department string) ([]*User, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
