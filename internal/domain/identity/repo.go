package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	// Create fails with Conflict when the email is taken.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

type PatientRepository interface {
	// Create fails with Conflict when the user already has a profile.
	Create(ctx context.Context, p *Patient) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	SetStatus(ctx context.Context, id uuid.UUID, status DoctorStatus) (*Doctor, error)
	// List returns doctors in status, optionally narrowed to one
	// specialization, ordered by name.
	List(ctx context.Context, status DoctorStatus, specialization string, limit int) ([]*Doctor, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
