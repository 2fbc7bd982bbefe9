package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// GetByID returns ErrNotFound when no patient has the id.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	// GetByID returns ErrNotFound when no staff member has the id.
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	// ListDoctors returns active physicians ordered by name.
	ListDoctors(ctx context.Context) ([]*Staff, error)
}
