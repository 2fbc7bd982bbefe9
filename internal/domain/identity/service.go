package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/opd"
)

// Directory answers the queue's patient and doctor lookups from the
// registration tables.
type Directory struct {
	patients PatientRepository
	staff    StaffRepository
}

func NewDirectory(patients PatientRepository, staff StaffRepository) *Directory {
	return &Directory{patients: patients, staff: staff}
}

func (d *Directory) PatientSummary(ctx context.Context, id uuid.UUID) (*opd.PatientSummary, error) {
	p, err := d.patients.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &opd.PatientSummary{ID: p.ID, UHID: p.UHID, Name: p.Name, Gender: p.Gender, DOB: p.DOB}, nil
}

// Doctor resolves active physicians only; other staff and deactivated
// accounts are reported as absent.
func (d *Directory) Doctor(ctx context.Context, id uuid.UUID) (*opd.Doctor, error) {
	s, err := d.staff.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.IsDoctor() {
		return nil, nil
	}
	return toDoctor(s), nil
}

func (d *Directory) ListDoctors(ctx context.Context) ([]*opd.Doctor, error) {
	staff, err := d.staff.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*opd.Doctor, 0, len(staff))
	for _, s := range staff {
		out = append(out, toDoctor(s))
	}
	return out, nil
}

func toDoctor(s *Staff) *opd.Doctor {
	doc := &opd.Doctor{ID: s.ID, Name: s.Name}
	if s.Department != nil {
		doc.Department = *s.Department
	}
	return doc
}
