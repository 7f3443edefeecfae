package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/scheduling"
)

// Directory answers the booking engine's questions about doctors and
// patients from the profile tables.
type Directory struct {
	patients PatientRepository
	doctors  DoctorRepository
}

var _ scheduling.Directory = (*Directory)(nil)

func NewDirectory(patients PatientRepository, doctors DoctorRepository) *Directory {
	return &Directory{patients: patients, doctors: doctors}
}

func (d *Directory) DoctorAvailability(ctx context.Context, doctorID uuid.UUID) (*scheduling.DoctorAvailability, error) {
	doc, err := d.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return &scheduling.DoctorAvailability{
		DoctorID: doc.ID,
		Name:     doc.Name,
		Active:   doc.Status == DoctorActive,
		Timings:  doc.OPDTimings,
	}, nil
}

func (d *Directory) DoctorIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	doc, err := d.doctors.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

func (d *Directory) PatientIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	p, err := d.patients.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}
