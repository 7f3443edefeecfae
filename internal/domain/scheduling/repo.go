package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository stores appointments. Implementations join the
// transaction carried by ctx when there is one.
type AppointmentRepository interface {
	// Create inserts a with the token and status already set. A second
	// active booking of the same doctor, date and slot is a Conflict.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// NextToken atomically issues the next token of the doctor's day. Inside
	// a transaction it holds the day's counter until commit.
	NextToken(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
	SlotTaken(ctx context.Context, doctorID uuid.UUID, date time.Time, slot string) (bool, error)
	CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
	BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*Appointment, error)
	// UpdateStatus moves the appointment from one status to another and
	// fails with Conflict when it is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes *string) (*Appointment, error)
}

// Directory resolves the people taking part in a booking.
type Directory interface {
	DoctorAvailability(ctx context.Context, doctorID uuid.UUID) (*DoctorAvailability, error)
	DoctorIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	PatientIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier delivers queue events without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, typ, topic, resourceID string, payload any)
}
