package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/scheduling"
)

// RecordRepository stores medical records and their lab tests.
type RecordRepository interface {
	// Create inserts rec and its lab tests. A second record for the same
	// appointment is a Conflict.
	Create(ctx context.Context, rec *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, rec *MedicalRecord) error
	AddLabTests(ctx context.Context, recordID uuid.UUID, tests []*LabTest) error
	GetLabTest(ctx context.Context, recordID, testID uuid.UUID) (*LabTest, error)
	// AdvanceLabTest moves a test from one status to another and fails with
	// Conflict when it is no longer in from.
	AdvanceLabTest(ctx context.Context, recordID, testID uuid.UUID, from, to LabTestStatus, completedAt *time.Time) (*LabTest, error)
	PendingLabTests(ctx context.Context, limit int) ([]*PendingLabTest, error)
}

type LabReportRepository interface {
	Create(ctx context.Context, r *LabReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*LabReport, error)
}

// Appointments is the part of the booking engine a consultation needs.
type Appointments interface {
	Appointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	Authorize(ctx context.Context, userID uuid.UUID, a *scheduling.Appointment) error
	DoctorFor(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	CompleteViaRecord(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	PublishQueueUpdated(ctx context.Context, a *scheduling.Appointment)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Notifier interface {
	Notify(ctx context.Context, typ, topic, resourceID string, payload any)
}
