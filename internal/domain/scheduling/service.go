package scheduling

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/events"
)

// patientHistoryLimit caps a patient's own appointment list.
const patientHistoryLimit = 100

// Policy holds the booking checks that can be switched off.
type Policy struct {
	Interval    time.Duration
	EnforceGrid bool
	EnforceCap  bool
}

func DefaultPolicy() Policy {
	return Policy{Interval: DefaultSlotInterval, EnforceGrid: true, EnforceCap: true}
}

type Service struct {
	appointments AppointmentRepository
	directory    Directory
	tx           Transactor
	notifier     Notifier
	policy       Policy
	loc          *time.Location
	now          func() time.Time
}

func NewService(appt AppointmentRepository, dir Directory, tx Transactor, notifier Notifier, policy Policy, loc *time.Location) *Service {
	if policy.Interval <= 0 {
		policy.Interval = DefaultSlotInterval
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appointments: appt,
		directory:    dir,
		tx:           tx,
		notifier:     notifier,
		policy:       policy,
		loc:          loc,
		now:          time.Now,
	}
}

// Today is the current calendar day in the clinic's time zone.
func (s *Service) Today() time.Time {
	return DayOf(s.now(), s.loc)
}

func (s *Service) dayOrToday(date time.Time) time.Time {
	if date.IsZero() {
		return s.Today()
	}
	return date
}

func (s *Service) publish(ctx context.Context, typ string, a *Appointment) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, typ, events.DoctorTopic(a.DoctorID), a.ID.String(), a)
}

// PublishQueueUpdated tells the appointment's doctor that the queue changed.
// Callers that change status inside their own transaction call it after commit.
func (s *Service) PublishQueueUpdated(ctx context.Context, a *Appointment) {
	s.publish(ctx, events.TypeQueueUpdated, a)
}

// DoctorFor returns the doctor profile id of a user.
func (s *Service) DoctorFor(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.directory.DoctorIDForUser(ctx, userID)
}

// -- Status transitions --

// UpdateStatus applies a doctor's explicit status change to one of their
// appointments.
func (s *Service) UpdateStatus(ctx context.Context, userID, id uuid.UUID, to Status, notes *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("invalid status %q", to)
	}
	if to == StatusCompleted {
		return nil, apperr.Invalid("appointments are completed by recording a checkup")
	}

	doctorID, err := s.directory.DoctorIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != doctorID {
		return nil, apperr.Forbidden("appointment belongs to another doctor")
	}
	if !CanTransition(a.Status, to) {
		return nil, apperr.Invalid("cannot move appointment from %s to %s", a.Status, to)
	}

	updated, err := s.appointments.UpdateStatus(ctx, id, a.Status, to, notes)
	if err != nil {
		return nil, err
	}
	s.PublishQueueUpdated(ctx, updated)
	return updated, nil
}

// CancelAppointment lets a patient cancel their own booking while it is
// still pending.
func (s *Service) CancelAppointment(ctx context.Context, userID, id uuid.UUID) (*Appointment, error) {
	patientID, err := s.directory.PatientIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, apperr.Forbidden("appointment belongs to another patient")
	}
	if a.Status != StatusPending {
		return nil, apperr.Invalid("only pending appointments can be cancelled")
	}

	updated, err := s.appointments.UpdateStatus(ctx, id, StatusPending, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	s.PublishQueueUpdated(ctx, updated)
	return updated, nil
}

// CompleteViaRecord closes an appointment because its checkup was recorded.
// It does not publish; the caller does so once its transaction commits.
func (s *Service) CompleteViaRecord(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanComplete(a.Status) {
		return nil, apperr.Invalid("a %s appointment cannot be completed", a.Status)
	}
	return s.appointments.UpdateStatus(ctx, id, a.Status, StatusCompleted, nil)
}

// -- Reads --

// Appointment returns an appointment without access checks.
func (s *Service) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// Authorize allows admins, the appointment's patient and its doctor.
func (s *Service) Authorize(ctx context.Context, userID uuid.UUID, a *Appointment) error {
	if slices.Contains(auth.RolesFromContext(ctx), auth.RoleAdmin) {
		return nil
	}
	if id, err := s.directory.PatientIDForUser(ctx, userID); err == nil && id == a.PatientID {
		return nil
	} else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if id, err := s.directory.DoctorIDForUser(ctx, userID); err == nil && id == a.DoctorID {
		return nil
	} else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.Forbidden("not allowed to view this appointment")
}

func (s *Service) GetAppointment(ctx context.Context, userID, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(ctx, userID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DoctorAppointments lists the calling doctor's appointments for date in
// slot order. A zero date means today.
func (s *Service) DoctorAppointments(ctx context.Context, userID uuid.UUID, date time.Time) ([]*Appointment, error) {
	doctorID, err := s.directory.DoctorIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByDoctorDate(ctx, doctorID, s.dayOrToday(date))
}

// DoctorQueue projects the calling doctor's live queue for date.
func (s *Service) DoctorQueue(ctx context.Context, userID uuid.UUID, date time.Time) (*Queue, error) {
	date = s.dayOrToday(date)
	appts, err := s.DoctorAppointments(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	q := ProjectQueue(appts)
	q.Date = dateString(date)
	return &q, nil
}

func (s *Service) DoctorStats(ctx context.Context, userID uuid.UUID, date time.Time) (*Stats, error) {
	date = s.dayOrToday(date)
	appts, err := s.DoctorAppointments(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	st := CountStatuses(appts)
	st.Date = dateString(date)
	return &st, nil
}

// PatientAppointments returns the calling patient's bookings, newest first.
func (s *Service) PatientAppointments(ctx context.Context, userID uuid.UUID) ([]*Appointment, error) {
	patientID, err := s.directory.PatientIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.appointments.ListByPatient(ctx, patientID, patientHistoryLimit)
}
