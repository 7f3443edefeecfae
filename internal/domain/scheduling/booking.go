package scheduling

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/events"
)

// CreateAppointment books a slot for the calling patient and issues the
// day's next token.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.DoctorID == uuid.Nil {
		return nil, apperr.Invalid("doctorId is required")
	}
	if req.Date.IsZero() {
		return nil, apperr.Invalid("appointmentDate is required")
	}
	if _, err := ParseClock(req.Slot); err != nil {
		return nil, err
	}

	patientID, err := s.directory.PatientIDForUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.directory.DoctorAvailability(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, apperr.NotFound("doctor is not available")
	}

	appt := &Appointment{
		PatientID:  patientID,
		DoctorID:   doctor.DoctorID,
		Date:       req.Date,
		Slot:       req.Slot,
		Status:     StatusPending,
		Symptoms:   strings.TrimSpace(req.Symptoms),
		DoctorName: doctor.Name,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		// Taking the counter first holds the doctor's day until commit, so
		// the checks below see every earlier booking.
		token, err := s.appointments.NextToken(ctx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}

		taken, err := s.appointments.SlotTaken(ctx, appt.DoctorID, appt.Date, appt.Slot)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("this time slot is already booked")
		}

		timing, ok := TimingFor(doctor.Timings, appt.Date)
		if !ok {
			return apperr.Invalid("doctor is not available on %s", Weekday(appt.Date))
		}
		if err := s.checkPolicy(ctx, timing, appt); err != nil {
			return err
		}

		appt.TokenNumber = token
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeNewAppointment, appt)
	return appt, nil
}

func (s *Service) checkPolicy(ctx context.Context, timing OPDTiming, appt *Appointment) error {
	if s.policy.EnforceGrid {
		grid, err := SlotsBetween(timing.StartTime, timing.EndTime, s.policy.Interval)
		if err != nil {
			return err
		}
		if !slices.Contains(slices.Collect(grid), appt.Slot) {
			return apperr.Invalid("slot %s is outside the doctor's %s hours", appt.Slot, timing.Day)
		}
	}
	if s.policy.EnforceCap && timing.MaxPatients > 0 {
		n, err := s.appointments.CountActive(ctx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}
		if n >= timing.MaxPatients {
			return apperr.Conflict("doctor is fully booked on %s", dateString(appt.Date))
		}
	}
	return nil
}

// AvailableSlots returns a doctor's slot grid for date and the slots
// already booked. A day without OPD hours has no slots.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (*AvailableSlots, error) {
	doctor, err := s.directory.DoctorAvailability(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	out := &AvailableSlots{
		Day:         Weekday(date),
		Date:        dateString(date),
		Slots:       []string{},
		BookedSlots: []string{},
	}
	timing, ok := TimingFor(doctor.Timings, date)
	if !ok {
		return out, nil
	}

	slots, err := SlotsFor(timing, s.policy.Interval)
	if err != nil {
		return nil, err
	}
	booked, err := s.appointments.BookedSlots(ctx, doctor.DoctorID, date)
	if err != nil {
		return nil, err
	}
	if slots != nil {
		out.Slots = slots
	}
	if booked != nil {
		out.BookedSlots = booked
	}
	return out, nil
}
