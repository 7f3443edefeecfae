package clinical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/events"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type Service struct {
	records      RecordRepository
	reports      LabReportRepository
	appointments Appointments
	tx           Transactor
	blobs        blobstore.BlobStore
	notifier     Notifier
	now          func() time.Time
}

func NewService(records RecordRepository, reports LabReportRepository, appts Appointments, tx Transactor, blobs blobstore.BlobStore, notifier Notifier) *Service {
	return &Service{
		records:      records,
		reports:      reports,
		appointments: appts,
		tx:           tx,
		blobs:        blobs,
		notifier:     notifier,
		now:          time.Now,
	}
}

func isLabStaff(ctx context.Context) bool {
	roles := auth.RolesFromContext(ctx)
	return slices.Contains(roles, auth.RoleLabStaff) || slices.Contains(roles, auth.RoleAdmin)
}

// doctorOf resolves the caller's doctor id. Callers without a doctor
// profile are refused.
func (s *Service) doctorOf(ctx context.Context, userID uuid.UUID, action string) (uuid.UUID, error) {
	id, err := s.appointments.DoctorFor(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return uuid.Nil, apperr.Forbidden("not authorized to %s", action)
	}
	return id, err
}

func (s *Service) publishLabTest(ctx context.Context, rec *MedicalRecord, t *LabTest) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, events.TypeLabTestUpdated, events.DoctorTopic(rec.DoctorID), t.ID.String(), t)
}

// -- Medical records --

// CreateMedicalRecord records the consultation for an appointment and
// completes the appointment in the same transaction.
func (s *Service) CreateMedicalRecord(ctx context.Context, userID, appointmentID uuid.UUID, in RecordInput) (*MedicalRecord, error) {
	a, err := s.appointments.Appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	doctorID, err := s.doctorOf(ctx, userID, "create a medical record for this appointment")
	if err != nil {
		return nil, err
	}
	if doctorID != a.DoctorID {
		return nil, apperr.Forbidden("not authorized to create a medical record for this appointment")
	}
	if _, err := s.records.GetByAppointment(ctx, appointmentID); err == nil {
		return nil, apperr.Conflict("medical record already exists for this appointment")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	rec, err := in.build(s.now().UTC())
	if err != nil {
		return nil, err
	}
	rec.AppointmentID = a.ID
	rec.PatientID = a.PatientID
	rec.DoctorID = a.DoctorID

	var completed = a
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return err
		}
		done, err := s.appointments.CompleteViaRecord(ctx, a.ID)
		if err != nil {
			return err
		}
		completed = done
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.appointments.PublishQueueUpdated(ctx, completed)
	return rec, nil
}

// GetRecordByAppointment returns the record with its lab reports to the
// appointment's patient or doctor, lab staff and admins.
func (s *Service) GetRecordByAppointment(ctx context.Context, userID, appointmentID uuid.UUID) (*MedicalRecord, error) {
	a, err := s.appointments.Appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !isLabStaff(ctx) {
		if err := s.appointments.Authorize(ctx, userID, a); err != nil {
			return nil, err
		}
	}
	rec, err := s.records.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if rec.LabReports, err = s.reports.ListByRecord(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateMedicalRecord lets the record's doctor amend it and request more
// lab tests.
func (s *Service) UpdateMedicalRecord(ctx context.Context, userID, recordID uuid.UUID, upd RecordUpdate) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	doctorID, err := s.doctorOf(ctx, userID, "update this medical record")
	if err != nil {
		return nil, err
	}
	if doctorID != rec.DoctorID {
		return nil, apperr.Forbidden("not authorized to update this medical record")
	}
	added, err := upd.apply(rec, s.now().UTC())
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Update(ctx, rec); err != nil {
			return err
		}
		return s.records.AddLabTests(ctx, rec.ID, added)
	})
	if err != nil {
		return nil, err
	}
	rec.LabTests = append(rec.LabTests, added...)
	return rec, nil
}

// -- Lab work --

// PendingLabTests lists tests not yet completed, oldest request first.
func (s *Service) PendingLabTests(ctx context.Context, limit int) ([]*PendingLabTest, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	limit = min(limit, maxPendingLimit)
	return s.records.PendingLabTests(ctx, limit)
}

// UpdateLabTestStatus moves a lab test forward through its workflow.
func (s *Service) UpdateLabTestStatus(ctx context.Context, recordID, testID uuid.UUID, to LabTestStatus) (*LabTest, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("invalid lab test status %q", to)
	}
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	t, err := s.records.GetLabTest(ctx, recordID, testID)
	if err != nil {
		return nil, err
	}
	if !CanAdvance(t.Status, to) {
		return nil, apperr.Invalid("lab test cannot move from %s to %s", t.Status, to)
	}
	var completedAt *time.Time
	if to == LabCompleted {
		now := s.now().UTC()
		completedAt = &now
	}
	updated, err := s.records.AdvanceLabTest(ctx, recordID, testID, t.Status, to, completedAt)
	if err != nil {
		return nil, err
	}
	s.publishLabTest(ctx, rec, updated)
	return updated, nil
}

// UploadLabReport stores the report file and completes its lab test. The
// stored file is removed again when the report cannot be saved.
func (s *Service) UploadLabReport(ctx context.Context, userID, recordID, testID uuid.UUID, meta ReportMeta, file blobstore.Metadata, content io.Reader) (*LabReport, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	t, err := s.records.GetLabTest(ctx, recordID, testID)
	if err != nil {
		return nil, err
	}
	if t.Status == LabCompleted {
		return nil, apperr.Conflict("lab test is already completed")
	}

	now := s.now().UTC()
	testDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d := strings.TrimSpace(meta.TestDate); d != "" {
		if testDate, err = time.Parse(time.DateOnly, d); err != nil {
			return nil, apperr.Invalid("invalid test date %q, expected YYYY-MM-DD", d)
		}
	}
	testName := strings.TrimSpace(meta.TestName)
	if testName == "" {
		testName = t.TestName
	}

	stored, err := s.blobs.Put(ctx, file, content)
	if err != nil {
		return nil, blobError(err)
	}

	report := &LabReport{
		RecordID:      rec.ID,
		LabTestID:     t.ID,
		AppointmentID: rec.AppointmentID,
		PatientID:     rec.PatientID,
		TestName:      testName,
		TestDate:      testDate,
		Result:        strings.TrimSpace(meta.Result),
		NormalRange:   strings.TrimSpace(meta.NormalRange),
		Remarks:       strings.TrimSpace(meta.Remarks),
		UploadedBy:    userID,
		BlobID:        stored.ID,
		FileName:      stored.FileName,
		ContentType:   stored.ContentType,
		Size:          stored.Size,
	}
	var completed *LabTest
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.reports.Create(ctx, report); err != nil {
			return err
		}
		done, err := s.records.AdvanceLabTest(ctx, recordID, testID, t.Status, LabCompleted, &now)
		if err != nil {
			return err
		}
		completed = done
		return nil
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, stored.ID); delErr != nil {
			log.Warn().Err(delErr).Str("blob_id", stored.ID).Msg("failed to remove orphaned lab report file")
		}
		return nil, err
	}
	s.publishLabTest(ctx, rec, completed)
	return report, nil
}

// OpenLabReport returns the report and its file. The caller closes the reader.
func (s *Service) OpenLabReport(ctx context.Context, userID, reportID uuid.UUID) (*LabReport, io.ReadCloser, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	if !isLabStaff(ctx) {
		a, err := s.appointments.Appointment(ctx, report.AppointmentID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.appointments.Authorize(ctx, userID, a); err != nil {
			return nil, nil, err
		}
	}
	rc, _, err := s.blobs.Open(ctx, report.BlobID)
	if err != nil {
		return nil, nil, blobError(err)
	}
	return report, rc, nil
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return apperr.NotFound("report file not found")
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrMissingFileName):
		return apperr.Invalid("%s", err.Error())
	default:
		return fmt.Errorf("report storage: %w", err)
	}
}
