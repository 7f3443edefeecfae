package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// =========== Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const recordCols = `id, appointment_id, patient_id, doctor_id, symptoms, diagnosis, notes,
	prescriptions, vital_signs, follow_up_date, created_at, updated_at`

const labTestCols = `id, record_id, test_name, status, requested_at, completed_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	err := row.Scan(&rec.ID, &rec.AppointmentID, &rec.PatientID, &rec.DoctorID, &rec.Symptoms,
		&rec.Diagnosis, &rec.Notes, &rec.Prescriptions, &rec.VitalSigns, &rec.FollowUpDate,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("medical record not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan medical record: %w", err)
	}
	return &rec, nil
}

func scanLabTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.RecordID, &t.TestName, &t.Status, &t.RequestedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lab test not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan lab test: %w", err)
	}
	return &t, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (id, appointment_id, patient_id, doctor_id, symptoms, diagnosis, notes,
			prescriptions, vital_signs, follow_up_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		rec.ID, rec.AppointmentID, rec.PatientID, rec.DoctorID, rec.Symptoms, rec.Diagnosis, rec.Notes,
		rec.Prescriptions, rec.VitalSigns, rec.FollowUpDate).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("medical record already exists for this appointment")
	}
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return r.AddLabTests(ctx, rec.ID, rec.LabTests)
}

func (r *recordRepoPG) withLabTests(ctx context.Context, rec *MedicalRecord, err error) (*MedicalRecord, error) {
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+labTestCols+` FROM lab_tests WHERE record_id = $1 ORDER BY requested_at, id`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("list lab tests: %w", err)
	}
	defer rows.Close()

	rec.LabTests = []*LabTest{}
	for rows.Next() {
		t, err := scanLabTest(rows)
		if err != nil {
			return nil, err
		}
		rec.LabTests = append(rec.LabTests, t)
	}
	return rec, rows.Err()
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_records WHERE id = $1`, id))
	return r.withLabTests(ctx, rec, err)
}

func (r *recordRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_records WHERE appointment_id = $1`, appointmentID))
	return r.withLabTests(ctx, rec, err)
}

func (r *recordRepoPG) Update(ctx context.Context, rec *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_records SET symptoms=$2, diagnosis=$3, notes=$4, prescriptions=$5,
			vital_signs=$6, follow_up_date=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.Symptoms, rec.Diagnosis, rec.Notes, rec.Prescriptions,
		rec.VitalSigns, rec.FollowUpDate).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("medical record not found")
	}
	if err != nil {
		return fmt.Errorf("update medical record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) AddLabTests(ctx context.Context, recordID uuid.UUID, tests []*LabTest) error {
	if len(tests) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tests {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.RecordID = recordID
		batch.Queue(`INSERT INTO lab_tests (id, record_id, test_name, status, requested_at) VALUES ($1,$2,$3,$4,$5)`,
			t.ID, t.RecordID, t.TestName, t.Status, t.RequestedAt)
	}
	if err := r.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert lab tests: %w", err)
	}
	return nil
}

func (r *recordRepoPG) GetLabTest(ctx context.Context, recordID, testID uuid.UUID) (*LabTest, error) {
	return scanLabTest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+labTestCols+` FROM lab_tests WHERE record_id = $1 AND id = $2`, recordID, testID))
}

func (r *recordRepoPG) AdvanceLabTest(ctx context.Context, recordID, testID uuid.UUID, from, to LabTestStatus, completedAt *time.Time) (*LabTest, error) {
	t, err := scanLabTest(r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_tests SET status = $4, completed_at = COALESCE($5, completed_at)
		WHERE record_id = $1 AND id = $2 AND status = $3
		RETURNING `+labTestCols, recordID, testID, from, to, completedAt))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Conflict("lab test is no longer %s", from)
	}
	return t, err
}

func (r *recordRepoPG) PendingLabTests(ctx context.Context, limit int) ([]*PendingLabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.appointment_id, m.patient_id, COALESCE(p.name, ''), COALESCE(d.name, ''),
			t.id, t.record_id, t.test_name, t.status, t.requested_at, t.completed_at
		FROM lab_tests t
		JOIN medical_records m ON m.id = t.record_id
		LEFT JOIN patients p ON p.id = m.patient_id
		LEFT JOIN doctors d ON d.id = m.doctor_id
		WHERE t.status <> 'completed'
		ORDER BY t.requested_at, t.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending lab tests: %w", err)
	}
	defer rows.Close()

	out := []*PendingLabTest{}
	for rows.Next() {
		var p PendingLabTest
		var t LabTest
		if err := rows.Scan(&p.RecordID, &p.AppointmentID, &p.PatientID, &p.PatientName, &p.DoctorName,
			&t.ID, &t.RecordID, &t.TestName, &t.Status, &t.RequestedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan pending lab test: %w", err)
		}
		p.LabTest = &t
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =========== Lab Report Repository ===========

type labReportRepoPG struct{ pool *pgxpool.Pool }

func NewLabReportRepoPG(pool *pgxpool.Pool) LabReportRepository { return &labReportRepoPG{pool: pool} }

func (r *labReportRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const reportCols = `id, record_id, lab_test_id, appointment_id, patient_id, test_name, test_date,
	result, normal_range, remarks, uploaded_by, blob_id, file_name, content_type, size_bytes, created_at`

func scanReport(row pgx.Row) (*LabReport, error) {
	var lr LabReport
	err := row.Scan(&lr.ID, &lr.RecordID, &lr.LabTestID, &lr.AppointmentID, &lr.PatientID, &lr.TestName,
		&lr.TestDate, &lr.Result, &lr.NormalRange, &lr.Remarks, &lr.UploadedBy, &lr.BlobID, &lr.FileName,
		&lr.ContentType, &lr.Size, &lr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lab report not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan lab report: %w", err)
	}
	return &lr, nil
}

func (r *labReportRepoPG) Create(ctx context.Context, lr *LabReport) error {
	if lr.ID == uuid.Nil {
		lr.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_reports (id, record_id, lab_test_id, appointment_id, patient_id, test_name, test_date,
			result, normal_range, remarks, uploaded_by, blob_id, file_name, content_type, size_bytes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`,
		lr.ID, lr.RecordID, lr.LabTestID, lr.AppointmentID, lr.PatientID, lr.TestName, lr.TestDate,
		lr.Result, lr.NormalRange, lr.Remarks, lr.UploadedBy, lr.BlobID, lr.FileName, lr.ContentType,
		lr.Size).Scan(&lr.CreatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("a report was already uploaded for this lab test")
	}
	if err != nil {
		return fmt.Errorf("insert lab report: %w", err)
	}
	return nil
}

func (r *labReportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error) {
	return scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM lab_reports WHERE id = $1`, id))
}

func (r *labReportRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*LabReport, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reportCols+` FROM lab_reports WHERE record_id = $1 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list lab reports: %w", err)
	}
	defer rows.Close()

	var out []*LabReport
	for rows.Next() {
		lr, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}
