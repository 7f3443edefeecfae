package scheduling

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

const (
	activeSlotIndex  = "appointments_active_slot_key"
	tokenUniqueIndex = "appointments_doctor_day_token_key"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `a.id, a.patient_id, a.doctor_id, a.appointment_date, a.slot, a.token_number,
	a.status, a.symptoms, a.notes, COALESCE(p.name, ''), COALESCE(d.name, ''), a.created_at, a.updated_at`

const apptJoins = ` LEFT JOIN patients p ON p.id = a.patient_id LEFT JOIN doctors d ON d.id = a.doctor_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Slot, &a.TokenNumber,
		&a.Status, &a.Symptoms, &a.Notes, &a.PatientName, &a.DoctorName, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, slot, token_number, status, symptoms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Slot, a.TokenNumber, a.Status, a.Symptoms,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case activeSlotIndex:
			return apperr.Conflict("this time slot is already booked")
		case tokenUniqueIndex:
			return apperr.Conflict("token %d already issued for this day", a.TokenNumber)
		}
		return apperr.Conflict("appointment already exists")
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments a`+apptJoins+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) NextToken(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var token int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_token_counters (doctor_id, day, last_token)
		VALUES ($1, $2, 1)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET last_token = appointment_token_counters.last_token + 1
		RETURNING last_token`, doctorID, date).Scan(&token)
	if err != nil {
		return 0, fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (r *appointmentRepoPG) SlotTaken(ctx context.Context, doctorID uuid.UUID, date time.Time, slot string) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND appointment_date = $2 AND slot = $3 AND status <> 'cancelled'
		)`, doctorID, date, slot).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func (r *appointmentRepoPG) CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> 'cancelled'`,
		doctorID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> 'cancelled'
		ORDER BY slot`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	slots, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	return slots, nil
}

func (r *appointmentRepoPG) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointments a`+apptJoins+`
		WHERE a.doctor_id = $1 AND a.appointment_date = $2
		ORDER BY a.slot, a.token_number`, doctorID, date)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointments a`+apptJoins+`
		WHERE a.patient_id = $1
		ORDER BY a.appointment_date DESC, a.slot DESC
		LIMIT $2`, patientID, limit)
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...any) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes *string) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments
			SET status = $3, notes = COALESCE($4, notes), updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING *
		)
		SELECT `+apptCols+` FROM a`+apptJoins, id, from, to, notes))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Conflict("appointment is no longer %s", from)
	}
	return a, err
}
