package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Role).Scan(&u.CreatedAt, &u.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("a user with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at, updated_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const patientCols = `id, user_id, name, age, gender, phone, email, address, blood_group,
	medical_history, allergies, emergency_contact, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.Email, &p.Address,
		&p.BloodGroup, &p.MedicalHistory, &p.Allergies, &p.EmergencyContact, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, name, age, gender, phone, email, address, blood_group,
			medical_history, allergies, emergency_contact)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.Name, p.Age, p.Gender, p.Phone, p.Email, p.Address, p.BloodGroup,
		p.MedicalHistory, p.Allergies, p.EmergencyContact).Scan(&p.CreatedAt, &p.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("patient profile already exists")
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE user_id = $1`, userID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET name=$2, age=$3, gender=$4, phone=$5, email=$6, address=$7,
			blood_group=$8, medical_history=$9, allergies=$10, emergency_contact=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.Email, p.Address,
		p.BloodGroup, p.MedicalHistory, p.Allergies, p.EmergencyContact).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("patient profile not found")
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const doctorCols = `id, user_id, name, specialization, qualification, experience, phone, email,
	opd_timings, consultation_fee, status, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Specialization, &d.Qualification, &d.Experience,
		&d.Phone, &d.Email, &d.OPDTimings, &d.ConsultationFee, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan doctor: %w", err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, name, specialization, qualification, experience, phone, email,
			opd_timings, consultation_fee, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.Name, d.Specialization, d.Qualification, d.Experience, d.Phone, d.Email,
		d.OPDTimings, d.ConsultationFee, d.Status).Scan(&d.CreatedAt, &d.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("doctor profile already exists for this user")
	}
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE user_id = $1`, userID))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET name=$2, specialization=$3, qualification=$4, experience=$5, phone=$6,
			email=$7, opd_timings=$8, consultation_fee=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Specialization, d.Qualification, d.Experience, d.Phone,
		d.Email, d.OPDTimings, d.ConsultationFee).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("doctor not found")
	}
	if err != nil {
		return fmt.Errorf("update doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status DoctorStatus) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET status = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+doctorCols, id, status))
}

func (r *doctorRepoPG) List(ctx context.Context, status DoctorStatus, specialization string, limit int) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+doctorCols+` FROM doctors
		WHERE status = $1 AND ($2::text = '' OR specialization ILIKE $2::text)
		ORDER BY name
		LIMIT $3`, status, specialization, limit)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
