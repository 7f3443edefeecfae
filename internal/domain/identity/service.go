package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

const doctorListLimit = 100

type Service struct {
	users      UserRepository
	patients   PatientRepository
	doctors    DoctorRepository
	tx         Transactor
	bcryptCost int
}

func NewService(users UserRepository, patients PatientRepository, doctors DoctorRepository, tx Transactor) *Service {
	return &Service{users: users, patients: patients, doctors: doctors, tx: tx, bcryptCost: bcrypt.DefaultCost}
}

func (s *Service) hashPassword(pw string) (string, error) {
	if err := validatePassword(pw); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// -- Accounts --

// Register creates a self-service account. Doctors are created by an admin
// through CreateDoctor.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	role := req.Role
	if role == "" {
		role = auth.RolePatient
	}
	if !slices.Contains(selfRoles, role) {
		return nil, apperr.Forbidden("role %q cannot self-register", role)
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword replaces a user's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return apperr.Forbidden("current password is incorrect")
	}
	hash, err := s.hashPassword(next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// Me returns the caller's account with the profile matching their role.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Account, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	acct := &Account{User: u, Profile: NoProfile()}

	switch u.Role {
	case auth.RolePatient:
		p, err := s.patients.GetByUserID(ctx, userID)
		if err == nil {
			acct.Profile = PatientProfile(p)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	case auth.RoleDoctor:
		d, err := s.doctors.GetByUserID(ctx, userID)
		if err == nil {
			acct.Profile = DoctorProfile(d)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	return acct, nil
}

// -- Patient profile --

func (s *Service) CreatePatientProfile(ctx context.Context, userID uuid.UUID, p *Patient) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != auth.RolePatient {
		return apperr.Forbidden("only patient accounts have a patient profile")
	}
	if _, err := s.patients.GetByUserID(ctx, userID); err == nil {
		return apperr.Conflict("patient profile already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	p.ID = uuid.Nil
	p.UserID = userID
	if strings.TrimSpace(p.Email) == "" {
		p.Email = u.Email
	}
	if err := p.validate(); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatientProfile(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) UpdatePatientProfile(ctx context.Context, userID uuid.UUID, upd PatientUpdate) (*Patient, error) {
	p, err := s.patients.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	upd.apply(p)
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// -- Doctors --

// CreateDoctor creates the doctor's login and profile together.
func (s *Service) CreateDoctor(ctx context.Context, req CreateDoctorRequest) (*Doctor, error) {
	d := &Doctor{
		Name:            req.Name,
		Specialization:  req.Specialization,
		Qualification:   req.Qualification,
		Experience:      req.Experience,
		Phone:           req.Phone,
		Email:           req.Email,
		OPDTimings:      req.OPDTimings,
		ConsultationFee: req.ConsultationFee,
		Status:          req.Status,
	}
	if d.Status == "" {
		d.Status = DoctorActive
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		u := &User{Email: d.Email, PasswordHash: hash, Role: auth.RoleDoctor}
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		d.UserID = u.ID
		return s.doctors.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctorByUser(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	upd.apply(d)
	if err := d.validate(); err != nil {
		return nil, err
	}
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) SetDoctorStatus(ctx context.Context, id uuid.UUID, status DoctorStatus) (*Doctor, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("invalid doctor status %q", status)
	}
	return s.doctors.SetStatus(ctx, id, status)
}

// ListDoctors returns the bookable doctors, optionally of one specialization.
func (s *Service) ListDoctors(ctx context.Context, specialization string) ([]*Doctor, error) {
	return s.doctors.List(ctx, DoctorActive, strings.TrimSpace(specialization), doctorListLimit)
}
