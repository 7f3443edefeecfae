package identity

import (
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

// User is a login account. The id is the subject of the caller's token.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
}

// Patient is the profile a patient fills in before booking.
type Patient struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"userId"`
	Name             string            `json:"name"`
	Age              int               `json:"age"`
	Gender           string            `json:"gender"`
	Phone            string            `json:"phone"`
	Email            string            `json:"email"`
	Address          string            `json:"address"`
	BloodGroup       string            `json:"bloodGroup,omitempty"`
	MedicalHistory   []string          `json:"medicalHistory"`
	Allergies        []string          `json:"allergies"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "active"
	DoctorInactive DoctorStatus = "inactive"
	DoctorOnLeave  DoctorStatus = "on-leave"
)

func (s DoctorStatus) Valid() bool {
	return s == DoctorActive || s == DoctorInactive || s == DoctorOnLeave
}

type Doctor struct {
	ID              uuid.UUID              `json:"id"`
	UserID          uuid.UUID              `json:"userId"`
	Name            string                 `json:"name"`
	Specialization  string                 `json:"specialization"`
	Qualification   string                 `json:"qualification"`
	Experience      int                    `json:"experience"`
	Phone           string                 `json:"phone"`
	Email           string                 `json:"email"`
	OPDTimings      []scheduling.OPDTiming `json:"opdTimings"`
	ConsultationFee float64                `json:"consultationFee"`
	Status          DoctorStatus           `json:"status"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

type ProfileKind string

const (
	ProfileNone    ProfileKind = "none"
	ProfilePatient ProfileKind = "patient"
	ProfileDoctor  ProfileKind = "doctor"
)

// Profile is the role-specific half of an account. Exactly one of Patient
// and Doctor is set when Kind says so.
type Profile struct {
	Kind    ProfileKind `json:"kind"`
	Patient *Patient    `json:"patient,omitempty"`
	Doctor  *Doctor     `json:"doctor,omitempty"`
}

func PatientProfile(p *Patient) Profile { return Profile{Kind: ProfilePatient, Patient: p} }
func DoctorProfile(d *Doctor) Profile   { return Profile{Kind: ProfileDoctor, Doctor: d} }
func NoProfile() Profile                { return Profile{Kind: ProfileNone} }

type Account struct {
	User    *User   `json:"user"`
	Profile Profile `json:"profile"`
}

// -- Requests --

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// PatientUpdate changes only the fields that are set.
type PatientUpdate struct {
	Name             *string           `json:"name"`
	Age              *int              `json:"age"`
	Gender           *string           `json:"gender"`
	Phone            *string           `json:"phone"`
	Email            *string           `json:"email"`
	Address          *string           `json:"address"`
	BloodGroup       *string           `json:"bloodGroup"`
	MedicalHistory   []string          `json:"medicalHistory"`
	Allergies        []string          `json:"allergies"`
	EmergencyContact *EmergencyContact `json:"emergencyContact"`
}

type CreateDoctorRequest struct {
	Email           string                 `json:"email"`
	Password        string                 `json:"password"`
	Name            string                 `json:"name"`
	Specialization  string                 `json:"specialization"`
	Qualification   string                 `json:"qualification"`
	Experience      int                    `json:"experience"`
	Phone           string                 `json:"phone"`
	OPDTimings      []scheduling.OPDTiming `json:"opdTimings"`
	ConsultationFee float64                `json:"consultationFee"`
	Status          DoctorStatus           `json:"status"`
}

type DoctorUpdate struct {
	Name            *string                 `json:"name"`
	Specialization  *string                 `json:"specialization"`
	Qualification   *string                 `json:"qualification"`
	Experience      *int                    `json:"experience"`
	Phone           *string                 `json:"phone"`
	Email           *string                 `json:"email"`
	OPDTimings      *[]scheduling.OPDTiming `json:"opdTimings"`
	ConsultationFee *float64                `json:"consultationFee"`
}

// -- Validation --

const minPasswordLen = 6

var (
	genders     = []string{"male", "female", "other"}
	bloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
	selfRoles   = []string{auth.RolePatient, auth.RoleLabStaff}
)

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("invalid email address")
	}
	return email, nil
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen {
		return apperr.Invalid("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func (p *Patient) validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	switch {
	case len(p.Name) < 2:
		return apperr.Invalid("name must be at least 2 characters")
	case p.Age < 0 || p.Age > 150:
		return apperr.Invalid("age must be between 0 and 150")
	case !slices.Contains(genders, p.Gender):
		return apperr.Invalid("gender must be one of %s", strings.Join(genders, ", "))
	case len(p.Phone) < 10:
		return apperr.Invalid("phone number must be at least 10 digits")
	case len(p.Address) < 5:
		return apperr.Invalid("address must be at least 5 characters")
	case p.BloodGroup != "" && !slices.Contains(bloodGroups, p.BloodGroup):
		return apperr.Invalid("invalid blood group %q", p.BloodGroup)
	}
	email, err := normalizeEmail(p.Email)
	if err != nil {
		return err
	}
	p.Email = email
	if p.MedicalHistory == nil {
		p.MedicalHistory = []string{}
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	return nil
}

func (u PatientUpdate) apply(p *Patient) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Address != nil {
		p.Address = *u.Address
	}
	if u.BloodGroup != nil {
		p.BloodGroup = *u.BloodGroup
	}
	if u.MedicalHistory != nil {
		p.MedicalHistory = u.MedicalHistory
	}
	if u.Allergies != nil {
		p.Allergies = u.Allergies
	}
	if u.EmergencyContact != nil {
		p.EmergencyContact = u.EmergencyContact
	}
}

func (d *Doctor) validate() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Specialization = strings.TrimSpace(d.Specialization)
	d.Qualification = strings.TrimSpace(d.Qualification)
	d.Phone = strings.TrimSpace(d.Phone)
	switch {
	case len(d.Name) < 2:
		return apperr.Invalid("name must be at least 2 characters")
	case len(d.Specialization) < 2:
		return apperr.Invalid("specialization is required")
	case len(d.Qualification) < 2:
		return apperr.Invalid("qualification is required")
	case d.Experience < 0:
		return apperr.Invalid("experience must not be negative")
	case len(d.Phone) < 10:
		return apperr.Invalid("phone number must be at least 10 digits")
	case d.ConsultationFee < 0:
		return apperr.Invalid("consultation fee must not be negative")
	case !d.Status.Valid():
		return apperr.Invalid("invalid doctor status %q", d.Status)
	}
	email, err := normalizeEmail(d.Email)
	if err != nil {
		return err
	}
	d.Email = email

	timings, err := scheduling.NormalizeTimings(d.OPDTimings)
	if err != nil {
		return err
	}
	d.OPDTimings = timings
	return nil
}

func (u DoctorUpdate) apply(d *Doctor) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Specialization != nil {
		d.Specialization = *u.Specialization
	}
	if u.Qualification != nil {
		d.Qualification = *u.Qualification
	}
	if u.Experience != nil {
		d.Experience = *u.Experience
	}
	if u.Phone != nil {
		d.Phone = *u.Phone
	}
	if u.Email != nil {
		d.Email = *u.Email
	}
	if u.OPDTimings != nil {
		d.OPDTimings = *u.OPDTimings
	}
	if u.ConsultationFee != nil {
		d.ConsultationFee = *u.ConsultationFee
	}
}
