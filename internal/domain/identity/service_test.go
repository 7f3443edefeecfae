package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

// -- Mock Repositories --

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return apperr.Conflict("a user with email %s already exists", u.Email)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	u.PasswordHash = hash
	return nil
}

type mockPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patients {
		if existing.UserID == p.UserID {
			return apperr.Conflict("patient profile already exists")
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("patient profile not found")
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("patient profile not found")
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

type mockDoctorRepo struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
	failOn  string
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "create" {
		return errors.New("insert failed")
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor not found")
	}
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("doctor not found")
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[d.ID]; !ok {
		return apperr.NotFound("doctor not found")
	}
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) SetStatus(_ context.Context, id uuid.UUID, status DoctorStatus) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor not found")
	}
	d.Status = status
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) List(_ context.Context, status DoctorStatus, specialization string, limit int) ([]*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Doctor
	for _, d := range m.doctors {
		if d.Status != status {
			continue
		}
		if specialization != "" && !strings.EqualFold(d.Specialization, specialization) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockTx undoes users created inside a failed transaction.
type mockTx struct {
	users *mockUserRepo
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.users.mu.Lock()
	before := make(map[uuid.UUID]bool, len(m.users.users))
	for id := range m.users.users {
		before[id] = true
	}
	m.users.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		m.users.mu.Lock()
		for id := range m.users.users {
			if !before[id] {
				delete(m.users.users, id)
			}
		}
		m.users.mu.Unlock()
	}
	return err
}

func newTestService() (*Service, *mockUserRepo, *mockPatientRepo, *mockDoctorRepo) {
	users, patients, doctors := newMockUserRepo(), newMockPatientRepo(), newMockDoctorRepo()
	svc := NewService(users, patients, doctors, &mockTx{users: users})
	svc.bcryptCost = bcrypt.MinCost
	return svc, users, patients, doctors
}

func validPatient() *Patient {
	return &Patient{
		Name:    "Asha Verma",
		Age:     34,
		Gender:  "female",
		Phone:   "9876543210",
		Address: "12 MG Road, Pune",
	}
}

func validDoctorRequest() CreateDoctorRequest {
	return CreateDoctorRequest{
		Email:          "dr.rao@clinic.test",
		Password:       "secret123",
		Name:           "Dr. Rao",
		Specialization: "Cardiology",
		Qualification:  "MD",
		Experience:     12,
		Phone:          "9123456780",
		OPDTimings: []scheduling.OPDTiming{
			{Day: "Monday", StartTime: "09:00", EndTime: "13:00"},
			{Day: "thursday", StartTime: "14:00", EndTime: "17:00", MaxPatients: 10},
		},
		ConsultationFee: 500,
	}
}

func registerPatient(t *testing.T, svc *Service) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterRequest{Email: uuid.NewString() + "@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

// -- Accounts --

func TestRegister(t *testing.T) {
	svc, users, _, _ := newTestService()
	u, err := svc.Register(context.Background(), RegisterRequest{Email: "  Asha@Example.com ", Password: "secret123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "asha@example.com" || u.Role != auth.RolePatient {
		t.Errorf("unexpected user %+v", u)
	}
	stored := users.users[u.ID]
	if stored.PasswordHash == "secret123" {
		t.Fatal("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret123")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestRegister_Rejections(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  RegisterRequest
		kind error
	}{
		{"duplicate email", RegisterRequest{Email: "A@example.com", Password: "secret123"}, apperr.ErrConflict},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "secret123"}, apperr.ErrInvalid},
		{"short password", RegisterRequest{Email: "b@example.com", Password: "123"}, apperr.ErrInvalid},
		{"doctor self-registration", RegisterRequest{Email: "c@example.com", Password: "secret123", Role: auth.RoleDoctor}, apperr.ErrForbidden},
		{"admin self-registration", RegisterRequest{Email: "d@example.com", Password: "secret123", Role: auth.RoleAdmin}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}

	if u, err := svc.Register(ctx, RegisterRequest{Email: "lab@example.com", Password: "secret123", Role: auth.RoleLabStaff}); err != nil || u.Role != auth.RoleLabStaff {
		t.Errorf("expected lab staff self-registration, got %v %v", u, err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, users, _, _ := newTestService()
	u := registerPatient(t, svc)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, u.ID, "wrong", "newsecret"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for wrong password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "secret123", "x"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid for short password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "secret123", "newsecret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(users.users[u.ID].PasswordHash), []byte("newsecret")); err != nil {
		t.Error("expected the new password to verify")
	}
}

func TestMe_ProfileByRole(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	patient := registerPatient(t, svc)
	acct, err := svc.Me(ctx, patient.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Profile.Kind != ProfileNone {
		t.Errorf("expected no profile before it is filled in, got %s", acct.Profile.Kind)
	}

	if err := svc.CreatePatientProfile(ctx, patient.ID, validPatient()); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	acct, _ = svc.Me(ctx, patient.ID)
	if acct.Profile.Kind != ProfilePatient || acct.Profile.Patient == nil || acct.Profile.Doctor != nil {
		t.Errorf("expected patient profile, got %+v", acct.Profile)
	}

	d, err := svc.CreateDoctor(ctx, validDoctorRequest())
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	acct, _ = svc.Me(ctx, d.UserID)
	if acct.Profile.Kind != ProfileDoctor || acct.Profile.Doctor.ID != d.ID || acct.Profile.Patient != nil {
		t.Errorf("expected doctor profile, got %+v", acct.Profile)
	}

	lab, _ := svc.Register(ctx, RegisterRequest{Email: "lab@example.com", Password: "secret123", Role: auth.RoleLabStaff})
	acct, _ = svc.Me(ctx, lab.ID)
	if acct.Profile.Kind != ProfileNone {
		t.Errorf("expected lab staff to have no profile, got %s", acct.Profile.Kind)
	}

	if _, err := svc.Me(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown user, got %v", err)
	}
}

// -- Patient profile --

func TestCreatePatientProfile(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	u := registerPatient(t, svc)

	p := validPatient()
	if err := svc.CreatePatientProfile(ctx, u.ID, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != u.ID || p.Email != u.Email {
		t.Errorf("expected profile linked to the user with their email, got %+v", p)
	}
	if p.MedicalHistory == nil || p.Allergies == nil {
		t.Error("expected empty lists rather than nil")
	}

	if err := svc.CreatePatientProfile(ctx, u.ID, validPatient()); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second profile, got %v", err)
	}
}

func TestCreatePatientProfile_Rejections(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	u := registerPatient(t, svc)

	d, _ := svc.CreateDoctor(ctx, validDoctorRequest())
	if err := svc.CreatePatientProfile(ctx, d.UserID, validPatient()); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for a doctor account, got %v", err)
	}

	bad := validPatient()
	bad.BloodGroup = "Z+"
	if err := svc.CreatePatientProfile(ctx, u.ID, bad); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid blood group, got %v", err)
	}
}

func TestUpdatePatientProfile(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	u := registerPatient(t, svc)
	if err := svc.CreatePatientProfile(ctx, u.ID, validPatient()); err != nil {
		t.Fatal(err)
	}

	age := 35
	group := "O+"
	p, err := svc.UpdatePatientProfile(ctx, u.ID, PatientUpdate{
		Age:              &age,
		BloodGroup:       &group,
		Allergies:        []string{"penicillin"},
		EmergencyContact: &EmergencyContact{Name: "Ravi", Phone: "9000000000", Relation: "spouse"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Age != 35 || p.BloodGroup != "O+" || len(p.Allergies) != 1 || p.EmergencyContact == nil {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.Name != "Asha Verma" {
		t.Errorf("expected untouched name, got %q", p.Name)
	}

	badAge := 200
	if _, err := svc.UpdatePatientProfile(ctx, u.ID, PatientUpdate{Age: &badAge}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid age, got %v", err)
	}
	if _, err := svc.UpdatePatientProfile(ctx, uuid.New(), PatientUpdate{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Doctors --

func TestCreateDoctor(t *testing.T) {
	svc, users, _, _ := newTestService()
	d, err := svc.CreateDoctor(context.Background(), validDoctorRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != DoctorActive {
		t.Errorf("expected active by default, got %s", d.Status)
	}
	if d.OPDTimings[0].Day != "monday" || d.OPDTimings[0].MaxPatients != scheduling.DefaultMaxPatients {
		t.Errorf("expected normalized timings, got %+v", d.OPDTimings[0])
	}
	if d.OPDTimings[1].MaxPatients != 10 {
		t.Errorf("expected explicit capacity kept, got %d", d.OPDTimings[1].MaxPatients)
	}
	u := users.users[d.UserID]
	if u == nil || u.Role != auth.RoleDoctor {
		t.Fatalf("expected a doctor login, got %+v", u)
	}
}

func TestCreateDoctor_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	tests := []struct {
		name   string
		mutate func(r *CreateDoctorRequest)
	}{
		{"short name", func(r *CreateDoctorRequest) { r.Name = "X" }},
		{"no specialization", func(r *CreateDoctorRequest) { r.Specialization = "" }},
		{"negative fee", func(r *CreateDoctorRequest) { r.ConsultationFee = -1 }},
		{"bad status", func(r *CreateDoctorRequest) { r.Status = "retired" }},
		{"bad email", func(r *CreateDoctorRequest) { r.Email = "rao" }},
		{"short password", func(r *CreateDoctorRequest) { r.Password = "abc" }},
		{"duplicate day", func(r *CreateDoctorRequest) {
			r.OPDTimings = append(r.OPDTimings, scheduling.OPDTiming{Day: "monday", StartTime: "15:00", EndTime: "16:00"})
		}},
		{"inverted hours", func(r *CreateDoctorRequest) {
			r.OPDTimings = []scheduling.OPDTiming{{Day: "friday", StartTime: "17:00", EndTime: "09:00"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validDoctorRequest()
			tt.mutate(&req)
			if _, err := svc.CreateDoctor(context.Background(), req); !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestCreateDoctor_RollsBackLogin(t *testing.T) {
	svc, users, _, doctors := newTestService()
	doctors.failOn = "create"
	if _, err := svc.CreateDoctor(context.Background(), validDoctorRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(users.users) != 0 {
		t.Errorf("expected the login to be rolled back, found %d users", len(users.users))
	}
}

func TestCreateDoctor_DuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.CreateDoctor(context.Background(), validDoctorRequest()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateDoctor(context.Background(), validDoctorRequest()); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestUpdateDoctorAndStatus(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	d, _ := svc.CreateDoctor(ctx, validDoctorRequest())

	fee := 750.0
	timings := []scheduling.OPDTiming{{Day: "Saturday", StartTime: "10:00", EndTime: "12:00"}}
	updated, err := svc.UpdateDoctor(ctx, d.ID, DoctorUpdate{ConsultationFee: &fee, OPDTimings: &timings})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ConsultationFee != 750 || len(updated.OPDTimings) != 1 || updated.OPDTimings[0].Day != "saturday" {
		t.Errorf("unexpected doctor %+v", updated)
	}

	onLeave, err := svc.SetDoctorStatus(ctx, d.ID, DoctorOnLeave)
	if err != nil || onLeave.Status != DoctorOnLeave {
		t.Fatalf("expected on-leave, got %v %v", onLeave, err)
	}
	if _, err := svc.SetDoctorStatus(ctx, d.ID, "retired"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid status, got %v", err)
	}
	if _, err := svc.SetDoctorStatus(ctx, uuid.New(), DoctorActive); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListDoctors(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	cardio := validDoctorRequest()
	cardio.Name = "Dr. Zed"
	neuro := validDoctorRequest()
	neuro.Email, neuro.Name, neuro.Specialization = "neuro@clinic.test", "Dr. Anand", "Neurology"
	away := validDoctorRequest()
	away.Email, away.Status = "away@clinic.test", DoctorInactive
	for _, req := range []CreateDoctorRequest{cardio, neuro, away} {
		if _, err := svc.CreateDoctor(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := svc.ListDoctors(ctx, "")
	if len(all) != 2 || all[0].Name != "Dr. Anand" {
		t.Errorf("expected two active doctors by name, got %d", len(all))
	}
	only, _ := svc.ListDoctors(ctx, " neurology ")
	if len(only) != 1 || only[0].Specialization != "Neurology" {
		t.Errorf("expected the neurologist, got %v", only)
	}
}
