package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

func newRequest(method, target, body string, userID uuid.UUID, role string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID == uuid.Nil {
		return req
	}
	return req.WithContext(auth.WithIdentity(req.Context(), userID.String(), []string{role}))
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_Register(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", `{"email":"new@example.com","password":"secret123"}`, uuid.Nil, ""), rec)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("password hash leaked in response: %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodPost, "/", `{"email":"new@example.com","password":"secret123"}`, uuid.Nil, ""), httptest.NewRecorder())
	expectHTTPStatus(t, h.Register(c), http.StatusConflict)

	c = e.NewContext(newRequest(http.MethodPost, "/", `{"email":"x@example.com","password":"secret123","role":"doctor"}`, uuid.Nil, ""), httptest.NewRecorder())
	expectHTTPStatus(t, h.Register(c), http.StatusForbidden)

	c = e.NewContext(newRequest(http.MethodPost, "/", `{"email":`, uuid.Nil, ""), httptest.NewRecorder())
	expectHTTPStatus(t, h.Register(c), http.StatusBadRequest)
}

func TestHandler_Me(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	u := registerPatient(t, svc)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", u.ID, auth.RolePatient), rec)
	if err := h.Me(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var acct struct {
		User    User `json:"user"`
		Profile struct {
			Kind ProfileKind `json:"kind"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.User.ID != u.ID || acct.Profile.Kind != ProfileNone {
		t.Errorf("unexpected account %+v", acct)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", uuid.Nil, ""), httptest.NewRecorder())
	expectHTTPStatus(t, h.Me(c), http.StatusUnauthorized)
}

func TestHandler_ChangePassword(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	u := registerPatient(t, svc)

	c := e.NewContext(newRequest(http.MethodPut, "/", `{"currentPassword":"nope","newPassword":"another1"}`, u.ID, auth.RolePatient), httptest.NewRecorder())
	expectHTTPStatus(t, h.ChangePassword(c), http.StatusForbidden)

	rec := httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPut, "/", `{"currentPassword":"secret123","newPassword":"another1"}`, u.ID, auth.RolePatient), rec)
	if err := h.ChangePassword(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_PatientProfile(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	u := registerPatient(t, svc)

	c := e.NewContext(newRequest(http.MethodGet, "/", "", u.ID, auth.RolePatient), httptest.NewRecorder())
	expectHTTPStatus(t, h.GetPatientProfile(c), http.StatusNotFound)

	body := `{"name":"Asha Verma","age":34,"gender":"female","phone":"9876543210","address":"12 MG Road, Pune","userId":"` + uuid.NewString() + `"}`
	rec := httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, "/", body, u.ID, auth.RolePatient), rec)
	if err := h.CreatePatientProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.UserID != u.ID {
		t.Errorf("expected profile owned by the caller, got %s", p.UserID)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPut, "/", `{"phone":"9000011111"}`, u.ID, auth.RolePatient), rec)
	if err := h.UpdatePatientProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "9000011111") {
		t.Errorf("expected updated phone, got %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodPut, "/", `{"gender":"unknown"}`, u.ID, auth.RolePatient), httptest.NewRecorder())
	expectHTTPStatus(t, h.UpdatePatientProfile(c), http.StatusBadRequest)
}

func TestHandler_Doctors(t *testing.T) {
	svc, _, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	admin := uuid.New()

	body, _ := json.Marshal(validDoctorRequest())
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", string(body), admin, auth.RoleAdmin), rec)
	if err := h.CreateDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var d Doctor
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/", "", d.UserID, auth.RoleDoctor), rec)
	if err := h.MyDoctorProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/?specialization=cardiology", "", admin, auth.RoleAdmin), rec)
	if err := h.ListDoctors(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []Doctor
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one doctor, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPatch, "/", `{"status":"on-leave"}`, admin, auth.RoleAdmin), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())
	if err := h.SetDoctorStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/", "", admin, auth.RoleAdmin), rec)
	if err := h.ListDoctors(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected doctor on leave to be hidden, got %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", admin, auth.RoleAdmin), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.GetDoctor(c), http.StatusBadRequest)

	c = e.NewContext(newRequest(http.MethodPut, "/", `{"consultationFee":-5}`, admin, auth.RoleAdmin), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())
	expectHTTPStatus(t, h.UpdateDoctor(c), http.StatusBadRequest)
}

func TestRegisterRoutes_RoleGuards(t *testing.T) {
	svc, _, _, _ := newTestService()
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role := c.Request().Header.Get("X-Test-Role"); role != "" {
				ctx := auth.WithIdentity(c.Request().Context(), uuid.NewString(), []string{role})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		method, path, role string
		code               int
	}{
		{http.MethodPost, "/api/v1/doctors", auth.RolePatient, http.StatusForbidden},
		{http.MethodGet, "/api/v1/patients/me", auth.RoleDoctor, http.StatusForbidden},
		{http.MethodGet, "/api/v1/doctors/me", auth.RolePatient, http.StatusForbidden},
		{http.MethodGet, "/api/v1/doctors", auth.RolePatient, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Test-Role", tt.role)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestDirectory(t *testing.T) {
	svc, _, patients, doctors := newTestService()
	ctx := context.Background()
	dir := NewDirectory(patients, doctors)

	d, err := svc.CreateDoctor(ctx, validDoctorRequest())
	if err != nil {
		t.Fatal(err)
	}
	avail, err := dir.DoctorAvailability(ctx, d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avail.Active || avail.Name != d.Name || len(avail.Timings) != 2 {
		t.Errorf("unexpected availability %+v", avail)
	}
	if _, err := svc.SetDoctorStatus(ctx, d.ID, DoctorInactive); err != nil {
		t.Fatal(err)
	}
	if avail, _ := dir.DoctorAvailability(ctx, d.ID); avail.Active {
		t.Error("expected inactive doctor to be unavailable")
	}

	if got, err := dir.DoctorIDForUser(ctx, d.UserID); err != nil || got != d.ID {
		t.Errorf("expected doctor %s, got %s (%v)", d.ID, got, err)
	}

	u := registerPatient(t, svc)
	if _, err := dir.PatientIDForUser(ctx, u.ID); err == nil {
		t.Error("expected error before the profile exists")
	}
	p := validPatient()
	if err := svc.CreatePatientProfile(ctx, u.ID, p); err != nil {
		t.Fatal(err)
	}
	if got, err := dir.PatientIDForUser(ctx, u.ID); err != nil || got != p.ID {
		t.Errorf("expected patient %s, got %s (%v)", p.ID, got, err)
	}
}
