package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.GET("/auth/me", h.Me)
	api.PUT("/auth/password", h.ChangePassword)

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/patients/me", h.CreatePatientProfile)
	patient.GET("/patients/me", h.GetPatientProfile)
	patient.PUT("/patients/me", h.UpdatePatientProfile)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/doctors/me", h.MyDoctorProfile)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctors", h.CreateDoctor)
	admin.PUT("/doctors/:id", h.UpdateDoctor)
	admin.PATCH("/doctors/:id/status", h.SetDoctorStatus)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func doctorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Accounts --

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Me(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	acct, err := h.svc.Me(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, acct)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Patient profile --

func (h *Handler) CreatePatientProfile(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := bind(c, &p); err != nil {
		return err
	}
	if err := h.svc.CreatePatientProfile(c.Request().Context(), userID, &p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatientProfile(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatientProfile(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatientProfile(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	var upd PatientUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	p, err := h.svc.UpdatePatientProfile(c.Request().Context(), userID, upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	docs, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("specialization"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if docs == nil {
		docs = []*Doctor{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) MyDoctorProfile(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctorByUser(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req CreateDoctorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	var upd DoctorUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), id, upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

type doctorStatusRequest struct {
	Status DoctorStatus `json:"status"`
}

func (h *Handler) SetDoctorStatus(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	var req doctorStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.SetDoctorStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
