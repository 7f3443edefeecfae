package scheduling

import (
	"net/http"
	"time"

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
	// Any authenticated user
	api.GET("/doctors/:id/slots", h.AvailableSlots)
	api.GET("/appointments/:id", h.GetAppointment)

	// Patients
	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/appointments", h.CreateAppointment)
	patient.GET("/appointments/mine", h.MyAppointments)
	patient.POST("/appointments/:id/cancel", h.CancelAppointment)

	// Doctors
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.PATCH("/appointments/:id/status", h.UpdateStatus)
	doctor.GET("/queue", h.Queue)
	doctor.GET("/queue/appointments", h.DoctorAppointments)
	doctor.GET("/queue/stats", h.Stats)
}

type createAppointmentRequest struct {
	DoctorID        uuid.UUID `json:"doctorId"`
	AppointmentDate string    `json:"appointmentDate"`
	Slot            string    `json:"slot"`
	Symptoms        string    `json:"symptoms"`
}

type updateStatusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// queryDate reads ?date=, returning the zero time when absent.
func queryDate(c echo.Context) (time.Time, error) {
	v := c.QueryParam("date")
	if v == "" {
		return time.Time{}, nil
	}
	return ParseDate(v)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AppointmentDate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "appointmentDate is required")
	}
	date, err := ParseDate(req.AppointmentDate)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	appt, err := h.svc.CreateAppointment(c.Request().Context(), BookingRequest{
		UserID:   userID,
		DoctorID: req.DoctorID,
		Date:     date,
		Slot:     req.Slot,
		Symptoms: req.Symptoms,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), userID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) MyAppointments(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.PatientAppointments(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), userID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	appt, err := h.svc.UpdateStatus(c.Request().Context(), userID, id, status, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	date, err := queryDate(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if date.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) Queue(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	date, err := queryDate(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	q, err := h.svc.DoctorQueue(c.Request().Context(), userID, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DoctorAppointments(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	date, err := queryDate(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	appts, err := h.svc.DoctorAppointments(c.Request().Context(), userID, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) Stats(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	date, err := queryDate(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	st, err := h.svc.DoctorStats(c.Request().Context(), userID, date)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}
