package clinical

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments/:id/record", h.GetRecord)
	api.GET("/lab-reports/:id/file", h.DownloadLabReport)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/appointments/:id/record", h.CreateRecord)
	doctor.PUT("/records/:id", h.UpdateRecord)

	lab := api.Group("", auth.RequireRole(auth.RoleLabStaff))
	lab.GET("/lab-tests/pending", h.PendingLabTests)
	lab.PATCH("/records/:id/lab-tests/:testId", h.UpdateLabTestStatus)
	lab.POST("/records/:id/lab-tests/:testId/report", h.UploadLabReport)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateRecord(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in RecordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.CreateMedicalRecord(c.Request().Context(), userID, apptID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.GetRecordByAppointment(c.Request().Context(), userID, apptID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var upd RecordUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.UpdateMedicalRecord(c.Request().Context(), userID, id, upd)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) PendingLabTests(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	tests, err := h.svc.PendingLabTests(c.Request().Context(), limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, tests)
}

type labStatusRequest struct {
	Status LabTestStatus `json:"status"`
}

func (h *Handler) UpdateLabTestStatus(c echo.Context) error {
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	testID, err := pathID(c, "testId")
	if err != nil {
		return err
	}
	var req labStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.UpdateLabTestStatus(c.Request().Context(), recordID, testID, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

// UploadLabReport accepts a multipart form with the file under "report"
// and the report fields as form values.
func (h *Handler) UploadLabReport(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	testID, err := pathID(c, "testId")
	if err != nil {
		return err
	}
	file, err := c.FormFile("report")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "report file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer src.Close()

	contentType := file.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = mime.TypeByExtension(filepath.Ext(file.Filename))
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	meta := ReportMeta{
		TestName:    c.FormValue("testName"),
		TestDate:    c.FormValue("testDate"),
		Result:      c.FormValue("result"),
		NormalRange: c.FormValue("normalRange"),
		Remarks:     c.FormValue("remarks"),
	}
	blob := blobstore.Metadata{FileName: filepath.Base(file.Filename), ContentType: contentType}

	report, err := h.svc.UploadLabReport(c.Request().Context(), userID, recordID, testID, meta, blob, src)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) DownloadLabReport(c echo.Context) error {
	userID, err := auth.CallerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	report, rc, err := h.svc.OpenLabReport(c.Request().Context(), userID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, report.FileName))
	return c.Stream(http.StatusOK, report.ContentType, rc)
}
