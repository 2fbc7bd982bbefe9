package opd

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
)

// IdempotencyKeyHeader lets a client retry a check-in without taking a
// second token.
const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Front desk and clinical staff
	deskGroup := api.Group("/opd", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar))
	deskGroup.POST("/queue", h.CheckIn)
	deskGroup.GET("/queue", h.ListQueue)

	// Clinical staff move patients through the queue
	clinicalGroup := api.Group("/opd", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	clinicalGroup.PUT("/queue", h.UpdateStatus)
	clinicalGroup.PUT("/queue/:id/status", h.UpdateStatus)
	clinicalGroup.POST("/queue/next", h.CallNext)

	// Patient portal polling
	portalGroup := api.Group("/patient/opd", auth.RequireAuth())
	portalGroup.GET("/status", h.GetStatus)
}

type checkInBody struct {
	PatientID         string `json:"patientId"`
	DoctorID          string `json:"doctorId"`
	IdempotencyKey    string `json:"idempotencyKey"`
	IdempotencyKeyAlt string `json:"idempotency_key"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	var body checkInBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req := CheckInRequest{PatientID: body.PatientID, DoctorID: body.DoctorID}
	switch {
	case c.Request().Header.Get(IdempotencyKeyHeader) != "":
		req.IdempotencyKey = c.Request().Header.Get(IdempotencyKeyHeader)
	case body.IdempotencyKey != "":
		req.IdempotencyKey = body.IdempotencyKey
	default:
		req.IdempotencyKey = body.IdempotencyKeyAlt
	}

	ctx := c.Request().Context()
	entry, replayed, err := h.svc.CheckIn(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return h.httpError(c, "check in", err)
	}
	if replayed {
		return c.JSON(http.StatusOK, entry)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) ListQueue(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.List(ctx, auth.CallerFromContext(ctx), ListParams{
		DoctorID: queryParam(c, "doctor_id", "doctorId"),
		Status:   c.QueryParam("status"),
		Date:     c.QueryParam("date"),
	})
	if err != nil {
		return h.httpError(c, "list queue", err)
	}
	return c.JSON(http.StatusOK, items)
}

// queryParam returns the first non-empty value among names. Older clients
// send camelCase query keys.
func queryParam(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			return v
		}
	}
	return ""
}

type statusBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// UpdateStatus serves both PUT /opd/queue with the id in the body and
// PUT /opd/queue/:id/status.
func (h *Handler) UpdateStatus(c echo.Context) error {
	var body statusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id := c.Param("id")
	if id == "" {
		id = body.ID
	}

	ctx := c.Request().Context()
	entry, err := h.svc.Transition(ctx, auth.CallerFromContext(ctx), id, body.Status)
	if err != nil {
		return h.httpError(c, "update queue status", err)
	}
	return c.JSON(http.StatusOK, entry)
}

type callNextBody struct {
	DoctorID string `json:"doctor_id"`
}

func (h *Handler) CallNext(c echo.Context) error {
	var body callNextBody
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	entry, err := h.svc.CallNext(ctx, auth.CallerFromContext(ctx), body.DoctorID)
	if err != nil {
		return h.httpError(c, "call next patient", err)
	}
	return c.JSON(http.StatusOK, entry)
}

// GetStatus returns the caller's queue projection, or JSON null when the
// patient is not waiting today.
func (h *Handler) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	proj, err := h.svc.Status(ctx, auth.CallerFromContext(ctx), c.QueryParam("patient_id"))
	if err != nil {
		return h.httpError(c, "queue status", err)
	}
	if proj == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, proj)
}

// httpError maps service errors to HTTP responses. Only validation messages
// reach the client; everything else is logged and replaced by a generic text.
func (h *Handler) httpError(c echo.Context, op string, err error) error {
	var status int
	var msg string
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	case errors.Is(err, ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "authentication required"
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, "insufficient permissions"
	case errors.Is(err, ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, ErrInvalidTransition):
		status, msg = http.StatusConflict, "status change not allowed"
	case errors.Is(err, ErrConflict):
		status, msg = http.StatusConflict, "conflicting update, retry the request"
	default:
		status, msg = http.StatusInternalServerError, "internal server error"
	}

	evt := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.logger.Error()
	}
	evt.Err(err).
		Str("request_id", middleware.RequestIDFrom(c)).
		Str("op", op).
		Int("status", status).
		Msg("opd request failed")
	return echo.NewHTTPError(status, msg)
}
