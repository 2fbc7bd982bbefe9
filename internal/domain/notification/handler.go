package notification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Every signed-in user reads their own bell
	ownGroup := api.Group("/notifications", auth.RequireAuth())
	ownGroup.GET("", h.List)
	ownGroup.PUT("/:id/read", h.MarkRead)
	ownGroup.POST("/mark-all-read", h.MarkAllRead)
	ownGroup.DELETE("/:id", h.Delete)

	// Staff raise notifications for each other
	writeGroup := api.Group("/notifications", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleRegistrar))
	writeGroup.POST("", h.Create)
}

type listResponse struct {
	*pagination.Response
	UnreadCount int `json:"unreadCount"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	page, err := h.svc.List(ctx, auth.CallerFromContext(ctx), ListFilter{
		UserID:     c.QueryParam("user_id"),
		UnreadOnly: c.QueryParam("unread_only") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	})
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{
		Response:    pagination.NewResponse(page.Items, page.Total, pg),
		UnreadCount: page.UnreadCount,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"data": n})
}

type readBody struct {
	IsRead *bool `json:"isRead"`
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body readBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	read := true
	if body.IsRead != nil {
		read = *body.IsRead
	}

	ctx := c.Request().Context()
	n, err := h.svc.SetRead(ctx, auth.CallerFromContext(ctx), id, read)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": n})
}

type markAllBody struct {
	UserID string `json:"userId"`
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	var body markAllBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	updated, err := h.svc.MarkAllRead(ctx, auth.CallerFromContext(ctx), body.UserID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "updated": updated})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.CallerFromContext(ctx), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	h.logger.Error().Err(err).Str("request_id", middleware.RequestIDFrom(c)).Msg("notification request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
