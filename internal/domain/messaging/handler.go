package messaging

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/auth"
	"github.com/cliniq/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/message")
	g.POST("/send", h.Send)

	admin := auth.RequireRole(auth.RoleAdmin)
	g.GET("/getall", h.List, admin)
	g.PUT("/mark-as-read/:id", h.MarkRead, admin)
	g.PUT("/mark-all-read", h.MarkAllRead, admin)
	g.DELETE("/delete/:id", h.Delete, admin)
}

func (h *Handler) Send(c echo.Context) error {
	var in MessageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := h.svc.Send(c.Request().Context(), in); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Message Sent!"})
}

func (h *Handler) List(c echo.Context) error {
	var f MessageFilter
	if v := c.QueryParam("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unread must be true or false")
		}
		f.UnreadOnly = unread
	}
	pg := pagination.FromContext(c)
	items, total, unread, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"messages": items,
		"total":    total,
		"unread":   unread,
		"limit":    pg.Limit,
		"offset":   pg.Offset,
		"has_more": pg.HasNext(total),
	})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Message marked as read!"})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	n, err := h.svc.MarkAllRead(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "All messages marked as read!",
		"updated": n,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Message deleted successfully!"})
}
