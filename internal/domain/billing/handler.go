package billing

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
	g := api.Group("/invoice")

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.Create)
	admin.GET("/all", h.ListAll)
	admin.GET("/patient/:patientId", h.ListByPatient)
	admin.PATCH("/:id", h.MarkPaid)

	patient := g.Group("", auth.RequireRole(auth.RolePatient))
	patient.GET("/patient", h.ListMine)

	authed := g.Group("", auth.RequireAuth())
	authed.GET("/:id", h.Get)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, err := h.svc.Create(c.Request().Context(), in, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "invoice": inv})
}

// Get returns one invoice. Patients only see their own.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Get(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if !auth.HasRole(ctx, auth.RoleDoctor) && inv.PatientID.String() != auth.UserIDFromContext(ctx) {
		return apperr.HTTP(ErrInvoiceNotFound)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "invoice": inv})
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.MarkPaid(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "invoice": inv})
}

func (h *Handler) ListAll(c echo.Context) error {
	var f InvoiceFilter
	if v := c.QueryParam("paid"); v != "" {
		paid, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "paid must be true or false")
		}
		f.Paid = &paid
	}
	return h.list(c, f)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return apperr.HTTP(ErrPatientRequired)
	}
	return h.list(c, InvoiceFilter{PatientID: id})
}

func (h *Handler) ListMine(c echo.Context) error {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	return h.list(c, InvoiceFilter{PatientID: id})
}

func (h *Handler) list(c echo.Context, f InvoiceFilter) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Invoice{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
