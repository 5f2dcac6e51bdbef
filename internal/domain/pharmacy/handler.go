package pharmacy

import (
	"net/http"
	"strconv"
	"time"

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
	g := api.Group("/medicine", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/analytics", h.Analytics)
	g.GET("/alerts/expiry", h.ExpiryAlerts)
	g.GET("/alerts/low-stock", h.LowStockAlerts)
	g.GET("/movements", h.Movements)
	g.POST("/sales", h.RecordSale)
	g.GET("/sales", h.Sales)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/stock/add", h.AddStock)
	g.POST("/:id/stock/reduce", h.ReduceStock)
	g.POST("/:id/stock/adjust", h.AdjustStock)
	g.POST("/:id/stock/damage", h.RecordDamage)
	g.GET("/:id/batches", h.Batches)
	g.POST("/:id/batches/expire", h.ExpireBatch)
}

func performer(c echo.Context) string {
	if id := auth.UserIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	return "system"
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Catalogue --

func (h *Handler) Create(c echo.Context) error {
	var in MedicineInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.Create(c.Request().Context(), in, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":  true,
		"message":  "Medicine created successfully",
		"medicine": v,
	})
}

func (h *Handler) List(c echo.Context) error {
	f := MedicineFilter{
		Search:    c.QueryParam("search"),
		Category:  c.QueryParam("category"),
		Status:    c.QueryParam("status"),
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: c.QueryParam("sortOrder"),
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*View{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "medicine": v})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in MedicineInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Medicine updated successfully",
		"medicine": v,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Discontinue(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Medicine discontinued"})
}

// -- Stock --

type quantityBody struct {
	Quantity  int         `json:"quantity"`
	Reason    string      `json:"reason"`
	BatchInfo *BatchInput `json:"batchInfo"`
}

func stockResponse(c echo.Context, msg string, v *View, mv *Movement) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  msg,
		"medicine": v,
		"movement": mv,
	})
}

func (h *Handler) AddStock(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body quantityBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	batch := body.BatchInfo
	if batch == nil && body.Reason != "" {
		batch = &BatchInput{Reason: body.Reason}
	}
	v, mv, err := h.svc.AddStock(c.Request().Context(), id, body.Quantity, batch, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return stockResponse(c, "Stock added successfully", v, mv)
}

func (h *Handler) ReduceStock(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body quantityBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, mv, err := h.svc.ReduceStock(c.Request().Context(), id, body.Quantity, body.Reason, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return stockResponse(c, "Stock reduced successfully", v, mv)
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		NewQuantity *int   `json:"newQuantity"`
		Reason      string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.NewQuantity == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "newQuantity is required")
	}
	v, mv, err := h.svc.AdjustStock(c.Request().Context(), id, *body.NewQuantity, body.Reason, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return stockResponse(c, "Stock adjusted successfully", v, mv)
}

func (h *Handler) RecordDamage(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body quantityBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, mv, err := h.svc.RecordDamage(c.Request().Context(), id, body.Quantity, body.Reason, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return stockResponse(c, "Damaged stock recorded", v, mv)
}

func (h *Handler) Batches(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Batches(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "batches": r})
}

func (h *Handler) ExpireBatch(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		BatchNo string `json:"batchNo"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, mv, err := h.svc.ExpireBatch(c.Request().Context(), id, body.BatchNo, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return stockResponse(c, "Batch marked as expired", v, mv)
}

// -- Reports --

func (h *Handler) ExpiryAlerts(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}
	alerts, err := h.svc.ExpiryAlerts(c.Request().Context(), days)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "count": len(alerts), "alerts": alerts})
}

func (h *Handler) LowStockAlerts(c echo.Context) error {
	items, err := h.svc.LowStockAlerts(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*View{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "count": len(items), "medicines": items})
}

func (h *Handler) Analytics(c echo.Context) error {
	a, err := h.svc.Analytics(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "analytics": a})
}

func (h *Handler) Movements(c echo.Context) error {
	f := MovementFilter{MovementType: c.QueryParam("type")}
	if v := c.QueryParam("medicineId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid medicineId")
		}
		f.MedicineID = id
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Movements(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Movement{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordSale(c echo.Context) error {
	var in SaleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sale, v, err := h.svc.RecordSale(c.Request().Context(), in, performer(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "Sale recorded successfully",
		"salesRecord": sale,
		"medicine":    v,
	})
}

func (h *Handler) Sales(c echo.Context) error {
	var f SaleFilter
	if v := c.QueryParam("medicineId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid medicineId")
		}
		f.MedicineID = id
	}
	var err error
	if f.From, err = queryTime(c, "startDate"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "endDate"); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Sales(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Sale{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func queryTime(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return t, nil
}
