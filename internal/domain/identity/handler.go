package identity

import (
	"net/http"

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
	g := api.Group("/user")
	g.POST("/patient/register", h.RegisterPatient)
	g.POST("/login", h.Login)
	g.GET("/doctors", h.ListDoctors)

	authed := g.Group("", auth.RequireAuth())
	authed.POST("/logout", h.Logout)
	authed.GET("/me", h.Me)

	g.PUT("/update", h.UpdateProfile, auth.RequireRole(auth.RolePatient))

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctor/addnew", h.AddDoctor)
	admin.POST("/admin/addnew", h.AddAdmin)
	admin.POST("/patient/addnew", h.AddPatient)
	admin.GET("/doctor/:id", h.GetDoctor)
	admin.PUT("/doctor/:id", h.UpdateDoctor)
	admin.GET("/patients", h.ListPatients)
	admin.DELETE("/:id", h.DeleteUser)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var in AccountInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":   true,
		"message":   "User registered!",
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"user":      sess.User,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Login successful!",
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"user":      sess.User,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	jti, exp := auth.TokenFromContext(ctx)
	if err := h.svc.Logout(ctx, jti, exp); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == auth.DevUserID {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"user":    &User{FirstName: "Dev", LastName: "User", Role: auth.RoleAdmin},
		})
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	u, err := h.svc.GetUser(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "user": u})
}

func (h *Handler) AddDoctor(c echo.Context) error {
	var in AccountInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.AddDoctor(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"message": "New Doctor Registered!",
		"doctor":  u,
	})
}

func (h *Handler) AddPatient(c echo.Context) error {
	var in AccountInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.AddPatient(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"message": "New Patient Registered!",
		"patient": u,
	})
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Profile updated successfully",
		"user":    u,
	})
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "doctor": u})
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateDoctor(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Doctor updated successfully",
		"doctor":  u,
	})
}

func (h *Handler) AddAdmin(c echo.Context) error {
	var in AccountInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.AddAdmin(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"message": "New Admin Registered!",
		"admin":   u,
	})
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("department"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"doctors": items,
		"total":   total,
	})
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted",
	})
}
