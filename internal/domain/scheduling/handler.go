package scheduling

import (
	"net/http"
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
	avail := api.Group("/availability")
	avail.GET("/:doctorId", h.GetAvailability)
	avail.PUT("/:doctorId", h.SetAvailability, auth.RequireRole(auth.RoleAdmin))

	appt := api.Group("/appointment")
	appt.GET("/suggest", h.SuggestSlots)
	appt.GET("/doctor/booked", h.BookedSlots)

	patient := appt.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/book", h.BookSlot)
	patient.POST("/post", h.PostAppointment)
	patient.GET("/patient/appointments", h.ListMyAppointments)

	admin := appt.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/getall", h.ListAppointments)
	admin.PUT("/update/:id", h.UpdateStatus)
	admin.DELETE("/delete/:id", h.DeleteAppointment)

	api.GET("/user/patients/appointments", h.PatientsWithAppointments, auth.RequireRole(auth.RoleAdmin))
}

// callerID is nil for callers without an account id, such as the
// development user.
func callerID(c echo.Context) *uuid.UUID {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return nil
	}
	return &id
}

// -- Availability --

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
	}
	a, err := h.svc.GetAvailability(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "availability": a})
}

func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
	}
	var body struct {
		Windows []Window `json:"windows"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.SetAvailability(c.Request().Context(), id, body.Windows)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Availability updated",
		"availability": a,
	})
}

// -- Slots --

func (h *Handler) SuggestSlots(c echo.Context) error {
	slots, err := h.svc.SuggestSlots(c.Request().Context(), c.QueryParam("doctorId"), c.QueryParam("preferred"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "suggestions": slots})
}

func (h *Handler) BookedSlots(c echo.Context) error {
	slots, err := h.svc.BookedSlots(c.Request().Context(), c.QueryParam("doctorId"), c.QueryParam("date"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "bookedSlots": slots})
}

// -- Booking --

func (h *Handler) BookSlot(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.BookSlot(c.Request().Context(), req, callerID(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	if a.Status == StatusPending {
		return c.JSON(http.StatusOK, map[string]any{
			"success":     true,
			"message":     "Time occupied; added to waiting queue",
			"appointment": a,
		})
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "Appointment booked",
		"appointment": a,
	})
}

func (h *Handler) PostAppointment(c echo.Context) error {
	var form AppointmentForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.PostAppointment(c.Request().Context(), form, callerID(c))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "Appointment Send!",
		"appointment": a,
	})
}

// -- Ledger --

func (h *Handler) ListAppointments(c echo.Context) error {
	f := AppointmentFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("doctorId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
		}
		f.DoctorID = id
	}
	if v := c.QueryParam("patientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
		}
		f.PatientID = id
	}
	var err error
	if f.From, err = h.queryDate(c, "from"); err != nil {
		return apperr.HTTP(err)
	}
	if f.To, err = h.queryDate(c, "to"); err != nil {
		return apperr.HTTP(err)
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) queryDate(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, h.svc.loc); err == nil {
		return t, nil
	}
	return h.svc.parseInstant(v)
}

func (h *Handler) ListMyAppointments(c echo.Context) error {
	id := callerID(c)
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientAppointments(c.Request().Context(), *id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) PatientsWithAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.PatientsWithAppointments(c.Request().Context(), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var u StatusUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, promoted, err := h.svc.UpdateStatus(c.Request().Context(), id, u)
	if err != nil {
		return apperr.HTTP(err)
	}
	resp := map[string]any{
		"success":     true,
		"message":     "Appointment Status Updated!",
		"appointment": a,
	}
	if promoted != nil {
		resp["promoted"] = promoted
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	promoted, err := h.svc.DeleteAppointment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	resp := map[string]any{
		"success": true,
		"message": "Appointment Deleted!",
	}
	if promoted != nil {
		resp["promoted"] = promoted
	}
	return c.JSON(http.StatusOK, resp)
}
