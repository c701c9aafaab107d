package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/models"
)

// AppointmentStore is the store surface the appointment handlers use.
type AppointmentStore interface {
	GetAppointments() ([]models.Appointment, error)
	GetAppointment(id uint) (*models.Appointment, error)
	CreateAppointment(appt *models.Appointment) error
	CreateAppointments(appts []models.Appointment) error
	UpdateAppointment(appt *models.Appointment) error
	DeleteAppointment(id uint) error
}

type AppointmentHandler struct {
	store AppointmentStore
}

func NewAppointmentHandler(store AppointmentStore) *AppointmentHandler {
	return &AppointmentHandler{store: store}
}

func (h *AppointmentHandler) List(c *gin.Context) {
	appts, err := h.store.GetAppointments()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, appts)
}

type appointmentRequest struct {
	StartsAt      time.Time `json:"starts_at" binding:"required"`
	EndsAt        time.Time `json:"ends_at" binding:"required"`
	Status        string    `json:"status"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
}

func (h *AppointmentHandler) Create(c *gin.Context) {
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.BadRequest("malformed appointment payload"))
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		fail(c, apperr.Validation("appointment must end after it starts"))
		return
	}

	status := req.Status
	if status == "" {
		status = models.AppointmentAvailable
	}
	if status == models.AppointmentBooked && req.CustomerName == "" && req.CustomerPhone == "" {
		fail(c, apperr.Validation("booked appointments need a customer name or phone"))
		return
	}

	appt := &models.Appointment{
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
		Status:        status,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
	}
	if err := h.store.CreateAppointment(appt); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, appt)
}

func (h *AppointmentHandler) Update(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, apperr.BadRequest("invalid appointment id"))
		return
	}

	appt, err := h.store.GetAppointment(id)
	if err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Status        *string    `json:"status"`
		CustomerName  *string    `json:"customer_name"`
		CustomerPhone *string    `json:"customer_phone"`
		StartsAt      *time.Time `json:"starts_at"`
		EndsAt        *time.Time `json:"ends_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.BadRequest("malformed appointment payload"))
		return
	}

	if req.Status != nil {
		if *req.Status != models.AppointmentAvailable && *req.Status != models.AppointmentBooked {
			fail(c, apperr.Validation("unknown appointment status"))
			return
		}
		appt.Status = *req.Status
		if appt.Status == models.AppointmentAvailable {
			appt.CustomerName = ""
			appt.CustomerPhone = ""
		}
	}
	if req.CustomerName != nil {
		appt.CustomerName = *req.CustomerName
	}
	if req.CustomerPhone != nil {
		appt.CustomerPhone = *req.CustomerPhone
	}
	if req.StartsAt != nil {
		appt.StartsAt = *req.StartsAt
	}
	if req.EndsAt != nil {
		appt.EndsAt = *req.EndsAt
	}

	if err := h.store.UpdateAppointment(appt); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

func (h *AppointmentHandler) Delete(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, apperr.BadRequest("invalid appointment id"))
		return
	}
	if err := h.store.DeleteAppointment(id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateRequest struct {
	StartDate   string `json:"start_date" binding:"required"` // 2006-01-02
	EndDate     string `json:"end_date" binding:"required"`
	Weekdays    []int  `json:"weekdays" binding:"required"` // 0=Sunday .. 6=Saturday
	OpenTime    string `json:"open_time" binding:"required"` // 15:04
	CloseTime   string `json:"close_time" binding:"required"`
	SlotMinutes int    `json:"slot_minutes" binding:"required"`
}

// Generate bulk-creates Available slots from a recurrence rule: every
// configured weekday between the two dates, slots of slot_minutes between
// opening and closing time.
func (h *AppointmentHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.BadRequest("malformed generate payload"))
		return
	}

	slots, err := expandRecurrence(req)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.store.CreateAppointments(slots); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(slots)})
}

func expandRecurrence(req generateRequest) ([]models.Appointment, error) {
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.Local)
	if err != nil {
		return nil, apperr.Validation("invalid start_date")
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, time.Local)
	if err != nil {
		return nil, apperr.Validation("invalid end_date")
	}
	if end.Before(start) {
		return nil, apperr.Validation("end_date is before start_date")
	}
	open, err := time.Parse("15:04", req.OpenTime)
	if err != nil {
		return nil, apperr.Validation("invalid open_time")
	}
	closeT, err := time.Parse("15:04", req.CloseTime)
	if err != nil {
		return nil, apperr.Validation("invalid close_time")
	}
	if req.SlotMinutes <= 0 {
		return nil, apperr.Validation("slot_minutes must be positive")
	}

	wanted := make(map[time.Weekday]bool)
	for _, d := range req.Weekdays {
		if d < 0 || d > 6 {
			return nil, apperr.Validation("weekdays must be 0..6")
		}
		wanted[time.Weekday(d)] = true
	}

	openMinutes := open.Hour()*60 + open.Minute()
	closeMinutes := closeT.Hour()*60 + closeT.Minute()
	if closeMinutes <= openMinutes {
		return nil, apperr.Validation("close_time must be after open_time")
	}

	var slots []models.Appointment
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if !wanted[day.Weekday()] {
			continue
		}
		for m := openMinutes; m+req.SlotMinutes <= closeMinutes; m += req.SlotMinutes {
			startsAt := day.Add(time.Duration(m) * time.Minute)
			slots = append(slots, models.Appointment{
				StartsAt: startsAt,
				EndsAt:   startsAt.Add(time.Duration(req.SlotMinutes) * time.Minute),
				Status:   models.AppointmentAvailable,
			})
		}
	}
	return slots, nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
