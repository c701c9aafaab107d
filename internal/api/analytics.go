package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-crm/internal/store"
)

// AnalyticsStore computes the dashboard counters.
type AnalyticsStore interface {
	GetAnalytics(now time.Time) (*store.Analytics, error)
}

type AnalyticsHandler struct {
	store AnalyticsStore
}

func NewAnalyticsHandler(store AnalyticsStore) *AnalyticsHandler {
	return &AnalyticsHandler{store: store}
}

func (h *AnalyticsHandler) Get(c *gin.Context) {
	analytics, err := h.store.GetAnalytics(time.Now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}
