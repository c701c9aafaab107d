package store

import (
	"time"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/models"
)

// DayCount is one bucket of the per-day message volume series.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Analytics summarizes message and contact activity for the dashboard.
type Analytics struct {
	TotalMessages    int64      `json:"total_messages"`
	InboundMessages  int64      `json:"inbound_messages"`
	OutboundMessages int64      `json:"outbound_messages"`
	TotalContacts    int64      `json:"total_contacts"`
	ContactsByStatus map[string]int64 `json:"contacts_by_status"`
	MessagesPerDay   []DayCount `json:"messages_per_day"`
}

// GetAnalytics computes dashboard counters. The per-day series covers the
// last 14 days including today, with empty days present as zero.
func (s *Store) GetAnalytics(now time.Time) (*Analytics, error) {
	a := &Analytics{ContactsByStatus: make(map[string]int64)}

	msgs := s.db.Model(&models.Message{})
	if err := msgs.Count(&a.TotalMessages).Error; err != nil {
		return nil, apperr.Store("GetAnalytics", err)
	}
	if err := s.db.Model(&models.Message{}).Where("status = ?", models.StatusReceived).Count(&a.InboundMessages).Error; err != nil {
		return nil, apperr.Store("GetAnalytics", err)
	}
	a.OutboundMessages = a.TotalMessages - a.InboundMessages

	if err := s.db.Model(&models.Contact{}).Count(&a.TotalContacts).Error; err != nil {
		return nil, apperr.Store("GetAnalytics", err)
	}

	type statusRow struct {
		Status string
		Count  int64
	}
	var byStatus []statusRow
	if err := s.db.Model(&models.Contact{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, apperr.Store("GetAnalytics", err)
	}
	for _, row := range byStatus {
		a.ContactsByStatus[row.Status] = row.Count
	}

	since := now.AddDate(0, 0, -13)
	dayStart := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())

	var recent []models.Message
	if err := s.db.Where("created_at >= ?", dayStart).Find(&recent).Error; err != nil {
		return nil, apperr.Store("GetAnalytics", err)
	}

	counts := make(map[string]int64)
	for _, msg := range recent {
		counts[msg.CreatedAt.Format("2006-01-02")]++
	}
	for d := 0; d < 14; d++ {
		day := dayStart.AddDate(0, 0, d).Format("2006-01-02")
		a.MessagesPerDay = append(a.MessagesPerDay, DayCount{Day: day, Count: counts[day]})
	}

	return a, nil
}
