// Package store is the Conversation Store Adapter: the single persistence
// boundary for messages, contacts, agents, config items, templates,
// appointments and media. Every method is request/response and resolves with
// success or a typed StoreError; nothing streams and nothing hangs.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"
)

// Store wraps the GORM handle. It is constructed once at process start and
// injected into every component that persists anything.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured backend and runs auto-migration.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(cfg.DBPath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Agent{},
		&models.Contact{},
		&models.Message{},
		&models.ConfigItem{},
		&models.Template{},
		&models.Appointment{},
		&models.Media{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing GORM handle. Used by tests.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Messages ---

// GetHistory returns every message for a conversation in persistence order.
func (s *Store) GetHistory(phone string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.Where("phone = ?", phone).Order("id asc").Find(&msgs).Error; err != nil {
		return nil, apperr.Store("GetHistory", err)
	}
	return msgs, nil
}

// AppendMessage persists a message. A message whose ProviderID already
// exists is a provider redelivery: the insert is skipped and Duplicate is
// reported so the caller can suppress fan-out.
func (s *Store) AppendMessage(msg *models.Message) (duplicate bool, err error) {
	if msg.ProviderID != nil {
		var count int64
		if err := s.db.Model(&models.Message{}).Where("provider_id = ?", *msg.ProviderID).Count(&count).Error; err != nil {
			return false, apperr.Store("AppendMessage", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	if err := s.db.Create(msg).Error; err != nil {
		return false, apperr.Store("AppendMessage", err)
	}
	return false, nil
}

// UpdateMessageStatus records a provider delivery status transition and
// returns the refreshed message, or nil when no message carries that id.
func (s *Store) UpdateMessageStatus(providerID, status string) (*models.Message, error) {
	var msg models.Message
	err := s.db.Where("provider_id = ?", providerID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("UpdateMessageStatus", err)
	}
	if err := s.db.Model(&msg).Update("status", status).Error; err != nil {
		return nil, apperr.Store("UpdateMessageStatus", err)
	}
	msg.Status = status
	return &msg, nil
}

// --- Contacts ---

func (s *Store) GetContacts() ([]models.Contact, error) {
	var contacts []models.Contact
	if err := s.db.Order("last_activity desc").Find(&contacts).Error; err != nil {
		return nil, apperr.Store("GetContacts", err)
	}
	return contacts, nil
}

func (s *Store) GetContact(phone string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("contact not found")
	}
	if err != nil {
		return nil, apperr.Store("GetContact", err)
	}
	return &contact, nil
}

// Contact fields that may be patched through UpsertContactField.
var contactFields = map[string]string{
	"name":           "name",
	"department":     "department",
	"status":         "status",
	"assigned_agent": "assigned_agent",
}

// UpsertContactField applies a single-field partial update and returns the
// resulting contact snapshot. The row is created when missing, so a contact
// is implicitly addressable by phone as soon as anyone writes to it.
// Applying the same update twice yields the same state.
func (s *Store) UpsertContactField(phone, field, value string) (*models.Contact, error) {
	column, ok := contactFields[field]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown contact field %q", field))
	}

	now := time.Now()
	var contact models.Contact
	err := s.db.Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contact = models.Contact{Phone: phone, LastActivity: now}
		if err := s.db.Create(&contact).Error; err != nil {
			return nil, apperr.Store("UpsertContactField", err)
		}
	} else if err != nil {
		return nil, apperr.Store("UpsertContactField", err)
	}

	if err := s.db.Model(&contact).Update(column, value).Error; err != nil {
		return nil, apperr.Store("UpsertContactField", err)
	}

	if err := s.db.Where("phone = ?", phone).First(&contact).Error; err != nil {
		return nil, apperr.Store("UpsertContactField", err)
	}
	return &contact, nil
}

// TouchContact ensures a contact row exists for the phone and advances its
// last-activity timestamp. The name is only written on first contact.
func (s *Store) TouchContact(phone, name string, at time.Time) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contact = models.Contact{Phone: phone, Name: name, LastActivity: at}
		if err := s.db.Create(&contact).Error; err != nil {
			return nil, apperr.Store("TouchContact", err)
		}
		return &contact, nil
	}
	if err != nil {
		return nil, apperr.Store("TouchContact", err)
	}

	if err := s.db.Model(&contact).Update("last_activity", at).Error; err != nil {
		return nil, apperr.Store("TouchContact", err)
	}
	contact.LastActivity = at
	return &contact, nil
}

// --- Agents ---

func (s *Store) GetAgents() ([]models.Agent, error) {
	var agents []models.Agent
	if err := s.db.Order("id asc").Find(&agents).Error; err != nil {
		return nil, apperr.Store("GetAgents", err)
	}
	return agents, nil
}

func (s *Store) CountAgents() (int64, error) {
	var count int64
	if err := s.db.Model(&models.Agent{}).Count(&count).Error; err != nil {
		return 0, apperr.Store("CountAgents", err)
	}
	return count, nil
}

func (s *Store) GetAgentByName(name string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Where("name = ?", name).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("agent not found")
	}
	if err != nil {
		return nil, apperr.Store("GetAgentByName", err)
	}
	return &agent, nil
}

func (s *Store) GetAgentByID(id uint) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("agent not found")
	}
	if err != nil {
		return nil, apperr.Store("GetAgentByID", err)
	}
	return &agent, nil
}

// GetAdmin returns the Admin agent, or NotFound when none exists yet.
func (s *Store) GetAdmin() (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Where("role = ?", models.RoleAdmin).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("no admin agent configured")
	}
	if err != nil {
		return nil, apperr.Store("GetAdmin", err)
	}
	return &agent, nil
}

func (s *Store) CreateAgent(agent *models.Agent) error {
	if err := s.db.Create(agent).Error; err != nil {
		return apperr.Store("CreateAgent", err)
	}
	return nil
}

func (s *Store) UpdateAgent(agent *models.Agent) error {
	if err := s.db.Save(agent).Error; err != nil {
		return apperr.Store("UpdateAgent", err)
	}
	return nil
}

func (s *Store) DeleteAgent(id uint) error {
	if err := s.db.Delete(&models.Agent{}, id).Error; err != nil {
		return apperr.Store("DeleteAgent", err)
	}
	return nil
}

// --- Config items ---

func (s *Store) GetConfigItems() ([]models.ConfigItem, error) {
	var items []models.ConfigItem
	if err := s.db.Order("type asc, name asc").Find(&items).Error; err != nil {
		return nil, apperr.Store("GetConfigItems", err)
	}
	return items, nil
}

func (s *Store) CreateConfigItem(item *models.ConfigItem) error {
	if err := s.db.Create(item).Error; err != nil {
		return apperr.Store("CreateConfigItem", err)
	}
	return nil
}

func (s *Store) UpdateConfigItem(item *models.ConfigItem) error {
	if err := s.db.Save(item).Error; err != nil {
		return apperr.Store("UpdateConfigItem", err)
	}
	return nil
}

func (s *Store) DeleteConfigItem(id uint) error {
	if err := s.db.Delete(&models.ConfigItem{}, id).Error; err != nil {
		return apperr.Store("DeleteConfigItem", err)
	}
	return nil
}

// --- Templates ---

func (s *Store) GetTemplates() ([]models.Template, error) {
	var templates []models.Template
	if err := s.db.Order("name asc").Find(&templates).Error; err != nil {
		return nil, apperr.Store("GetTemplates", err)
	}
	return templates, nil
}

func (s *Store) GetTemplate(id string) (*models.Template, error) {
	var tpl models.Template
	err := s.db.Where("id = ?", id).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("template not found")
	}
	if err != nil {
		return nil, apperr.Store("GetTemplate", err)
	}
	return &tpl, nil
}

func (s *Store) CreateTemplate(tpl *models.Template) error {
	if err := s.db.Create(tpl).Error; err != nil {
		return apperr.Store("CreateTemplate", err)
	}
	return nil
}

func (s *Store) DeleteTemplate(id string) error {
	if err := s.db.Delete(&models.Template{}, "id = ?", id).Error; err != nil {
		return apperr.Store("DeleteTemplate", err)
	}
	return nil
}

// --- Appointments ---

func (s *Store) GetAppointments() ([]models.Appointment, error) {
	var appts []models.Appointment
	if err := s.db.Order("starts_at asc").Find(&appts).Error; err != nil {
		return nil, apperr.Store("GetAppointments", err)
	}
	return appts, nil
}

func (s *Store) CreateAppointment(appt *models.Appointment) error {
	if err := s.db.Create(appt).Error; err != nil {
		return apperr.Store("CreateAppointment", err)
	}
	return nil
}

// CreateAppointments bulk-inserts generated slots in one transaction.
func (s *Store) CreateAppointments(appts []models.Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	if err := s.db.Create(&appts).Error; err != nil {
		return apperr.Store("CreateAppointments", err)
	}
	return nil
}

func (s *Store) UpdateAppointment(appt *models.Appointment) error {
	if err := s.db.Save(appt).Error; err != nil {
		return apperr.Store("UpdateAppointment", err)
	}
	return nil
}

func (s *Store) GetAppointment(id uint) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.First(&appt, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, apperr.Store("GetAppointment", err)
	}
	return &appt, nil
}

func (s *Store) DeleteAppointment(id uint) error {
	if err := s.db.Delete(&models.Appointment{}, id).Error; err != nil {
		return apperr.Store("DeleteAppointment", err)
	}
	return nil
}

// --- Media ---

func (s *Store) CreateMedia(media *models.Media) error {
	if err := s.db.Create(media).Error; err != nil {
		return apperr.Store("CreateMedia", err)
	}
	return nil
}

func (s *Store) GetMedia(id string) (*models.Media, error) {
	var media models.Media
	err := s.db.Where("id = ?", id).First(&media).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("media not found")
	}
	if err != nil {
		return nil, apperr.Store("GetMedia", err)
	}
	return &media, nil
}
