package models

import (
	"time"
)

// Agent roles. Exactly one Admin agent may exist and it must carry a password.
const (
	RoleSales    = "Sales"
	RoleWorkshop = "Workshop"
	RoleAdmin    = "Admin"
)

// Agent is a staff member who can log into the chat client. An agent with an
// empty password hash is an open profile: any submitted credential logs in.
type Agent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Role         string    `gorm:"type:varchar(50);not null" json:"role"`
	PasswordHash string    `gorm:"type:varchar(255)" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Agent) TableName() string {
	return "agents"
}

// Contact is a customer conversation endpoint, keyed by phone number.
type Contact struct {
	Phone         string    `gorm:"primaryKey;type:varchar(50)" json:"phone"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	Department    string    `gorm:"type:varchar(100)" json:"department"`
	Status        string    `gorm:"type:varchar(100)" json:"status"`
	AssignedAgent string    `gorm:"type:varchar(255)" json:"assigned_agent"`
	LastActivity  time.Time `json:"last_activity"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindAudio    = "audio"
	KindDocument = "document"
)

// Message statuses.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message belongs to one Contact by phone. Append-only; rows are never
// updated after creation except for the provider delivery status.
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Phone      string    `gorm:"index;type:varchar(50);not null" json:"phone"`
	Sender     string    `gorm:"type:varchar(255);not null" json:"sender"`
	Body       string    `gorm:"type:text" json:"body"`
	Kind       string    `gorm:"type:varchar(20)" json:"kind"`
	MediaRef   string    `gorm:"type:text" json:"media_ref,omitempty"`
	Status     string    `gorm:"type:varchar(20)" json:"status"`
	ProviderID *string   `gorm:"type:varchar(255);uniqueIndex" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ConfigItem types.
const (
	ConfigDepartment = "Department"
	ConfigStatus     = "Status"
	ConfigTag        = "Tag"
)

// ConfigItem is a named tag referenced by contacts by name. Renaming an item
// does not cascade to contacts that reference the old name.
type ConfigItem struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(100);not null" json:"name"`
	Type string `gorm:"type:varchar(20);not null" json:"type"`
}

func (ConfigItem) TableName() string {
	return "config_items"
}

// Template approval states, mirroring the provider workflow.
const (
	TemplatePending  = "PENDING"
	TemplateApproved = "APPROVED"
	TemplateRejected = "REJECTED"
)

// Template is a pre-approved outbound message pattern with positional
// variables ({{1}}, {{2}}, ...). Variables holds a JSON map of position to
// label; it is metadata only and never enforced beyond substitution.
type Template struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Language  string    `gorm:"type:varchar(50)" json:"language"`
	Category  string    `gorm:"type:varchar(100)" json:"category"`
	Status    string    `gorm:"type:varchar(50)" json:"status"`
	Body      string    `gorm:"type:text" json:"body"`
	Variables string    `gorm:"type:text" json:"variables"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Template) TableName() string {
	return "templates"
}

// Appointment states.
const (
	AppointmentAvailable = "Available"
	AppointmentBooked    = "Booked"
)

// Appointment is a bookable time slot, independent of the message lifecycle.
type Appointment struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	StartsAt      time.Time `gorm:"index;not null" json:"starts_at"`
	EndsAt        time.Time `gorm:"not null" json:"ends_at"`
	Status        string    `gorm:"type:varchar(20);not null" json:"status"`
	CustomerName  string    `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerPhone string    `gorm:"type:varchar(50)" json:"customer_phone"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// Media records an uploaded attachment. ProviderID is set when the file was
// pushed to the messaging provider, LocalPath when it is served from disk.
type Media struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProviderID string    `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	Filename   string    `gorm:"type:varchar(255)" json:"filename"`
	MimeType   string    `gorm:"type:varchar(100)" json:"mime_type"`
	FileSize   int64     `json:"file_size"`
	LocalPath  string    `gorm:"type:text" json:"-"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (Media) TableName() string {
	return "media"
}
