package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/models"
	phonepkg "whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/relay"
)

// TemplateStore is the store surface the template handlers use.
type TemplateStore interface {
	GetTemplates() ([]models.Template, error)
	GetTemplate(id string) (*models.Template, error)
	CreateTemplate(tpl *models.Template) error
	DeleteTemplate(id string) error
}

type TemplateHandler struct {
	store  TemplateStore
	relay  *relay.Relay
	region string
}

func NewTemplateHandler(store TemplateStore, rl *relay.Relay, region string) *TemplateHandler {
	return &TemplateHandler{store: store, relay: rl, region: region}
}

func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.store.GetTemplates()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

type createTemplateRequest struct {
	Name      string `json:"name" binding:"required"`
	Language  string `json:"language"`
	Category  string `json:"category"`
	Body      string `json:"body" binding:"required"`
	Variables string `json:"variables"`
}

// Create registers a template locally in Pending state; the provider's
// review flips it to Approved or Rejected later.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.BadRequest("template needs a name and a body"))
		return
	}

	language := req.Language
	if language == "" {
		language = "es"
	}
	tpl := &models.Template{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Language:  language,
		Category:  req.Category,
		Status:    models.TemplatePending,
		Body:      req.Body,
		Variables: req.Variables,
	}
	if err := h.store.CreateTemplate(tpl); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, apperr.BadRequest("missing template id"))
		return
	}
	if err := h.store.DeleteTemplate(id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendTemplateRequest struct {
	Phone      string   `json:"phone" binding:"required"`
	TemplateID string   `json:"template_id" binding:"required"`
	Params     []string `json:"params"`
}

// Send substitutes the positional variables, persists the rendered body as
// a regular outbound message and delivers through the template endpoint.
func (h *TemplateHandler) Send(c *gin.Context) {
	var req sendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.BadRequest("send-template needs a phone and a template_id"))
		return
	}

	tpl, err := h.store.GetTemplate(req.TemplateID)
	if err != nil {
		fail(c, err)
		return
	}
	if tpl.Status != models.TemplateApproved {
		fail(c, apperr.Validation("template is not approved"))
		return
	}

	msg := &models.Message{
		Phone:     phonepkg.Canonical(req.Phone, h.region),
		Sender:    "Agente",
		Body:      substitute(tpl.Body, req.Params),
		Kind:      models.KindText,
		Status:    models.StatusSent,
		CreatedAt: time.Now(),
	}
	if err := h.relay.SendTemplateOutbound(msg, tpl.Name, tpl.Language, req.Params); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// substitute replaces {{1}}, {{2}}, ... with the positional parameters.
// Placeholders without a parameter are left untouched.
func substitute(body string, params []string) string {
	for i, p := range params {
		body = strings.ReplaceAll(body, fmt.Sprintf("{{%d}}", i+1), p)
	}
	return body
}
