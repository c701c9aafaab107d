// Package webhook is the inbound receiver: the system's only
// unauthenticated external write path. The handshake echoes the provider
// challenge only when the shared verify token matches; payloads are decoded
// with strict shape validation and anything unrecognized is dropped without
// crashing the process.
package webhook

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/relay"
)

type Handler struct {
	cfg   *config.Config
	relay *relay.Relay
	log   *logger.Logger
}

func NewHandler(cfg *config.Config, rl *relay.Relay, log *logger.Logger) *Handler {
	return &Handler{cfg: cfg, relay: rl, log: log.WithComponent("webhook")}
}

// Verify answers the provider handshake. An empty configured token refuses
// every handshake rather than accepting an empty echo.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.cfg.VerifyToken != "" && token == h.cfg.VerifyToken {
		h.log.Info("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// Receive decodes a provider callback into canonical events and pushes them
// through the same persist-then-fanout path as agent messages. Unrecognized
// shapes get a 404; recognized ones are always acknowledged with 200, even
// when persistence fails, so the provider does not retry forever.
func (h *Handler) Receive(c *gin.Context) {
	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Debug("unrecognized webhook payload", "error", err)
		c.Status(http.StatusNotFound)
		return
	}
	if payload.Object != "whatsapp_business_account" {
		c.Status(http.StatusNotFound)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processValue(change.Value)
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) processValue(value Value) {
	for _, inbound := range value.Messages {
		msg, ok := h.canonicalize(inbound)
		if !ok {
			h.log.Debug("ignoring unsupported inbound message", "type", inbound.Type)
			continue
		}
		// Persistence failure is logged but non-fatal here: the provider
		// already got its ack and will not redeliver usefully.
		if err := h.relay.HandleInbound(msg); err != nil {
			h.log.Warn("inbound message not persisted", "phone", msg.Phone, "error", err)
		}
	}

	for _, status := range value.Statuses {
		switch status.Status {
		case models.StatusSent, models.StatusDelivered, models.StatusRead:
			h.relay.HandleStatus(status.ID, status.Status)
		}
	}
}

// canonicalize flattens a nested provider message into the internal
// envelope. The sender identity of an inbound message is the customer's
// phone number.
func (h *Handler) canonicalize(inbound InboundMessage) (*models.Message, bool) {
	from := phone.Canonical(inbound.From, h.cfg.DefaultRegion)
	if from == "" || inbound.ID == "" {
		return nil, false
	}

	msg := &models.Message{
		Phone:     from,
		Sender:    from,
		Status:    models.StatusReceived,
		CreatedAt: time.Now(),
	}
	providerID := inbound.ID
	msg.ProviderID = &providerID

	switch inbound.Type {
	case models.KindText:
		msg.Kind = models.KindText
		msg.Body = inbound.Text.Body
	case models.KindImage:
		if inbound.Image == nil {
			return nil, false
		}
		msg.Kind = models.KindImage
		msg.Body = inbound.Image.Caption
		msg.MediaRef = inbound.Image.ID
	case models.KindAudio:
		if inbound.Audio == nil {
			return nil, false
		}
		msg.Kind = models.KindAudio
		msg.MediaRef = inbound.Audio.ID
	case models.KindDocument:
		if inbound.Document == nil {
			return nil, false
		}
		msg.Kind = models.KindDocument
		msg.Body = inbound.Document.Filename
		msg.MediaRef = inbound.Document.ID
	default:
		return nil, false
	}

	return msg, true
}
