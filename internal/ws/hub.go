// Package ws is the realtime session hub: it owns every live agent
// connection and is the single arbiter of which session receives which
// event. Inbound frames are tagged envelopes; conversation traffic is
// serialized per phone through the relay so every subscriber converges on
// the same ordered log.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/auth"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/relay"
	"whatsapp-crm/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Store is the slice of the Conversation Store Adapter the hub reads from
// and the config/roster surface it mutates through admin events.
type Store interface {
	GetHistory(phone string) ([]models.Message, error)
	GetContacts() ([]models.Contact, error)
	GetAgents() ([]models.Agent, error)
	GetConfigItems() ([]models.ConfigItem, error)
	CreateConfigItem(item *models.ConfigItem) error
	UpdateConfigItem(item *models.ConfigItem) error
	DeleteConfigItem(id uint) error
	GetTemplates() ([]models.Template, error)
}

// Hub routes events between connections, the store and the relay. Presence
// and typing state live in the Tracker and are advisory only: they hold no
// authority over persisted data and vanish with the process.
type Hub struct {
	store    Store
	auth     *auth.Service
	relay    *relay.Relay
	presence *Tracker
	region   string
	log      *logger.Logger

	// mu guards clients and subs. Handlers run on per-connection
	// goroutines, so the maps need real mutual exclusion.
	mu      sync.Mutex
	clients map[*Client]bool
	subs    map[string]map[*Client]bool
}

func NewHub(st Store, authSvc *auth.Service, rl *relay.Relay, region string, log *logger.Logger) *Hub {
	h := &Hub{
		store:    st,
		auth:     authSvc,
		relay:    rl,
		presence: NewTracker(),
		region:   region,
		log:      log.WithComponent("hub"),
		clients:  make(map[*Client]bool),
		subs:     make(map[string]map[*Client]bool),
	}
	return h
}

var _ relay.Fanout = (*Hub)(nil)
var _ Store = (*store.Store)(nil)

// ServeWs upgrades an HTTP request into a hub connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendQueueSize)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.log.Debug("client connected")

	go client.writePump()
	go client.readPump()
}

// drop removes a client and closes its send queue. Safe to call twice.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for p, subscribers := range h.subs {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.subs, p)
		}
	}
	c.closeSend()
}

// disconnect handles connection loss: the presence set shrinks and the
// online list is re-broadcast. Subscriptions do not survive reconnection;
// the client must re-subscribe.
func (h *Hub) disconnect(c *Client) {
	h.drop(c)
	h.presence.Remove(c)
	h.broadcast(marshalEvent(EvOnlineUsersUpdate, h.presence.OnlineSet()))
	h.log.Debug("client disconnected")
}

func (h *Hub) subscribe(c *Client, conversation string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	if h.subs[conversation] == nil {
		h.subs[conversation] = make(map[*Client]bool)
	}
	h.subs[conversation][c] = true
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.Unlock()
	for _, client := range targets {
		client.enqueue(payload)
	}
}

func (h *Hub) broadcastToConversation(conversation string, payload []byte, except *Client) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.subs[conversation]))
	for client := range h.subs[conversation] {
		if client != except {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()
	for _, client := range targets {
		client.enqueue(payload)
	}
}

// FanoutMessage delivers a persisted message to every subscriber of its
// conversation, including all of the sender's own sessions.
func (h *Hub) FanoutMessage(msg models.Message) {
	h.broadcastToConversation(msg.Phone, marshalEvent(EvMessage, msg), nil)
}

// FanoutContact broadcasts a contact snapshot to every connection so all
// agents' contact lists stay consistent without polling.
func (h *Hub) FanoutContact(contact models.Contact) {
	h.broadcast(marshalEvent(EvContactUpdate, contact))
}

// fail reports an error to the requesting connection only. Credential and
// validation failures keep their message; everything else is surfaced as a
// generic failure.
func (h *Hub) fail(c *Client, action string, err error) {
	message := "request failed"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindUnauthorized, apperr.KindValidation, apperr.KindConflict, apperr.KindNotFound, apperr.KindBadRequest:
			message = appErr.Message
		}
	}
	if action == EvLoginAttempt {
		c.sendEvent(EvLoginError, actionResult{Action: action, Message: message})
		return
	}
	c.sendEvent(EvActionError, actionResult{Action: action, Message: message})
}

func (h *Hub) succeed(c *Client, action string) {
	c.sendEvent(EvActionSuccess, actionResult{Action: action})
}

// handleEvent dispatches one decoded frame from a connection goroutine.
func (h *Hub) handleEvent(c *Client, env Envelope) {
	switch env.Event {
	case EvRegisterPresence:
		h.handleRegisterPresence(c, env)
	case EvRequestConversation:
		h.handleRequestConversation(c, env)
	case EvChatMessage:
		h.handleChatMessage(c, env)
	case EvUpdateContactInfo:
		h.handleUpdateContactInfo(c, env)
	case EvTyping:
		h.handleTyping(c, env)
	case EvRequestConfig:
		h.handleRequestConfig(c)
	case EvRequestQuickReplies:
		h.handleRequestQuickReplies(c)
	case EvRequestAgents:
		h.handleRequestAgents(c)
	case EvRequestContacts:
		h.handleRequestContacts(c)
	case EvLoginAttempt:
		h.handleLogin(c, env)
	case EvCreateAgent, EvUpdateAgent, EvDeleteAgent:
		h.handleAgentMutation(c, env)
	case EvAddConfig, EvUpdateConfig, EvDeleteConfig:
		h.handleConfigMutation(c, env)
	default:
		c.sendEvent(EvActionError, actionResult{Action: env.Event, Message: "unknown event"})
	}
}

func (h *Hub) handleRegisterPresence(c *Client, env Envelope) {
	var p presencePayload
	if err := decodePayload(env, &p); err != nil || p.User == "" {
		h.fail(c, env.Event, apperr.BadRequest("register_presence requires a user"))
		return
	}
	h.presence.Bind(c, p.User)
	h.broadcast(marshalEvent(EvOnlineUsersUpdate, h.presence.OnlineSet()))
}

// handleRequestConversation subscribes the connection to a conversation and
// sends its persisted history exactly once. Both steps run on the
// conversation's relay queue, so no message fanned out after subscription
// can be missing from the history or duplicated by it.
func (h *Hub) handleRequestConversation(c *Client, env Envelope) {
	var p conversationPayload
	if err := decodePayload(env, &p); err != nil || p.Phone == "" {
		h.fail(c, env.Event, apperr.BadRequest("request_conversation requires a phone"))
		return
	}
	conversation := phone.Canonical(p.Phone, h.region)

	h.relay.Dispatch(conversation, func() {
		history, err := h.store.GetHistory(conversation)
		if err != nil {
			h.log.StoreError("GetHistory", err)
			h.fail(c, env.Event, err)
			return
		}
		c.sendEvent(EvConversationHistory, history)
		h.subscribe(c, conversation)
	})
}

func (h *Hub) handleChatMessage(c *Client, env Envelope) {
	var p chatMessagePayload
	if err := decodePayload(env, &p); err != nil {
		h.fail(c, env.Event, apperr.BadRequest("malformed chatMessage"))
		return
	}
	if p.Phone == "" || (p.Message == "" && p.MediaRef == "") {
		h.fail(c, env.Event, apperr.BadRequest("chatMessage requires a phone and a body or media"))
		return
	}

	sender := p.Sender
	if sender == "" {
		sender = "Agente"
	}
	kind := p.Kind
	if kind == "" {
		kind = models.KindText
	}

	msg := &models.Message{
		Phone:     phone.Canonical(p.Phone, h.region),
		Sender:    sender,
		Body:      p.Message,
		Kind:      kind,
		MediaRef:  p.MediaRef,
		Status:    models.StatusSent,
		CreatedAt: time.Now(),
	}

	// Persist-before-fanout: a store failure surfaces here and nothing
	// reaches the provider or the subscribers.
	if err := h.relay.SendOutbound(msg); err != nil {
		h.fail(c, env.Event, err)
	}
}

func (h *Hub) handleUpdateContactInfo(c *Client, env Envelope) {
	var p contactInfoPayload
	if err := decodePayload(env, &p); err != nil || p.Phone == "" || len(p.Updates) == 0 {
		h.fail(c, env.Event, apperr.BadRequest("update_contact_info requires a phone and updates"))
		return
	}
	conversation := phone.Canonical(p.Phone, h.region)

	for field, value := range p.Updates {
		if _, err := h.relay.UpdateContactField(conversation, field, value); err != nil {
			h.fail(c, env.Event, err)
			return
		}
	}
	h.succeed(c, env.Event)
}

// handleTyping relays the signal to every other subscriber of the
// conversation. Expiry is not tracked here: absence of a repeat signal for
// TypingWindow is the receiver's clearing trigger.
func (h *Hub) handleTyping(c *Client, env Envelope) {
	var p typingPayload
	if err := decodePayload(env, &p); err != nil || p.Phone == "" || p.User == "" {
		h.fail(c, env.Event, apperr.BadRequest("typing requires a phone and a user"))
		return
	}
	conversation := phone.Canonical(p.Phone, h.region)
	h.presence.RecordTyping(conversation, p.User, time.Now())
	h.broadcastToConversation(conversation, marshalEvent(EvRemoteTyping, remoteTyping{User: p.User, Phone: conversation}), c)
}

func (h *Hub) handleRequestConfig(c *Client) {
	items, err := h.store.GetConfigItems()
	if err != nil {
		h.log.StoreError("GetConfigItems", err)
		h.fail(c, EvRequestConfig, err)
		return
	}
	c.sendEvent(EvConfigList, items)
}

func (h *Hub) handleRequestQuickReplies(c *Client) {
	templates, err := h.store.GetTemplates()
	if err != nil {
		h.log.StoreError("GetTemplates", err)
		h.fail(c, EvRequestQuickReplies, err)
		return
	}
	replies := make([]QuickReply, 0, len(templates))
	for _, tpl := range templates {
		if tpl.Status != models.TemplateApproved {
			continue
		}
		replies = append(replies, QuickReply{ID: tpl.ID, Name: tpl.Name, Body: tpl.Body})
	}
	c.sendEvent(EvQuickRepliesList, replies)
}

func (h *Hub) handleRequestAgents(c *Client) {
	agents, err := h.store.GetAgents()
	if err != nil {
		h.log.StoreError("GetAgents", err)
		h.fail(c, EvRequestAgents, err)
		return
	}
	c.sendEvent(EvAgentsList, agents)
}

func (h *Hub) handleRequestContacts(c *Client) {
	contacts, err := h.store.GetContacts()
	if err != nil {
		h.log.StoreError("GetContacts", err)
		h.fail(c, EvRequestContacts, err)
		return
	}
	c.sendEvent(EvContactsList, contacts)
}

func (h *Hub) handleLogin(c *Client, env Envelope) {
	var p loginPayload
	if err := decodePayload(env, &p); err != nil || p.Name == "" {
		h.fail(c, EvLoginAttempt, apperr.BadRequest("login_attempt requires a name"))
		return
	}
	agent, err := h.auth.Login(p.Name, p.Password)
	if err != nil {
		h.fail(c, EvLoginAttempt, err)
		return
	}
	c.sendEvent(EvLoginSuccess, agent)
}

func (h *Hub) handleAgentMutation(c *Client, env Envelope) {
	var p agentPayload
	if err := decodePayload(env, &p); err != nil {
		h.fail(c, env.Event, apperr.BadRequest("malformed agent payload"))
		return
	}

	var err error
	switch env.Event {
	case EvCreateAgent:
		_, err = h.auth.CreateAgent(p.Name, p.Role, p.Password, p.AdminPassword)
	case EvUpdateAgent:
		_, err = h.auth.UpdateAgent(p.ID, p.Name, p.Role, p.Password, p.AdminPassword)
	case EvDeleteAgent:
		err = h.auth.DeleteAgent(p.ID, p.AdminPassword)
	}
	if err != nil {
		h.fail(c, env.Event, err)
		return
	}

	h.succeed(c, env.Event)
	if agents, listErr := h.store.GetAgents(); listErr == nil {
		h.broadcast(marshalEvent(EvAgentsList, agents))
	}
}

func (h *Hub) handleConfigMutation(c *Client, env Envelope) {
	var p configPayload
	if err := decodePayload(env, &p); err != nil {
		h.fail(c, env.Event, apperr.BadRequest("malformed config payload"))
		return
	}
	if err := h.auth.RequireAdmin(p.AdminPassword); err != nil {
		h.fail(c, env.Event, err)
		return
	}

	var err error
	switch env.Event {
	case EvAddConfig:
		err = h.mutateAddConfig(p)
	case EvUpdateConfig:
		err = h.mutateUpdateConfig(p)
	case EvDeleteConfig:
		err = h.store.DeleteConfigItem(p.ID)
	}
	if err != nil {
		h.fail(c, env.Event, err)
		return
	}

	h.succeed(c, env.Event)
	if items, listErr := h.store.GetConfigItems(); listErr == nil {
		h.broadcast(marshalEvent(EvConfigList, items))
	}
}

func validConfigType(t string) bool {
	switch t {
	case models.ConfigDepartment, models.ConfigStatus, models.ConfigTag:
		return true
	}
	return false
}

func (h *Hub) mutateAddConfig(p configPayload) error {
	if p.Name == "" || !validConfigType(p.Type) {
		return apperr.Validation("config items need a name and a valid type")
	}
	return h.store.CreateConfigItem(&models.ConfigItem{Name: p.Name, Type: p.Type})
}

func (h *Hub) mutateUpdateConfig(p configPayload) error {
	if p.ID == 0 || p.Name == "" || !validConfigType(p.Type) {
		return apperr.Validation("config items need an id, a name and a valid type")
	}
	return h.store.UpdateConfigItem(&models.ConfigItem{ID: p.ID, Name: p.Name, Type: p.Type})
}
