package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/auth"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/relay"
)

const testPhone = "34600111222"

// hubStore backs the hub, the relay and the auth gate in one fake, the same
// way store.Store does in production.
type hubStore struct {
	mu         sync.Mutex
	messages   map[string][]models.Message
	contacts   map[string]*models.Contact
	agents     []models.Agent
	items      []models.ConfigItem
	templates  []models.Template
	nextItemID uint
	failAppend bool
}

func newHubStore() *hubStore {
	adminHash, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	return &hubStore{
		messages: make(map[string][]models.Message),
		contacts: make(map[string]*models.Contact),
		agents: []models.Agent{
			{ID: 1, Name: "Ana", Role: models.RoleAdmin, PasswordHash: string(adminHash)},
			{ID: 2, Name: "Laura", Role: models.RoleSales},
		},
		nextItemID: 1,
	}
}

func (s *hubStore) GetHistory(phone string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[phone]...), nil
}

func (s *hubStore) GetContacts() ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	return out, nil
}

func (s *hubStore) AppendMessage(msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		s.failAppend = false
		return false, apperr.Store("AppendMessage", errDown)
	}
	s.messages[msg.Phone] = append(s.messages[msg.Phone], *msg)
	return false, nil
}

func (s *hubStore) UpdateMessageStatus(providerID, status string) (*models.Message, error) {
	return nil, nil
}

func (s *hubStore) TouchContact(phone, name string, at time.Time) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[phone]
	if !ok {
		c = &models.Contact{Phone: phone, Name: name}
		s.contacts[phone] = c
	}
	c.LastActivity = at
	copied := *c
	return &copied, nil
}

func (s *hubStore) UpsertContactField(phone, field, value string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[phone]
	if !ok {
		c = &models.Contact{Phone: phone}
		s.contacts[phone] = c
	}
	switch field {
	case "name":
		c.Name = value
	case "department":
		c.Department = value
	case "status":
		c.Status = value
	case "assigned_agent":
		c.AssignedAgent = value
	default:
		return nil, apperr.Validation("unknown contact field")
	}
	copied := *c
	return &copied, nil
}

func (s *hubStore) GetAgents() ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Agent(nil), s.agents...), nil
}

func (s *hubStore) CountAgents() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.agents)), nil
}

func (s *hubStore) GetAgentByName(name string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].Name == name {
			copied := s.agents[i]
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("agent not found")
}

func (s *hubStore) GetAgentByID(id uint) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == id {
			copied := s.agents[i]
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("agent not found")
}

func (s *hubStore) GetAdmin() (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].Role == models.RoleAdmin {
			copied := s.agents[i]
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("no admin agent")
}

func (s *hubStore) CreateAgent(agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent.ID = uint(len(s.agents) + 1)
	s.agents = append(s.agents, *agent)
	return nil
}

func (s *hubStore) UpdateAgent(agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == agent.ID {
			s.agents[i] = *agent
			return nil
		}
	}
	return apperr.NotFound("agent not found")
}

func (s *hubStore) DeleteAgent(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == id {
			s.agents = append(s.agents[:i], s.agents[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("agent not found")
}

func (s *hubStore) GetConfigItems() ([]models.ConfigItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConfigItem(nil), s.items...), nil
}

func (s *hubStore) CreateConfigItem(item *models.ConfigItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.nextItemID
	s.nextItemID++
	s.items = append(s.items, *item)
	return nil
}

func (s *hubStore) UpdateConfigItem(item *models.ConfigItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = *item
			return nil
		}
	}
	return apperr.NotFound("config item not found")
}

func (s *hubStore) DeleteConfigItem(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("config item not found")
}

func (s *hubStore) GetTemplates() ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Template(nil), s.templates...), nil
}

var errDown = &downError{}

type downError struct{}

func (e *downError) Error() string { return "backend down" }

func newTestHub(t *testing.T) (*Hub, *hubStore) {
	t.Helper()
	st := newHubStore()
	log := logger.New("development")
	rl := relay.New(st, nil, log)
	h := NewHub(st, auth.NewService(st, log), rl, "ES", log)
	rl.SetFanout(h)
	return h, st
}

// connect attaches a bare client without a real websocket. Frames land in the
// send queue where tests read them back.
func connect(h *Hub) *Client {
	c := &Client{hub: h, send: make(chan []byte, sendQueueSize)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func env(event string, data interface{}) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Event: event, Data: raw}
}

// waitFor reads frames until one carries the wanted event tag, discarding
// unrelated broadcasts along the way.
func waitFor(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				t.Fatalf("connection dropped while waiting for %q", event)
			}
			var frame Envelope
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if frame.Event == event {
				return frame.Data
			}
		case <-deadline:
			t.Fatalf("no %q frame arrived", event)
		}
	}
}

func assertSilent(t *testing.T, c *Client, label string) {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame Envelope
		json.Unmarshal(raw, &frame)
		t.Fatalf("%s unexpectedly received %q", label, frame.Event)
	case <-time.After(150 * time.Millisecond):
	}
}

func subscribeConversation(t *testing.T, h *Hub, c *Client, phone string) {
	t.Helper()
	h.handleEvent(c, env(EvRequestConversation, map[string]string{"phone": phone}))
	waitFor(t, c, EvConversationHistory)
}

func TestRegisterPresenceDedupesAcrossConnections(t *testing.T) {
	h, _ := newTestHub(t)
	c1 := connect(h)
	c2 := connect(h)
	c3 := connect(h)

	h.handleEvent(c1, env(EvRegisterPresence, map[string]string{"user": "Laura"}))
	h.handleEvent(c2, env(EvRegisterPresence, map[string]string{"user": "Laura"}))
	h.handleEvent(c3, env(EvRegisterPresence, map[string]string{"user": "Marco"}))

	var online []string
	// c3 sees all three broadcasts; the last one carries the full set.
	for i := 0; i < 3; i++ {
		data := waitFor(t, c3, EvOnlineUsersUpdate)
		if err := json.Unmarshal(data, &online); err != nil {
			t.Fatalf("decode online set: %v", err)
		}
	}
	if len(online) != 2 || online[0] != "Laura" || online[1] != "Marco" {
		t.Fatalf("expected deduplicated [Laura Marco], got %v", online)
	}

	// Closing one of Laura's two connections must not remove her.
	h.disconnect(c1)
	json.Unmarshal(waitFor(t, c3, EvOnlineUsersUpdate), &online)
	if len(online) != 2 {
		t.Fatalf("Laura vanished while still connected elsewhere: %v", online)
	}

	h.disconnect(c2)
	json.Unmarshal(waitFor(t, c3, EvOnlineUsersUpdate), &online)
	if len(online) != 1 || online[0] != "Marco" {
		t.Fatalf("expected [Marco] after Laura's last connection closed, got %v", online)
	}
}

func TestRequestConversationDeliversHistoryThenLiveMessages(t *testing.T) {
	h, st := newTestHub(t)
	st.messages[testPhone] = []models.Message{
		{ID: 1, Phone: testPhone, Sender: testPhone, Body: "Hola", Status: models.StatusReceived},
		{ID: 2, Phone: testPhone, Sender: "Agente", Body: "Buenas", Status: models.StatusSent},
	}
	c := connect(h)

	h.handleEvent(c, env(EvRequestConversation, map[string]string{"phone": testPhone}))
	var history []models.Message
	if err := json.Unmarshal(waitFor(t, c, EvConversationHistory), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 || history[0].Body != "Hola" || history[1].Body != "Buenas" {
		t.Fatalf("history out of order: %+v", history)
	}

	h.FanoutMessage(models.Message{Phone: testPhone, Sender: testPhone, Body: "Sigue ahi?"})
	var live models.Message
	json.Unmarshal(waitFor(t, c, EvMessage), &live)
	if live.Body != "Sigue ahi?" {
		t.Fatalf("live message not delivered after subscription: %+v", live)
	}
}

func TestChatMessageFanoutIncludesSenderSessions(t *testing.T) {
	h, st := newTestHub(t)
	sender := connect(h)
	viewer := connect(h)
	subscribeConversation(t, h, sender, testPhone)
	subscribeConversation(t, h, viewer, testPhone)

	h.handleEvent(sender, env(EvChatMessage, map[string]string{"phone": testPhone, "message": "hola"}))

	for _, c := range []*Client{sender, viewer} {
		var msg models.Message
		json.Unmarshal(waitFor(t, c, EvMessage), &msg)
		if msg.Body != "hola" || msg.Sender != "Agente" || msg.Status != models.StatusSent {
			t.Fatalf("unexpected fanned-out message: %+v", msg)
		}
	}
	if len(st.messages[testPhone]) != 1 {
		t.Fatalf("message not persisted exactly once: %d", len(st.messages[testPhone]))
	}
}

func TestChatMessagePersistFailureReachesSenderOnly(t *testing.T) {
	h, st := newTestHub(t)
	sender := connect(h)
	viewer := connect(h)
	subscribeConversation(t, h, sender, testPhone)
	subscribeConversation(t, h, viewer, testPhone)

	st.failAppend = true
	h.handleEvent(sender, env(EvChatMessage, map[string]string{"phone": testPhone, "message": "hola"}))

	var result actionResult
	json.Unmarshal(waitFor(t, sender, EvActionError), &result)
	if result.Action != EvChatMessage {
		t.Fatalf("error frame names wrong action: %+v", result)
	}
	assertSilent(t, viewer, "viewer")
	if len(st.messages[testPhone]) != 0 {
		t.Fatal("message persisted despite store failure")
	}
}

func TestTypingRelayedToOtherSubscribersOnly(t *testing.T) {
	h, _ := newTestHub(t)
	typist := connect(h)
	peer := connect(h)
	outsider := connect(h)
	subscribeConversation(t, h, typist, testPhone)
	subscribeConversation(t, h, peer, testPhone)

	h.handleEvent(typist, env(EvTyping, map[string]string{"phone": testPhone, "user": "Laura"}))

	var signal remoteTyping
	json.Unmarshal(waitFor(t, peer, EvRemoteTyping), &signal)
	if signal.User != "Laura" || signal.Phone != testPhone {
		t.Fatalf("unexpected typing signal: %+v", signal)
	}
	assertSilent(t, typist, "typist")
	assertSilent(t, outsider, "outsider")
}

func TestUnknownEventRejectedToSenderOnly(t *testing.T) {
	h, _ := newTestHub(t)
	sender := connect(h)
	other := connect(h)

	h.handleEvent(sender, Envelope{Event: "self_destruct"})

	var result actionResult
	json.Unmarshal(waitFor(t, sender, EvActionError), &result)
	if result.Action != "self_destruct" || result.Message != "unknown event" {
		t.Fatalf("unexpected rejection: %+v", result)
	}
	assertSilent(t, other, "other connection")
}

func TestUpdateContactInfoBroadcastsAndIsIdempotent(t *testing.T) {
	h, st := newTestHub(t)
	editor := connect(h)
	bystander := connect(h)

	patch := env(EvUpdateContactInfo, map[string]interface{}{
		"phone":   testPhone,
		"updates": map[string]string{"status": "Cerrado"},
	})

	h.handleEvent(editor, patch)
	var contact models.Contact
	json.Unmarshal(waitFor(t, bystander, EvContactUpdate), &contact)
	if contact.Phone != testPhone || contact.Status != "Cerrado" {
		t.Fatalf("bystander got wrong snapshot: %+v", contact)
	}
	waitFor(t, editor, EvActionSuccess)

	// Re-applying the same patch converges on the same state and still
	// broadcasts.
	h.handleEvent(editor, patch)
	json.Unmarshal(waitFor(t, bystander, EvContactUpdate), &contact)
	if contact.Status != "Cerrado" {
		t.Fatalf("repeat patch diverged: %+v", contact)
	}
	if st.contacts[testPhone].Status != "Cerrado" {
		t.Fatalf("store state diverged: %+v", st.contacts[testPhone])
	}
}

func TestLoginFlows(t *testing.T) {
	h, _ := newTestHub(t)
	c := connect(h)

	// Open profile accepts any password.
	h.handleEvent(c, env(EvLoginAttempt, map[string]string{"name": "Laura", "password": "whatever"}))
	var agent models.Agent
	json.Unmarshal(waitFor(t, c, EvLoginSuccess), &agent)
	if agent.Name != "Laura" {
		t.Fatalf("unexpected login result: %+v", agent)
	}

	h.handleEvent(c, env(EvLoginAttempt, map[string]string{"name": "Ana", "password": "wrong"}))
	var result actionResult
	json.Unmarshal(waitFor(t, c, EvLoginError), &result)
	if result.Message != "invalid credentials" {
		t.Fatalf("unexpected login error: %+v", result)
	}

	h.handleEvent(c, env(EvLoginAttempt, map[string]string{"name": "Nadie", "password": ""}))
	json.Unmarshal(waitFor(t, c, EvLoginError), &result)
	if result.Message != "invalid credentials" {
		t.Fatalf("unknown agent must look like a bad credential: %+v", result)
	}
}

func TestConfigMutationRequiresAdminCredential(t *testing.T) {
	h, st := newTestHub(t)
	c := connect(h)
	observer := connect(h)

	h.handleEvent(c, env(EvAddConfig, map[string]string{
		"name": "Taller", "type": models.ConfigDepartment, "admin_password": "wrong",
	}))
	var result actionResult
	json.Unmarshal(waitFor(t, c, EvActionError), &result)
	if result.Message != "invalid admin credentials" {
		t.Fatalf("unexpected gate failure: %+v", result)
	}
	if len(st.items) != 0 {
		t.Fatal("config mutated despite failed gate")
	}

	h.handleEvent(c, env(EvAddConfig, map[string]string{
		"name": "Taller", "type": models.ConfigDepartment, "admin_password": "admin123",
	}))
	waitFor(t, c, EvActionSuccess)
	var items []models.ConfigItem
	json.Unmarshal(waitFor(t, observer, EvConfigList), &items)
	if len(items) != 1 || items[0].Name != "Taller" {
		t.Fatalf("config list not broadcast: %+v", items)
	}

	h.handleEvent(c, env(EvAddConfig, map[string]string{
		"name": "X", "type": "nonsense", "admin_password": "admin123",
	}))
	json.Unmarshal(waitFor(t, c, EvActionError), &result)
	if result.Message == "" || result.Message == "request failed" {
		t.Fatalf("type validation should surface its message: %+v", result)
	}
}

func TestAgentMutationBroadcastsRoster(t *testing.T) {
	h, _ := newTestHub(t)
	c := connect(h)
	observer := connect(h)

	h.handleEvent(c, env(EvCreateAgent, map[string]string{
		"name": "Marco", "role": models.RoleWorkshop, "admin_password": "admin123",
	}))
	waitFor(t, c, EvActionSuccess)

	var agents []models.Agent
	json.Unmarshal(waitFor(t, observer, EvAgentsList), &agents)
	if len(agents) != 3 {
		t.Fatalf("roster broadcast missing new agent: %+v", agents)
	}
}

func TestQuickRepliesFilterApprovedTemplates(t *testing.T) {
	h, st := newTestHub(t)
	st.templates = []models.Template{
		{ID: "tpl-1", Name: "saludo", Body: "Hola {{1}}", Status: models.TemplateApproved},
		{ID: "tpl-2", Name: "borrador", Body: "...", Status: models.TemplatePending},
	}
	c := connect(h)

	h.handleEvent(c, env(EvRequestQuickReplies, nil))
	var replies []QuickReply
	json.Unmarshal(waitFor(t, c, EvQuickRepliesList), &replies)
	if len(replies) != 1 || replies[0].Name != "saludo" {
		t.Fatalf("unapproved template leaked into quick replies: %+v", replies)
	}
}

func TestDisconnectWhileHistoryTaskQueued(t *testing.T) {
	h, st := newTestHub(t)
	st.messages[testPhone] = []models.Message{{ID: 1, Phone: testPhone, Body: "Hola"}}
	c := connect(h)

	// Hold the conversation's queue so the history task is still pending
	// when the client goes away.
	gate := make(chan struct{})
	h.relay.Dispatch(testPhone, func() { <-gate })
	h.handleEvent(c, env(EvRequestConversation, map[string]string{"phone": testPhone}))
	h.disconnect(c)
	close(gate)

	done := make(chan struct{})
	h.relay.Dispatch(testPhone, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("conversation queue never drained")
	}

	h.mu.Lock()
	_, subscribed := h.subs[testPhone][c]
	h.mu.Unlock()
	if subscribed {
		t.Fatal("disconnected client was subscribed by a late history task")
	}
}

func TestDeliveryToDisconnectedClientIsDiscarded(t *testing.T) {
	h, _ := newTestHub(t)
	c := connect(h)
	observer := connect(h)
	subscribeConversation(t, h, observer, testPhone)

	h.disconnect(c)

	// A broadcast may snapshot a client just before its queue closes; the
	// late delivery must be a no-op, not a panic.
	c.enqueue(marshalEvent(EvContactUpdate, models.Contact{Phone: testPhone}))
	h.FanoutContact(models.Contact{Phone: testPhone, Name: "Pepe"})

	var contact models.Contact
	json.Unmarshal(waitFor(t, observer, EvContactUpdate), &contact)
	if contact.Name != "Pepe" {
		t.Fatalf("surviving client missed the broadcast: %+v", contact)
	}
}

func TestSlowClientDroppedOnFullQueue(t *testing.T) {
	h, _ := newTestHub(t)
	c := connect(h)

	for i := 0; i < sendQueueSize; i++ {
		c.enqueue([]byte("{}"))
	}
	c.enqueue([]byte("{}"))

	h.mu.Lock()
	alive := h.clients[c]
	h.mu.Unlock()
	if alive {
		t.Fatal("client with a full queue was not dropped")
	}
	c.enqueue([]byte("{}"))
}
