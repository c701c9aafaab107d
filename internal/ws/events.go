package ws

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event tags. Payloads are a closed set: each tag has a
// fixed schema and anything malformed or unknown is rejected back to the
// sender instead of trusted at the call site.
const (
	EvRegisterPresence    = "register_presence"
	EvRequestConversation = "request_conversation"
	EvChatMessage         = "chatMessage"
	EvUpdateContactInfo   = "update_contact_info"
	EvTyping              = "typing"
	EvRequestConfig       = "request_config"
	EvRequestQuickReplies = "request_quick_replies"
	EvRequestAgents       = "request_agents"
	EvRequestContacts     = "request_contacts"
	EvLoginAttempt        = "login_attempt"
	EvCreateAgent         = "create_agent"
	EvUpdateAgent         = "update_agent"
	EvDeleteAgent         = "delete_agent"
	EvAddConfig           = "add_config"
	EvUpdateConfig        = "update_config"
	EvDeleteConfig        = "delete_config"
)

// Server-to-client event tags.
const (
	EvOnlineUsersUpdate   = "online_users_update"
	EvConversationHistory = "conversation_history"
	EvMessage             = "message"
	EvContactUpdate       = "contact_update"
	EvRemoteTyping        = "remote_typing"
	EvConfigList          = "config_list"
	EvQuickRepliesList    = "quick_replies_list"
	EvAgentsList          = "agents_list"
	EvContactsList        = "contacts_list"
	EvLoginSuccess        = "login_success"
	EvLoginError          = "login_error"
	EvActionSuccess       = "action_success"
	EvActionError         = "action_error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type presencePayload struct {
	User string `json:"user"`
}

type conversationPayload struct {
	Phone string `json:"phone"`
}

type chatMessagePayload struct {
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	Sender   string `json:"sender"`
	Kind     string `json:"kind"`
	MediaRef string `json:"media_ref"`
}

type contactInfoPayload struct {
	Phone   string            `json:"phone"`
	Updates map[string]string `json:"updates"`
}

type typingPayload struct {
	Phone string `json:"phone"`
	User  string `json:"user"`
}

type loginPayload struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type agentPayload struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Password      string `json:"password"`
	AdminPassword string `json:"admin_password"`
}

type configPayload struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	AdminPassword string `json:"admin_password"`
}

// remoteTyping is the relayed typing signal. Receivers clear their derived
// indicator when no repeat arrives within TypingWindow; the server keeps no
// timer of its own.
type remoteTyping struct {
	User  string `json:"user"`
	Phone string `json:"phone"`
}

type actionResult struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

// QuickReply is an approved template flattened for one-tap sending.
type QuickReply struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// marshalEvent builds a server frame. Marshal failures cannot happen for
// the closed payload set, so they are reported as an internal error frame.
func marshalEvent(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw, _ = json.Marshal(actionResult{Action: event, Message: fmt.Sprintf("encode: %v", err)})
		event = EvActionError
	}
	payload, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return payload
}

func decodePayload(env Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("event %q carries no data", env.Event)
	}
	return json.Unmarshal(env.Data, dst)
}
