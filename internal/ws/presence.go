package ws

import (
	"sort"
	"sync"
	"time"
)

// TypingWindow bounds how long a relayed typing signal stays meaningful.
// The server only relays; receivers clear their indicator when no repeat
// signal arrives within the window.
const TypingWindow = 3 * time.Second

type typingKey struct {
	phone string
	user  string
}

// Tracker holds the ephemeral presence and typing state. It is process
// lifetime only, holds no authority over persisted data, and is fully
// reconstructable from the currently connected sessions after a restart.
// Connection goroutines mutate it concurrently, hence the mutex.
type Tracker struct {
	mu         sync.Mutex
	identities map[*Client]string
	typing     map[typingKey]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		identities: make(map[*Client]string),
		typing:     make(map[typingKey]time.Time),
	}
}

// Bind associates a connection with an agent identity. A connection may
// rebind (re-login in the same tab); the same identity may be bound by any
// number of connections.
func (t *Tracker) Bind(c *Client, identity string) {
	t.mu.Lock()
	t.identities[c] = identity
	t.mu.Unlock()
}

// Remove drops a connection from the presence set.
func (t *Tracker) Remove(c *Client) {
	t.mu.Lock()
	delete(t.identities, c)
	t.mu.Unlock()
}

// OnlineSet returns the deduplicated, sorted list of identities with at
// least one live connection.
func (t *Tracker) OnlineSet() []string {
	t.mu.Lock()
	seen := make(map[string]bool, len(t.identities))
	for _, identity := range t.identities {
		if identity != "" {
			seen[identity] = true
		}
	}
	t.mu.Unlock()

	online := make([]string, 0, len(seen))
	for identity := range seen {
		online = append(online, identity)
	}
	sort.Strings(online)
	return online
}

// RecordTyping notes the last typing signal for a (conversation, agent)
// pair. Entries are advisory and obsolete after TypingWindow; each signal
// evicts the ones that already expired so the table stays bounded by the
// set of currently typing agents.
func (t *Tracker) RecordTyping(phone, user string, at time.Time) {
	t.mu.Lock()
	t.typing[typingKey{phone: phone, user: user}] = at
	for key, last := range t.typing {
		if at.Sub(last) > TypingWindow {
			delete(t.typing, key)
		}
	}
	t.mu.Unlock()
}

// LastTyping returns the time of the most recent typing signal for the
// pair, if any.
func (t *Tracker) LastTyping(phone, user string) (time.Time, bool) {
	t.mu.Lock()
	at, ok := t.typing[typingKey{phone: phone, user: user}]
	t.mu.Unlock()
	return at, ok
}
