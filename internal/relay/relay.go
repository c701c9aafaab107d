// Package relay owns the persist-then-fanout pipeline shared by the inbound
// webhook receiver and the realtime hub. Work for one conversation is
// serialized on a per-phone queue so that, within a conversation, messages
// hit the store and the live subscribers in submission order; unrelated
// conversations never wait behind a slow store call for another phone.
package relay

import (
	"sync"
	"time"

	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
)

// Store is the slice of the Conversation Store Adapter the relay needs.
type Store interface {
	AppendMessage(msg *models.Message) (duplicate bool, err error)
	UpdateMessageStatus(providerID, status string) (*models.Message, error)
	TouchContact(phone, name string, at time.Time) (*models.Contact, error)
	UpsertContactField(phone, field, value string) (*models.Contact, error)
}

// Delivery sends a canonical outbound message to the external provider.
type Delivery interface {
	Deliver(msg *models.Message) error
	SendTemplate(to, templateName, languageCode string, params []string) error
}

// Fanout pushes events to live subscribers. The hub implements it; tests
// substitute a recorder.
type Fanout interface {
	FanoutMessage(msg models.Message)
	FanoutContact(contact models.Contact)
}

type Relay struct {
	store    Store
	delivery Delivery
	log      *logger.Logger

	fanoutMu sync.RWMutex
	fanout   Fanout

	mu     sync.Mutex
	queues map[string]*convQueue
}

// queueIdleTimeout is how long a conversation worker lingers after its last
// task before retiring. Variable so tests can shorten it.
var queueIdleTimeout = time.Minute

// convQueue is one conversation's serial work queue. pending is guarded by
// the relay mutex and counts tasks accepted but not yet finished; the worker
// only retires when it is zero, so a queue visible to Dispatch always has a
// live worker.
type convQueue struct {
	tasks   chan func()
	pending int
}

func New(store Store, delivery Delivery, log *logger.Logger) *Relay {
	return &Relay{
		store:    store,
		delivery: delivery,
		log:      log.WithComponent("relay"),
		queues:   make(map[string]*convQueue),
	}
}

// SetFanout binds the live fan-out sink. Called once during wiring; the
// relay tolerates a nil sink so the store path works headless.
func (r *Relay) SetFanout(f Fanout) {
	r.fanoutMu.Lock()
	r.fanout = f
	r.fanoutMu.Unlock()
}

func (r *Relay) fanoutMessage(msg models.Message) {
	r.fanoutMu.RLock()
	f := r.fanout
	r.fanoutMu.RUnlock()
	if f != nil {
		f.FanoutMessage(msg)
	}
}

func (r *Relay) fanoutContact(contact models.Contact) {
	r.fanoutMu.RLock()
	f := r.fanout
	r.fanoutMu.RUnlock()
	if f != nil {
		f.FanoutContact(contact)
	}
}

// Dispatch enqueues a task on the conversation's serial queue. Tasks for
// the same phone run one at a time in enqueue order; each phone gets its
// own worker goroutine, created on first use and retired once the queue
// has been idle for queueIdleTimeout.
func (r *Relay) Dispatch(phone string, task func()) {
	r.mu.Lock()
	queue, ok := r.queues[phone]
	if !ok {
		queue = &convQueue{tasks: make(chan func(), 64)}
		r.queues[phone] = queue
		go r.drain(phone, queue)
	}
	queue.pending++
	r.mu.Unlock()
	queue.tasks <- task
}

func (r *Relay) drain(phone string, queue *convQueue) {
	idle := time.NewTimer(queueIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case task := <-queue.tasks:
			task()
			r.mu.Lock()
			queue.pending--
			r.mu.Unlock()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(queueIdleTimeout)
		case <-idle.C:
			r.mu.Lock()
			if queue.pending == 0 {
				delete(r.queues, phone)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			idle.Reset(queueIdleTimeout)
		}
	}
}

// call runs a task on the conversation queue and waits for it.
func (r *Relay) call(phone string, task func()) {
	done := make(chan struct{})
	r.Dispatch(phone, func() {
		defer close(done)
		task()
	})
	<-done
}

// SendOutbound persists an agent-originated message, hands it to the
// provider, and fans it out to every subscriber of the conversation
// including the sender's own other sessions. Persistence failure aborts
// delivery and fan-out so the live view never diverges from the store; a
// delivery failure is logged and does not touch the local conversation.
func (r *Relay) SendOutbound(msg *models.Message) error {
	var err error
	r.call(msg.Phone, func() {
		if _, appendErr := r.store.AppendMessage(msg); appendErr != nil {
			r.log.StoreError("AppendMessage", appendErr)
			err = appendErr
			return
		}

		if contact, touchErr := r.store.TouchContact(msg.Phone, "", msg.CreatedAt); touchErr != nil {
			r.log.StoreError("TouchContact", touchErr)
		} else {
			r.fanoutContact(*contact)
		}

		if r.delivery != nil {
			if deliverErr := r.delivery.Deliver(msg); deliverErr != nil {
				r.log.DeliveryError(msg.Phone, deliverErr)
			}
		}

		r.fanoutMessage(*msg)
	})
	return err
}

// SendTemplateOutbound persists the substituted template body as a regular
// outbound message, fans it out, and delivers through the provider's
// template endpoint so an expired conversation window can be re-opened.
func (r *Relay) SendTemplateOutbound(msg *models.Message, templateName, languageCode string, params []string) error {
	var err error
	r.call(msg.Phone, func() {
		if _, appendErr := r.store.AppendMessage(msg); appendErr != nil {
			r.log.StoreError("AppendMessage", appendErr)
			err = appendErr
			return
		}

		if contact, touchErr := r.store.TouchContact(msg.Phone, "", msg.CreatedAt); touchErr != nil {
			r.log.StoreError("TouchContact", touchErr)
		} else {
			r.fanoutContact(*contact)
		}

		if r.delivery != nil {
			if deliverErr := r.delivery.SendTemplate(msg.Phone, templateName, languageCode, params); deliverErr != nil {
				r.log.DeliveryError(msg.Phone, deliverErr)
			}
		}

		r.fanoutMessage(*msg)
	})
	return err
}

// HandleInbound persists a customer-originated message and fans it out. A
// redelivered provider message id is acknowledged without re-persisting or
// re-fanning-out.
func (r *Relay) HandleInbound(msg *models.Message) error {
	var err error
	r.call(msg.Phone, func() {
		duplicate, appendErr := r.store.AppendMessage(msg)
		if appendErr != nil {
			r.log.StoreError("AppendMessage", appendErr)
			err = appendErr
			return
		}
		if duplicate {
			r.log.Debug("duplicate webhook delivery ignored", "phone", msg.Phone)
			return
		}

		if contact, touchErr := r.store.TouchContact(msg.Phone, msg.Phone, msg.CreatedAt); touchErr != nil {
			r.log.StoreError("TouchContact", touchErr)
		} else {
			r.fanoutContact(*contact)
		}

		r.fanoutMessage(*msg)
	})
	return err
}

// HandleStatus records a provider delivery-status transition (sent,
// delivered, read) and fans out the refreshed message. Unknown provider ids
// are ignored.
func (r *Relay) HandleStatus(providerID, status string) {
	msg, err := r.store.UpdateMessageStatus(providerID, status)
	if err != nil {
		r.log.StoreError("UpdateMessageStatus", err)
		return
	}
	if msg == nil {
		return
	}
	r.Dispatch(msg.Phone, func() {
		r.fanoutMessage(*msg)
	})
}

// UpdateContactField applies a single-field contact patch on the
// conversation queue and broadcasts the resulting snapshot. Idempotent:
// re-applying the same value yields the same state and another broadcast.
func (r *Relay) UpdateContactField(phone, field, value string) (*models.Contact, error) {
	var (
		contact *models.Contact
		err     error
	)
	r.call(phone, func() {
		contact, err = r.store.UpsertContactField(phone, field, value)
		if err != nil {
			r.log.StoreError("UpsertContactField", err)
			return
		}
		r.fanoutContact(*contact)
	})
	return contact, err
}
