package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"chatclient-go/internal/events"
	"chatclient-go/internal/models"
	"chatclient-go/internal/socket"

	"github.com/google/uuid"
)

// delivery is one outbound event aimed at a specific connected user.
type delivery struct {
	userID string
	frame  []byte
}

// Hub maintains the set of active socket clients, broadcasts presence
// transitions, and routes chat events between connections. One connection
// per user id; a newer connection replaces the older one.
type Hub struct {
	store *Store

	clients map[string]*client

	register   chan *client
	unregister chan *client
	direct     chan delivery
	broadcast  chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub over the given store.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:      store,
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		direct:     make(chan delivery, 256),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop. Client registration, presence broadcasts, and
// frame delivery all happen here, one at a time. Run returns after Stop.
func (h *Hub) Run() {
	log.Println("demo server hub started")
	for {
		select {
		case <-h.done:
			for userID, c := range h.clients {
				close(c.send)
				delete(h.clients, userID)
			}
			log.Println("demo server hub stopped")
			return

		case c := <-h.register:
			if existing, ok := h.clients[c.userID]; ok {
				log.Printf("hub: user %s reconnected, dropping old connection", c.userID)
				close(existing.send)
			}
			h.clients[c.userID] = c
			h.store.SetOnline(c.userID, true)
			h.broadcastEvent(events.UserOnline, events.Presence{UserID: c.userID})

		case c := <-h.unregister:
			if stored, ok := h.clients[c.userID]; ok && stored == c {
				delete(h.clients, c.userID)
				close(c.send)
				h.store.SetOnline(c.userID, false)
				h.broadcastEvent(events.UserOffline, events.Presence{UserID: c.userID})
			}

		case d := <-h.direct:
			if c, ok := h.clients[d.userID]; ok {
				select {
				case c.send <- d.frame:
				default:
					// Slow or dead client: drop it.
					log.Printf("hub: send buffer full for user %s, dropping client", d.userID)
					close(c.send)
					delete(h.clients, d.userID)
				}
			}

		case frame := <-h.broadcast:
			for userID, c := range h.clients {
				select {
				case c.send <- frame:
				default:
					log.Printf("hub: send buffer full for user %s, dropping client", userID)
					close(c.send)
					delete(h.clients, userID)
				}
			}
		}
	}
}

// Stop shuts the hub loop down, closing every client's send channel.
// Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// broadcastEvent queues a named event for every connected client. Runs on
// the hub goroutine.
func (h *Hub) broadcastEvent(event string, payload interface{}) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", event, err)
		return
	}
	for userID, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			log.Printf("hub: send buffer full for user %s, dropping client", userID)
			close(c.send)
			delete(h.clients, userID)
		}
	}
}

// deliver queues a named event for one user. Non-blocking; called from
// client read pumps.
func (h *Hub) deliver(userID, event string, payload interface{}) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", event, err)
		return
	}
	select {
	case h.direct <- delivery{userID: userID, frame: frame}:
	default:
		log.Printf("hub: direct channel full, dropping %s for user %s", event, userID)
	}
}

func encodeEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(socket.Envelope{Event: event, Data: data})
}

// handleEvent processes one inbound client event. Runs on the sender's read
// pump goroutine; store access is internally synchronized.
func (h *Hub) handleEvent(sender *models.User, env socket.Envelope) {
	switch env.Event {
	case events.MessageSend:
		var payload events.SendMessage
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("hub: undecodable message:send from user %s: %v", sender.ID, err)
			return
		}
		h.handleSend(sender, payload)

	case events.TypingStart, events.TypingStop:
		var payload events.Typing
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		if payload.ReceiverID == "" {
			return
		}
		h.deliver(payload.ReceiverID, env.Event, events.Typing{
			UserID:         sender.ID,
			ConversationID: payload.ConversationID,
		})

	default:
		log.Printf("hub: ignoring unknown event %q from user %s", env.Event, sender.ID)
	}
}

// handleSend stores an inbound message and pushes it to the receiver, plus
// an echo to the sender carrying the server-assigned id and the original
// clientMsgId.
func (h *Hub) handleSend(sender *models.User, payload events.SendMessage) {
	if payload.Text == "" || payload.ReceiverID == "" {
		return
	}

	convoID := payload.ConversationID
	if convoID == "" {
		convoID = h.store.ConversationFor(sender.ID, payload.ReceiverID)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: convoID,
		Sender:         sender.Ref(),
		Text:           payload.Text,
		CreatedAt:      time.Now(),
		ReadBy:         []string{sender.ID},
		ClientMsgID:    payload.ClientMsgID,
	}
	h.store.AppendMessage(msg)

	push := events.NewMessage{Message: msg}
	h.deliver(payload.ReceiverID, events.MessageNew, push)
	h.deliver(sender.ID, events.MessageNew, push)
}
