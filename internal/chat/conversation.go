// Package chat implements the conversation reconciler: the component that
// merges locally-optimistic sends, fetched history, and socket-pushed
// messages into one ordered message list for a single 1:1 conversation, and
// that tracks the peer's typing state.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"chatclient-go/internal/events"
	"chatclient-go/internal/models"
	"chatclient-go/internal/socket"

	"github.com/google/uuid"
)

// ErrNoHistory is returned by LoadInitial when no history fetcher was
// configured and the demo fallback is disabled, so a misconfigured
// conversation is distinguishable from one with an empty history.
var ErrNoHistory = errors.New("chat: no history source configured")

// HistoryFetcher fetches message history for a conversation. *rest.Client
// satisfies it; tests substitute fakes.
type HistoryFetcher interface {
	Messages(ctx context.Context, conversationID, peerID string) ([]models.Message, error)
}

// EventSocket is the slice of the socket connection the reconciler needs.
type EventSocket interface {
	Emit(event string, payload interface{}) error
	On(event string, h socket.Handler) int
	Off(event string, id int)
}

// SocketFunc reports the currently available socket, if any. Evaluated at
// each send/emit so the reconciler follows the connection's binary
// available/unavailable state without owning it.
type SocketFunc func() (EventSocket, bool)

// Options configures a Conversation.
type Options struct {
	RecipientID    string
	RecipientName  string
	ConversationID string // optional; adopted from pushed messages when empty
	Self           models.UserRef

	History HistoryFetcher
	Socket  SocketFunc

	// DedupeEcho reconciles a server echo of an own send (matched by
	// clientMsgId) into the optimistic entry instead of appending a
	// duplicate.
	DedupeEcho bool
	// DemoFallback substitutes the deterministic demo seed when the
	// initial history fetch fails.
	DemoFallback bool

	// OnChange fires after any state mutation; OnScrollToBottom fires
	// when the view should jump to the newest message. Either may be nil.
	OnChange         func()
	OnScrollToBottom func()
}

// listener records one registered socket handler so Teardown can remove it.
type listener struct {
	conn  EventSocket
	event string
	id    int
}

// Conversation owns the in-memory ordered message list and typing state of
// one 1:1 conversation. All mutations are serialized by an internal mutex;
// the socket read pump and the UI goroutine both enter.
type Conversation struct {
	opts Options

	mu             sync.Mutex
	conversationID string
	messages       []models.Message
	peerTyping     bool
	pending        map[string]struct{} // clientMsgIds of optimistic sends awaiting their echo
	listeners      []listener
	tornDown       bool
}

// New creates a Conversation bound to one peer and registers its socket
// listeners on the currently available connection.
func New(opts Options) *Conversation {
	c := &Conversation{
		opts:           opts,
		conversationID: opts.ConversationID,
		pending:        make(map[string]struct{}),
	}
	c.subscribe()
	return c
}

func (c *Conversation) subscribe() {
	if c.opts.Socket == nil {
		return
	}
	conn, ok := c.opts.Socket()
	if !ok {
		return
	}

	msgID := conn.On(events.MessageNew, func(data json.RawMessage) {
		var payload events.NewMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("chat: dropping undecodable message:new: %v", err)
			return
		}
		c.OnRemoteMessage(payload.Message)
	})
	startID := conn.On(events.TypingStart, func(data json.RawMessage) {
		var payload events.Typing
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		c.OnTypingStart(payload.UserID)
	})
	stopID := conn.On(events.TypingStop, func(data json.RawMessage) {
		var payload events.Typing
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		c.OnTypingStop(payload.UserID)
	})

	c.listeners = append(c.listeners,
		listener{conn, events.MessageNew, msgID},
		listener{conn, events.TypingStart, startID},
		listener{conn, events.TypingStop, stopID},
	)
}

// LoadInitial fetches message history and replaces the list with it, oldest
// first. On any transport failure it substitutes the deterministic demo seed
// instead; this is a demo convenience, not a retry policy, so no re-attempt
// is made.
func (c *Conversation) LoadInitial(ctx context.Context) error {
	var fetched []models.Message
	var err error
	if c.opts.History != nil {
		fetched, err = c.opts.History.Messages(ctx, c.ConversationID(), c.opts.RecipientID)
	}
	if err != nil || c.opts.History == nil {
		if !c.opts.DemoFallback {
			if err == nil {
				err = ErrNoHistory
			}
			return err
		}
		if err != nil {
			log.Printf("chat: history fetch failed, showing demo conversation: %v", err)
		}
		fetched = c.demoSeed()
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].CreatedAt.Before(fetched[j].CreatedAt)
	})

	c.mu.Lock()
	if c.tornDown {
		// The screen closed while the fetch was in flight.
		c.mu.Unlock()
		return nil
	}
	c.messages = fetched
	c.mu.Unlock()

	c.changed(true)
	return nil
}

// demoSeed is the fixed three-message conversation shown when no backend is
// reachable.
func (c *Conversation) demoSeed() []models.Message {
	now := time.Now()
	peer := models.UserRef{ID: c.opts.RecipientID, DisplayName: c.opts.RecipientName}
	return []models.Message{
		{
			ID:        "demo-1",
			Sender:    c.opts.Self,
			Text:      "Hey! How have you been?",
			CreatedAt: now.Add(-10 * time.Minute),
		},
		{
			ID:        "demo-2",
			Sender:    peer,
			Text:      "Pretty good, thanks! Busy week though.",
			CreatedAt: now.Add(-5 * time.Minute),
		},
		{
			ID:        "demo-3",
			Sender:    c.opts.Self,
			Text:      "Same here. Catch up properly soon?",
			CreatedAt: now,
		},
	}
}

// Send appends an optimistic message authored by the current user and emits
// it to the backend when a socket is available. Empty or whitespace-only
// text is silently rejected. The send is fire-and-forget: with no socket the
// message simply stays local.
func (c *Conversation) Send(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	id := uuid.NewString()

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	convoID := c.conversationID
	c.insertLocked(models.Message{
		ID:             id,
		ConversationID: convoID,
		Sender:         c.opts.Self,
		Text:           text,
		CreatedAt:      time.Now(),
		ClientMsgID:    id,
	})
	if c.opts.DedupeEcho {
		c.pending[id] = struct{}{}
	}
	c.mu.Unlock()

	c.changed(true)

	if conn, ok := c.socket(); ok {
		conn.Emit(events.MessageSend, events.SendMessage{
			Text:           text,
			ReceiverID:     c.opts.RecipientID,
			ConversationID: convoID,
			ClientMsgID:    id,
		})
	}
}

// OnRemoteMessage merges a server-pushed message into the list. Messages for
// other conversations are ignored. When echo dedup is enabled, a push whose
// clientMsgId matches a pending optimistic send replaces that entry in place
// instead of appending a duplicate.
func (c *Conversation) OnRemoteMessage(msg models.Message) {
	if !c.forThisConversation(msg) {
		return
	}

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}

	// Adopt the server's conversation id the first time we see one.
	if c.conversationID == "" && msg.ConversationID != "" {
		c.conversationID = msg.ConversationID
	}

	replaced := false
	if c.opts.DedupeEcho && msg.ClientMsgID != "" {
		if _, pending := c.pending[msg.ClientMsgID]; pending {
			for i := range c.messages {
				if c.messages[i].ClientMsgID == msg.ClientMsgID {
					c.messages[i] = msg
					replaced = true
					break
				}
			}
			delete(c.pending, msg.ClientMsgID)
		}
	}
	if !replaced {
		c.insertLocked(msg)
	}
	c.mu.Unlock()

	c.changed(true)
}

// insertLocked places msg so that the list stays in non-decreasing CreatedAt
// order. The common case is a plain append.
func (c *Conversation) insertLocked(msg models.Message) {
	n := len(c.messages)
	if n == 0 || !msg.CreatedAt.Before(c.messages[n-1].CreatedAt) {
		c.messages = append(c.messages, msg)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return c.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	c.messages = append(c.messages, models.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg
}

// forThisConversation filters pushed messages down to this screen's peer.
func (c *Conversation) forThisConversation(msg models.Message) bool {
	c.mu.Lock()
	convoID := c.conversationID
	c.mu.Unlock()

	if convoID != "" && msg.ConversationID != "" {
		return msg.ConversationID == convoID
	}
	return msg.Sender.ID == c.opts.RecipientID || msg.Sender.ID == c.opts.Self.ID
}

// OnTypingStart sets the peer-typing flag when the event is from this
// conversation's recipient; any other user id is ignored.
func (c *Conversation) OnTypingStart(peerID string) {
	c.setTyping(peerID, true)
}

// OnTypingStop clears the peer-typing flag for this conversation's
// recipient. There is no timeout: a lost stop event leaves the flag set
// until the next stop arrives or the screen closes.
func (c *Conversation) OnTypingStop(peerID string) {
	c.setTyping(peerID, false)
}

func (c *Conversation) setTyping(peerID string, typing bool) {
	if peerID != c.opts.RecipientID {
		return
	}
	c.mu.Lock()
	if c.tornDown || c.peerTyping == typing {
		c.mu.Unlock()
		return
	}
	c.peerTyping = typing
	c.mu.Unlock()
	c.changed(false)
}

// EmitTypingStart notifies the peer that the local user started typing.
// Fire-and-forget; a no-op without a socket.
func (c *Conversation) EmitTypingStart() { c.emitTyping(events.TypingStart) }

// EmitTypingStop notifies the peer that the local user stopped typing.
func (c *Conversation) EmitTypingStop() { c.emitTyping(events.TypingStop) }

func (c *Conversation) emitTyping(event string) {
	conn, ok := c.socket()
	if !ok {
		return
	}
	conn.Emit(event, events.Typing{
		ReceiverID:     c.opts.RecipientID,
		ConversationID: c.ConversationID(),
	})
}

// Teardown unregisters this conversation's socket listeners and freezes its
// state. Idempotent, and safe when no listeners were ever registered; a
// fetch or event resolving afterwards is absorbed as a no-op.
func (c *Conversation) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, l := range ls {
		l.conn.Off(l.event, l.id)
	}
}

// Messages returns a snapshot of the ordered message list.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// PeerTyping reports whether the remote participant is currently typing.
func (c *Conversation) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

// ConversationID returns the conversation id, which may have been adopted
// from a pushed message after construction.
func (c *Conversation) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Conversation) socket() (EventSocket, bool) {
	if c.opts.Socket == nil {
		return nil, false
	}
	return c.opts.Socket()
}

func (c *Conversation) changed(scroll bool) {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
	if scroll && c.opts.OnScrollToBottom != nil {
		c.opts.OnScrollToBottom()
	}
}
