// Package presence tracks the online/offline/last-seen state of the chat
// roster, fed by a roster fetch and socket presence events.
package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"chatclient-go/internal/events"
	"chatclient-go/internal/models"
	"chatclient-go/internal/socket"
)

// RosterFetcher fetches the list of users available to chat with.
// *rest.Client satisfies it.
type RosterFetcher interface {
	Users(ctx context.Context) ([]models.User, error)
}

// EventSocket is the slice of the socket connection the tracker needs.
type EventSocket interface {
	On(event string, h socket.Handler) int
	Off(event string, id int)
}

// SocketFunc reports the currently available socket, if any.
type SocketFunc func() (EventSocket, bool)

// Options configures a Tracker.
type Options struct {
	Roster RosterFetcher
	Socket SocketFunc

	// DemoFallback substitutes the fixed demo roster when the fetch
	// fails.
	DemoFallback bool

	// OnChange fires after any roster mutation. May be nil.
	OnChange func()
}

type listener struct {
	conn  EventSocket
	event string
	id    int
}

// Tracker owns the in-memory roster for the lifetime of the user-list
// screen. Exactly one of {remote roster, demo roster} is active at a time.
type Tracker struct {
	opts Options

	mu        sync.Mutex
	roster    []models.User
	listeners []listener
	tornDown  bool
}

// New creates a Tracker and registers its presence listeners on the
// currently available connection.
func New(opts Options) *Tracker {
	t := &Tracker{opts: opts}
	t.subscribe()
	return t
}

func (t *Tracker) subscribe() {
	if t.opts.Socket == nil {
		return
	}
	conn, ok := t.opts.Socket()
	if !ok {
		return
	}

	onlineID := conn.On(events.UserOnline, func(data json.RawMessage) {
		var payload events.Presence
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		t.OnUserOnline(payload.UserID)
	})
	offlineID := conn.On(events.UserOffline, func(data json.RawMessage) {
		var payload events.Presence
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
		t.OnUserOffline(payload.UserID)
	})

	t.listeners = append(t.listeners,
		listener{conn, events.UserOnline, onlineID},
		listener{conn, events.UserOffline, offlineID},
	)
}

// LoadRoster fetches the user list, replacing the roster wholesale. On any
// transport failure it substitutes the fixed demo roster instead. The only
// retry avenue is the user invoking LoadRoster again (pull-to-refresh).
func (t *Tracker) LoadRoster(ctx context.Context) error {
	var fetched []models.User
	var err error
	if t.opts.Roster != nil {
		fetched, err = t.opts.Roster.Users(ctx)
	}
	if err != nil || t.opts.Roster == nil {
		if !t.opts.DemoFallback {
			return err
		}
		if err != nil {
			log.Printf("presence: roster fetch failed, showing demo roster: %v", err)
		}
		fetched = DemoRoster()
	}

	t.mu.Lock()
	if t.tornDown {
		t.mu.Unlock()
		return nil
	}
	t.roster = fetched
	t.mu.Unlock()

	t.changed()
	return nil
}

// DemoRoster is the fixed roster shown when no backend is reachable: two
// users online, one offline half an hour ago.
func DemoRoster() []models.User {
	lastSeen := time.Now().Add(-30 * time.Minute)
	return []models.User{
		{ID: "1", Username: "alice", DisplayName: "Alice", Email: "alice@example.com", IsOnline: true},
		{ID: "2", Username: "bob", DisplayName: "Bob", Email: "bob@example.com", IsOnline: false, LastSeenAt: &lastSeen},
		{ID: "3", Username: "charlie", DisplayName: "Charlie", Email: "charlie@example.com", IsOnline: true},
	}
}

// OnUserOnline marks a roster entry online, leaving lastSeenAt untouched.
// An id not present in the current roster is dropped.
func (t *Tracker) OnUserOnline(userID string) {
	t.mu.Lock()
	if t.tornDown {
		t.mu.Unlock()
		return
	}
	updated := false
	for i := range t.roster {
		if t.roster[i].ID == userID && !t.roster[i].IsOnline {
			t.roster[i].IsOnline = true
			updated = true
		}
	}
	t.mu.Unlock()
	if updated {
		t.changed()
	}
}

// OnUserOffline marks a roster entry offline and stamps lastSeenAt with the
// current time. An id not present in the current roster is dropped.
func (t *Tracker) OnUserOffline(userID string) {
	t.mu.Lock()
	if t.tornDown {
		t.mu.Unlock()
		return
	}
	updated := false
	for i := range t.roster {
		if t.roster[i].ID == userID {
			now := time.Now()
			t.roster[i].IsOnline = false
			t.roster[i].LastSeenAt = &now
			updated = true
		}
	}
	t.mu.Unlock()
	if updated {
		t.changed()
	}
}

// Teardown unregisters the presence listeners and freezes the roster.
// Idempotent; events delivered afterwards are absorbed as no-ops.
func (t *Tracker) Teardown() {
	t.mu.Lock()
	if t.tornDown {
		t.mu.Unlock()
		return
	}
	t.tornDown = true
	ls := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	for _, l := range ls {
		l.conn.Off(l.event, l.id)
	}
}

// Roster returns a snapshot of the current roster.
func (t *Tracker) Roster() []models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.User, len(t.roster))
	copy(out, t.roster)
	return out
}

func (t *Tracker) changed() {
	if t.opts.OnChange != nil {
		t.opts.OnChange()
	}
}
