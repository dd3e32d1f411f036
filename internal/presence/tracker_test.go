package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatclient-go/internal/events"
	"chatclient-go/internal/models"
	"chatclient-go/internal/socket"
)

type fakeRoster struct {
	users []models.User
	err   error
}

func (f *fakeRoster) Users(ctx context.Context) ([]models.User, error) {
	return f.users, f.err
}

type fakeSocket struct {
	mu       sync.Mutex
	handlers map[string]map[int]socket.Handler
	nextID   int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string]map[int]socket.Handler)}
}

func (f *fakeSocket) On(event string, h socket.Handler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]socket.Handler)
	}
	f.handlers[event][f.nextID] = h
	return f.nextID
}

func (f *fakeSocket) Off(event string, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[event], id)
}

func (f *fakeSocket) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.mu.Lock()
	hs := make([]socket.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeSocket) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func loadDemo(t *testing.T) *Tracker {
	t.Helper()
	tr := New(Options{
		Roster:       &fakeRoster{err: errors.New("connection refused")},
		DemoFallback: true,
	})
	if err := tr.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}
	return tr
}

func TestDemoRosterShape(t *testing.T) {
	tr := loadDemo(t)

	roster := tr.Roster()
	if len(roster) != 3 {
		t.Fatalf("expected 3 demo users, got %d", len(roster))
	}
	if !roster[0].IsOnline || roster[2].IsOnline != true {
		t.Error("alice and charlie should be online")
	}
	if roster[1].IsOnline {
		t.Error("bob should be offline")
	}
	if roster[1].LastSeenAt == nil {
		t.Fatal("bob should have a lastSeenAt")
	}
	age := time.Since(*roster[1].LastSeenAt)
	if age < 29*time.Minute || age > 31*time.Minute {
		t.Errorf("bob's lastSeenAt should be about 30 minutes ago, got %s", age)
	}
}

func TestOnUserOnlineKeepsLastSeen(t *testing.T) {
	tr := loadDemo(t)
	before := *tr.Roster()[1].LastSeenAt

	tr.OnUserOnline("2")

	bob := tr.Roster()[1]
	if !bob.IsOnline {
		t.Fatal("bob should be online")
	}
	if bob.LastSeenAt == nil || !bob.LastSeenAt.Equal(before) {
		t.Errorf("lastSeenAt must be unchanged by user:online, got %v want %v", bob.LastSeenAt, before)
	}
}

func TestOnUserOfflineStampsLastSeen(t *testing.T) {
	tr := loadDemo(t)
	before := time.Now()

	tr.OnUserOffline("1")

	alice := tr.Roster()[0]
	if alice.IsOnline {
		t.Fatal("alice should be offline")
	}
	if alice.LastSeenAt == nil || alice.LastSeenAt.Before(before) {
		t.Errorf("lastSeenAt should be stamped at or after the call, got %v", alice.LastSeenAt)
	}
}

func TestPresenceEventForUnknownUserDropped(t *testing.T) {
	tr := loadDemo(t)
	before := tr.Roster()

	tr.OnUserOnline("404")
	tr.OnUserOffline("404")

	after := tr.Roster()
	if len(after) != len(before) {
		t.Fatalf("roster size changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].IsOnline != after[i].IsOnline {
			t.Errorf("entry %d isOnline changed", i)
		}
		switch {
		case before[i].LastSeenAt == nil && after[i].LastSeenAt == nil:
		case before[i].LastSeenAt != nil && after[i].LastSeenAt != nil && before[i].LastSeenAt.Equal(*after[i].LastSeenAt):
		default:
			t.Errorf("entry %d lastSeenAt changed", i)
		}
	}
}

func TestRemoteRosterReplacesNotMerges(t *testing.T) {
	fetcher := &fakeRoster{err: errors.New("connection refused")}
	tr := New(Options{Roster: fetcher, DemoFallback: true})
	if err := tr.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	fetcher.err = nil
	fetcher.users = []models.User{{ID: "9", Username: "dave", IsOnline: true}}
	if err := tr.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	roster := tr.Roster()
	if len(roster) != 1 || roster[0].ID != "9" {
		t.Fatalf("expected the remote roster only, got %+v", roster)
	}
}

func TestSocketEventsDriveTracker(t *testing.T) {
	sock := newFakeSocket()
	tr := New(Options{
		Roster:       &fakeRoster{err: errors.New("refused")},
		DemoFallback: true,
		Socket:       func() (EventSocket, bool) { return sock, true },
	})
	if err := tr.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	sock.deliver(t, events.UserOnline, events.Presence{UserID: "2"})
	if !tr.Roster()[1].IsOnline {
		t.Fatal("user:online event did not update the roster")
	}
	sock.deliver(t, events.UserOffline, events.Presence{UserID: "2"})
	if tr.Roster()[1].IsOnline {
		t.Fatal("user:offline event did not update the roster")
	}
}

func TestTeardownIsIdempotentAndFreezesRoster(t *testing.T) {
	sock := newFakeSocket()
	tr := New(Options{
		Roster:       &fakeRoster{err: errors.New("refused")},
		DemoFallback: true,
		Socket:       func() (EventSocket, bool) { return sock, true },
	})
	if err := tr.LoadRoster(context.Background()); err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}

	tr.Teardown()
	tr.Teardown() // must not panic
	if sock.handlerCount() != 0 {
		t.Fatalf("listeners still registered after teardown: %d", sock.handlerCount())
	}

	tr.OnUserOffline("1")
	if tr.Roster()[0].IsOnline != true {
		t.Fatal("roster mutated after teardown")
	}
}
