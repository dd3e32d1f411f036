// Package server is the bundled demo backend: an in-memory, single-process
// stand-in for the real chat backend, speaking the same REST and socket
// surface the client consumes.
package server

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"chatclient-go/internal/auth"
	"chatclient-go/internal/models"
)

// ErrUserExists is returned when a username or email is already taken.
var ErrUserExists = errors.New("server: user already exists")

// account pairs a public user record with its credential hash.
type account struct {
	user         models.User
	passwordHash string
}

// Store holds all demo server state in memory. Everything is lost on
// restart, which is the point of a demo backend.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]*account // user id -> account
	byUsername    map[string]string   // username -> user id
	byEmail       map[string]string   // email -> user id
	nextUserID    int
	conversations map[string]string           // pair key -> conversation id
	nextConvoID   int
	messages      map[string][]models.Message // conversation id -> ordered messages
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts:      make(map[string]*account),
		byUsername:    make(map[string]string),
		byEmail:       make(map[string]string),
		conversations: make(map[string]string),
		messages:      make(map[string][]models.Message),
	}
}

// Seed populates the store with the demo accounts (password "password").
func (s *Store) Seed() {
	seed := []struct {
		username, displayName, email string
	}{
		{"alice", "Alice", "alice@example.com"},
		{"bob", "Bob", "bob@example.com"},
		{"charlie", "Charlie", "charlie@example.com"},
	}
	for _, u := range seed {
		if _, err := s.CreateUser(u.username, u.displayName, u.email, "password"); err != nil {
			log.Printf("server: seeding %s: %v", u.username, err)
		}
	}
}

// CreateUser registers a new account with a bcrypt-hashed password.
func (s *Store) CreateUser(username, displayName, email, password string) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[username]; taken {
		return nil, ErrUserExists
	}
	if email != "" {
		if _, taken := s.byEmail[email]; taken {
			return nil, ErrUserExists
		}
	}

	s.nextUserID++
	id := strconv.Itoa(s.nextUserID)
	acct := &account{
		user: models.User{
			ID:          id,
			Username:    username,
			DisplayName: displayName,
			Email:       email,
		},
		passwordHash: hash,
	}
	s.accounts[id] = acct
	s.byUsername[username] = id
	if email != "" {
		s.byEmail[email] = id
	}

	u := acct.user
	return &u, nil
}

// Authenticate checks credentials against a username or email and returns
// the user on success.
func (s *Store) Authenticate(usernameOrEmail, password string) (*models.User, bool) {
	s.mu.RLock()
	id, ok := s.byUsername[usernameOrEmail]
	if !ok {
		id, ok = s.byEmail[usernameOrEmail]
	}
	var acct *account
	if ok {
		acct = s.accounts[id]
	}
	s.mu.RUnlock()

	if acct == nil || !auth.CheckPasswordHash(password, acct.passwordHash) {
		return nil, false
	}
	u := acct.user
	return &u, true
}

// User returns the public record for a user id.
func (s *Store) User(id string) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	u := acct.user
	return &u, true
}

// Users returns the roster, excluding the requesting user, ordered by id.
func (s *Store) Users(excludeID string) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.accounts))
	for id, acct := range s.accounts {
		if id == excludeID {
			continue
		}
		out = append(out, acct.user)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// SetOnline flips a user's presence. Going offline stamps lastSeenAt.
func (s *Store) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return
	}
	acct.user.IsOnline = online
	if !online {
		now := time.Now()
		acct.user.LastSeenAt = &now
	}
}

// pairKey is order-independent so both participants map to one conversation.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationFor returns the conversation id for a user pair, creating one
// on first contact.
func (s *Store) ConversationFor(a, b string) string {
	key := pairKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.conversations[key]; ok {
		return id
	}
	s.nextConvoID++
	id := strconv.Itoa(s.nextConvoID)
	s.conversations[key] = id
	return id
}

// LookupConversation returns the existing conversation id for a user pair.
func (s *Store) LookupConversation(a, b string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.conversations[pairKey(a, b)]
	return id, ok
}

// AppendMessage stores a message under its conversation.
func (s *Store) AppendMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
}

// MessagesForConversation returns the stored history, oldest first.
func (s *Store) MessagesForConversation(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
