package session

import (
	"encoding/json"
	"fmt"
	"time"

	"chatclient-go/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the decoded login state held by a running client.
type Session struct {
	Token string
	User  *models.User
}

// Load reads the persisted session. Returns ErrNotFound when no session is
// stored, and drops a session whose token has already expired.
func Load(store Store) (*Session, error) {
	token, err := store.Get(KeyToken)
	if err != nil {
		return nil, err
	}
	if expired, err := TokenExpired(token); err != nil || expired {
		// Stale or undecodable token: clear it so the caller falls
		// through to a fresh login.
		_ = Clear(store)
		return nil, ErrNotFound
	}

	userJSON, err := store.Get(KeyUser)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("decode stored user: %w", err)
	}
	return &Session{Token: token, User: &user}, nil
}

// Save persists a freshly obtained token and user record.
func Save(store Store, token string, user *models.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := store.Set(KeyToken, token); err != nil {
		return err
	}
	return store.Set(KeyUser, string(userJSON))
}

// Clear removes any persisted session. Removing absent keys is a no-op.
func Clear(store Store) error {
	if err := store.Remove(KeyToken); err != nil {
		return err
	}
	return store.Remove(KeyUser)
}

// TokenExpired inspects a JWT's exp claim without verifying the signature.
// The client only uses this to avoid sending requests with a token the
// server is guaranteed to reject; actual validation happens server-side.
func TokenExpired(tokenString string) (bool, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return true, fmt.Errorf("decode token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return false, nil
	}
	return exp.Before(time.Now()), nil
}
