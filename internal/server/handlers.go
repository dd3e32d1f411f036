package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"chatclient-go/internal/auth"
	"chatclient-go/internal/config"
	"chatclient-go/internal/models"

	"github.com/gorilla/mux"
)

// Handlers bundles the demo server's HTTP endpoints.
type Handlers struct {
	store     *Store
	hub       *Hub
	blacklist auth.TokenBlacklist
	authCfg   config.AuthConfig
	wsCfg     config.WebSocketConfig
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(store *Store, hub *Hub, blacklist auth.TokenBlacklist, authCfg config.AuthConfig, wsCfg config.WebSocketConfig) *Handlers {
	return &Handlers{store: store, hub: hub, blacklist: blacklist, authCfg: authCfg, wsCfg: wsCfg}
}

// writeJSONResponse writes v as JSON with the given status.
func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeJSONError writes {"error": message} with the given status.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}

// Register handles POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.CreateUser(req.Username, req.DisplayName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			writeJSONError(w, "username or email already in use", http.StatusConflict)
		} else {
			writeJSONError(w, "registration failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user, ok := h.store.Authenticate(req.Username, req.Password)
	if !ok {
		writeJSONError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, h.authCfg)
	if err != nil {
		writeJSONError(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.LoginResponse{Token: token, User: user})
}

// Logout handles POST /api/v1/auth/logout by blacklisting the token's JTI.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	if claims.ExpiresAt != nil {
		if err := h.blacklist.Add(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			writeJSONError(w, "logout failed", http.StatusInternalServerError)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Users handles GET /api/v1/users, the roster excluding the caller.
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.store.Users(claims.UserID))
}

// Messages handles GET /api/v1/messages?peerId=, the peer-scoped default
// history fetch. No conversation yet means empty history, not an error.
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	peerID := r.URL.Query().Get("peerId")
	if peerID == "" {
		writeJSONError(w, "peerId query parameter is required", http.StatusBadRequest)
		return
	}

	convoID, ok := h.store.LookupConversation(claims.UserID, peerID)
	if !ok {
		writeJSONResponse(w, http.StatusOK, []models.Message{})
		return
	}
	writeJSONResponse(w, http.StatusOK, h.store.MessagesForConversation(convoID))
}

// MessagesByConversation handles GET /api/v1/messages/{conversationID}.
func (h *Handlers) MessagesByConversation(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetClaimsFromContext(r.Context()); !ok {
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	convoID := vars["conversationID"]
	writeJSONResponse(w, http.StatusOK, h.store.MessagesForConversation(convoID))
}

// WebSocket handles GET /ws?token=, authenticating from the query string
// because browser websocket clients cannot set headers.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSONError(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), token, h.authCfg.JWTSecretKey, h.blacklist)
	if err != nil {
		writeJSONError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	user, ok := h.store.User(claims.UserID)
	if !ok {
		writeJSONError(w, "unknown user", http.StatusUnauthorized)
		return
	}
	ServeWS(h.hub, user, w, r, h.wsCfg)
}
