package server

import (
	"net/http"

	"chatclient-go/internal/auth"
	"chatclient-go/internal/config"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// NewRouter wires the demo server's routes: public auth endpoints, the
// authenticated /api/v1 subrouter, and the websocket endpoint.
func NewRouter(h *Handlers, cfg config.Config, blacklist auth.TokenBlacklist) http.Handler {
	r := mux.NewRouter()

	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(AuthMiddleware(cfg.Auth, blacklist))
	apiRouter.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users", h.Users).Methods(http.MethodGet)
	apiRouter.HandleFunc("/messages", h.Messages).Methods(http.MethodGet)
	apiRouter.HandleFunc("/messages/{conversationID}", h.MessagesByConversation).Methods(http.MethodGet)

	r.HandleFunc(cfg.DemoServer.WebSocketPath, h.WebSocket).Methods(http.MethodGet)

	corsCfg := cfg.DemoServer.CORS
	corsOpts := []gorillahandlers.CORSOption{
		gorillahandlers.AllowedOrigins(corsCfg.AllowedOrigins),
		gorillahandlers.AllowedMethods(corsCfg.AllowedMethods),
		gorillahandlers.AllowedHeaders(corsCfg.AllowedHeaders),
		gorillahandlers.MaxAge(corsCfg.MaxAge),
	}
	if corsCfg.AllowCredentials {
		corsOpts = append(corsOpts, gorillahandlers.AllowCredentials())
	}

	return gorillahandlers.CORS(corsOpts...)(r)
}
