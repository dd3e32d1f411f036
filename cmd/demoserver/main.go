package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatclient-go/internal/auth"
	"chatclient-go/internal/config"
	appredis "chatclient-go/internal/redis"
	"chatclient-go/internal/server"

	redisdriver "github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Println("demo server config loaded")

	// Token blacklist: redis-backed when an address is configured,
	// in-memory otherwise.
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Addr != "" {
		redisClient := redisdriver.NewClient(&redisdriver.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("connect to redis: %v", err)
		}
		blacklist = appredis.NewRedisTokenBlacklist(redisClient)
		log.Println("using redis token blacklist")
	} else {
		blacklist = auth.NewMemoryTokenBlacklist()
		log.Println("using in-memory token blacklist")
	}

	store := server.NewStore()
	store.Seed()
	log.Println("demo accounts seeded: alice, bob, charlie (password: password)")

	hub := server.NewHub(store)
	go hub.Run()

	handlers := server.NewHandlers(store, hub, blacklist, cfg.Auth, cfg.WebSocket)
	router := server.NewRouter(handlers, cfg, blacklist)

	addr := cfg.DemoServer.Host + ":" + cfg.DemoServer.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.DemoServer.ReadTimeout,
		WriteTimeout: cfg.DemoServer.WriteTimeout,
	}

	go func() {
		log.Printf("demo server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down demo server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	hub.Stop()
	log.Println("demo server stopped")
}
