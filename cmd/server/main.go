package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/api"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/engine"
	"github.com/ignite/outreach-engine/internal/sender"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	log.Println("[Server] connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("[Server] redis unavailable, daily caps disabled: %v", err)
			redisClient = nil
		} else {
			log.Println("[Server] connected to redis")
		}
	}

	var snd sender.Sender
	if cfg.Brevo.APIKey != "" {
		snd = sender.NewBrevoSender(cfg.Brevo.APIKey, cfg.Brevo.FromEmail, cfg.Brevo.FromName, cfg.Brevo.Timeout())
	} else {
		log.Println("[Server] no provider API key, using log sender")
		snd = &sender.LogSender{}
	}

	store := engine.NewStore(db)
	policy := engine.NewPolicy(cfg.Ingestor.SoftBounceLimit)
	ingestor := engine.NewIngestor(store, policy)
	planner := engine.NewPlanner(store)
	dailyCap := engine.NewDailyCap(redisClient)

	dispatcher := engine.NewDispatcher(store, snd, nil, dailyCap, engine.DispatcherConfig{
		Interval:    cfg.Dispatcher.Interval(),
		BatchSize:   cfg.Dispatcher.BatchSize,
		SendTimeout: cfg.Dispatcher.SendTimeout(),
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		BackoffBase: cfg.Dispatcher.BackoffBase(),
		BackoffCap:  cfg.Dispatcher.BackoffCap(),
	})
	matcher := engine.NewMatcher(store, planner, redisClient, db, engine.MatcherConfig{
		Interval:      cfg.Matcher.Interval(),
		BatchPerSweep: cfg.Matcher.BatchPerSweep,
	})

	ctx := context.Background()
	dispatcher.Start(ctx)
	matcher.Start(ctx)

	handlers := api.NewHandlers(db, planner, ingestor, dispatcher)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Printf("[Server] listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil {
			log.Printf("[Server] http server stopped: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("[Server] shutting down")

	matcher.Stop()
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] shutdown: %v", err)
	}
}
