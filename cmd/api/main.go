package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/Riukim/drycat-webshop/core"
)

func main() {
	// Best-effort .env load for local development.
	_ = godotenv.Load()

	cfg := core.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	ctx := context.Background()
	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	// With REDIS_URL set the login/registration limits are shared across
	// processes; otherwise each process keeps its own in-memory state.
	var loginLimiter, registrationLimiter core.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
		loginLimiter = core.NewRedisRateLimiter(redisClient, "ratelimit:login")
		registrationLimiter = core.NewRedisFixedWindowLimiter(redisClient, "ratelimit:register")
	} else {
		loginLimiter = core.NewLoginRateLimiter()
		registrationLimiter = core.NewRegistrationRateLimiter()
	}

	users := core.NewPgUserRepository(db)
	svc := core.NewAuthService(users)
	codec := core.NewTokenCodec(cfg.JWTSecret)

	router := core.NewRouter(cfg, svc, codec, loginLimiter, registrationLimiter)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
