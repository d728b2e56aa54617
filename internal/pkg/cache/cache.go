package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

// Database numbers on the cache server. Customer ids live in DB 0, rate
// limiter counters in DB 1.
const (
	cacheDatabase   = 0
	limiterDatabase = 1
)

// Config describes the Redis compatible cache server.
type Config struct {
	Host     string
	Port     string
	Password string
}

func ConfigFromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
	}
}

// NewClient connects to the cache server. A failed ping is only logged; the
// customer cache degrades to gateway lookups while the server is down.
func NewClient(ctx context.Context, cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cacheDatabase,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Successfully connected to cache: %s", pong)
	}
	return client
}

// NewLimiterStorage returns a fiber.Storage for the API rate limiter on the
// same server as client, in its own database.
func NewLimiterStorage(client *redis.Client) (fiber.Storage, error) {
	host, portRaw, err := net.SplitHostPort(client.Options().Addr)
	if err != nil {
		return nil, fmt.Errorf("parse cache address: %w", err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return nil, fmt.Errorf("parse cache port: %w", err)
	}

	return fiberredis.New(fiberredis.Config{
		Host:     host,
		Port:     port,
		Password: client.Options().Password,
		Database: limiterDatabase,
		Reset:    false,
	}), nil
}
