package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the collaborators the HTTP layer is built from.
type Dependencies struct {
	Service  *billing.Service
	Verifier billing.Verifier

	// IdentityHeader carries the authenticated user id; empty means X-User-ID.
	IdentityHeader string
	// RateLimit is the number of API requests per client and minute. Zero
	// disables the limiter.
	RateLimit int
	// LimiterStorage shares limiter counters between instances. Nil keeps
	// them in memory.
	LimiterStorage fiber.Storage

	// HealthCheck reports whether the backing stores are reachable.
	HealthCheck func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Service routes go first so /health and /metrics bypass the API limiter.
	setup(app, NewServiceRouter(deps.HealthCheck), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
