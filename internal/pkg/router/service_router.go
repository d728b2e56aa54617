package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthCheckTimeout = 2 * time.Second

type ServiceRouter struct {
	healthCheck func(ctx context.Context) error
}

func (s ServiceRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (s ServiceRouter) handleHealth(c *fiber.Ctx) error {
	if s.healthCheck != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()
		if err := s.healthCheck(ctx); err != nil {
			fiberlog.Warnf("[Health] Check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func NewServiceRouter(healthCheck func(ctx context.Context) error) *ServiceRouter {
	return &ServiceRouter{healthCheck: healthCheck}
}
