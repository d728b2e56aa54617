package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PayMirror/app/controllers"
	"github.com/ManuelReschke/PayMirror/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	handlers := []fiber.Handler{middleware.UserContextMiddleware(h.deps.IdentityHeader)}
	if h.deps.RateLimit > 0 {
		handlers = append(handlers, limiter.New(limiter.Config{
			Max:        h.deps.RateLimit,
			Expiration: time.Minute,
			Storage:    h.deps.LimiterStorage,
			// gateway webhooks arrive in bursts and must not be throttled
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/api/v1/payments/webhook"
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
			},
		}))
	}

	api := app.Group("/api", handlers...)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	payment := controllers.NewPaymentController(h.deps.Service, h.deps.Verifier)
	subscription := controllers.NewSubscriptionController(h.deps.Service)

	// webhook is authenticated by its signature, not by the identity header
	v1.Post("/payments/webhook", payment.HandleWebhook)

	payments := v1.Group("/payments", middleware.RequireUser)
	payments.Post("/create-intent", payment.HandleCreateIntent)
	payments.Get("/status/:id", payment.HandleGetStatus)
	payments.Get("/methods", payment.HandleListMethods)
	payments.Post("/methods/attach", payment.HandleAttachMethod)
	payments.Post("/methods/:id/default", payment.HandleSetDefaultMethod)
	payments.Get("/history", payment.HandleHistory)

	subscriptions := v1.Group("/subscriptions")
	subscriptions.Get("/", subscription.HandleListPlans)
	subscriptions.Get("/user", middleware.RequireUser, subscription.HandleGetUserSubscription)
	subscriptions.Post("/subscribe", middleware.RequireUser, subscription.HandleSubscribe)
	subscriptions.Post("/cancel", middleware.RequireUser, subscription.HandleCancel)
	subscriptions.Get("/:id", subscription.HandleGetPlan)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
