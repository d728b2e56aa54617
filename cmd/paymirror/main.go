package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
	"github.com/ManuelReschke/PayMirror/internal/pkg/cache"
	"github.com/ManuelReschke/PayMirror/internal/pkg/database"
	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
	"github.com/ManuelReschke/PayMirror/internal/pkg/eventbus"
	"github.com/ManuelReschke/PayMirror/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayMirror/internal/pkg/router"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := NewApplication(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	go func() {
		<-ctx.Done()
		fiberlog.Info("[Main] Shutting down...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			fiberlog.Errorf("[Main] Shutdown: %v", err)
		}
	}()

	return app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
}

// NewApplication wires storage, gateway, background jobs and routes. The
// returned cleanup stops the jobs and closes connections.
func NewApplication(ctx context.Context) (_ *fiber.App, _ func(), err error) {
	env.SetupEnvFile()

	// also unwound when wiring fails halfway
	var closers closerStack
	defer func() {
		if err != nil {
			closers.closeAll()
		}
	}()

	db, err := database.SetupDatabase(database.ConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closers.push(func() { _ = sqlDB.Close() })

	redisClient := cache.NewClient(ctx, cache.ConfigFromEnv())
	closers.push(func() { _ = redisClient.Close() })
	limiterStorage, err := cache.NewLimiterStorage(redisClient)
	if err != nil {
		return nil, nil, err
	}
	closers.push(func() { _ = limiterStorage.Close() })

	publisher, err := eventbus.NewKafkaPublisherFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if publisher != nil {
		closers.push(func() {
			if err := publisher.Close(); err != nil {
				fiberlog.Warnf("[EventBus] Close producer: %v", err)
			}
		})
	}

	opts := []billing.Option{
		billing.WithCustomerCache(cache.NewCustomerCache(redisClient, env.GetEnvDuration("CUSTOMER_CACHE_TTL", 24*time.Hour))),
		billing.WithGatewayTimeout(env.GetEnvDuration("GATEWAY_TIMEOUT", 10*time.Second)),
	}
	if publisher != nil {
		opts = append(opts, billing.WithPublisher(publisher))
	}
	svc := billing.NewServiceFromDB(db, billing.NewStripeClientFromEnv(), opts...)

	jobs := jobqueue.NewManager()
	reconciler := billing.NewReconciler(svc,
		env.GetEnvDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
		env.GetEnvDuration("RECONCILE_MAX_AGE", 72*time.Hour),
		env.GetEnvInt("RECONCILE_BATCH", 50),
	)
	jobs.Every("reconciler", env.GetEnvDuration("RECONCILE_INTERVAL", 5*time.Minute), func(ctx context.Context) error {
		settled, err := reconciler.RunIteration(ctx)
		if settled > 0 {
			fiberlog.Infof("[Reconciler] Settled %d payment intents", settled)
		}
		return err
	})
	jobs.Start(ctx)
	closers.push(jobs.Stop)

	app := fiber.New(fiber.Config{
		AppName:   "PayMirror",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: findBasePath() + "public/docs/v1/openapi.yml",
		Path:     "v1",
		Title:    "PayMirror API",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Service:        svc,
		Verifier:       billing.NewStripeVerifierFromEnv(),
		IdentityHeader: env.GetEnv("IDENTITY_HEADER", ""),
		RateLimit:      env.GetEnvInt("API_RATE_LIMIT", 60),
		LimiterStorage: limiterStorage,
		HealthCheck:    healthCheck(db),
	})

	return app, closers.closeAll, nil
}

// closerStack releases resources in reverse order of acquisition.
type closerStack []func()

func (c *closerStack) push(fn func()) {
	*c = append(*c, fn)
}

func (c *closerStack) closeAll() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
	*c = nil
}

func healthCheck(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// findBasePath locates the project root so the binary runs from the root or
// from cmd/paymirror.
func findBasePath() string {
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "public/docs"); err == nil {
			return path
		}
	}
	return "./"
}
