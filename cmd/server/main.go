package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/recordbase/recordbase/internal/cache"
	"github.com/recordbase/recordbase/internal/database/interfaces"
	"github.com/recordbase/recordbase/internal/database/postgresql"
	"github.com/recordbase/recordbase/internal/middleware/ratelimit"
	"github.com/recordbase/recordbase/internal/middleware/requestid"
	"github.com/recordbase/recordbase/internal/pkg/log"
	platformconfig "github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records"
	"github.com/recordbase/recordbase/records/handlers"
	"github.com/recordbase/recordbase/records/limits"
	"github.com/recordbase/recordbase/records/plan"
	"github.com/recordbase/recordbase/records/services"
)

func main() {
	cfg, err := platformconfig.LoadFromEnv()
	if err != nil {
		log.Error("failed to load configuration: %s", err.Error())
		os.Exit(1)
	}

	log.Dump("server configuration", cfg.Server)

	ctx := context.Background()

	repo, err := postgresql.NewPostgreSQLRepository(ctx, &interfaces.PostgreSQLConfig{
		Host:               cfg.Database.Postgres.Host,
		Port:               cfg.Database.Postgres.Port,
		Username:           cfg.Database.Postgres.Username,
		Password:           cfg.Database.Postgres.Password,
		Schema:             cfg.Database.Postgres.Schema,
		SSLMode:            cfg.Database.Postgres.SSLMode,
		MaxOpenConnections: cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConnections: cfg.Database.Postgres.MaxIdleConns,
		MaxLifetime:        int(cfg.Database.Postgres.ConnMaxLifetime.Seconds()),
		ConnectTimeout:     cfg.Database.Postgres.ConnectTimeout,
	}, cfg.Database.Postgres.Database)
	if err != nil {
		log.Error("failed to connect to PostgreSQL: %s", err.Error())
		os.Exit(1)
	}
	defer repo.Close()

	recordCache := cache.NewRecordCache(ctx, cfg.Cache)
	if recordCache != nil {
		defer recordCache.Close()
	}

	compiler := plan.NewCompiler(repo, cfg)
	enforcer := limits.NewEnforcer(compiler, cfg)

	// A typed nil must not leak into the interface value.
	var serviceCache services.RecordCache
	if recordCache != nil {
		serviceCache = recordCache
	}
	recordService := services.NewRecordService(repo, compiler, enforcer, serviceCache, cfg)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			log.Error("unhandled error on %s (req_id=%s): %s", c.Path(), requestid.FromCtx(c), err.Error())
			return c.Status(code).JSON(fiber.Map{"error": fiber.Map{
				"statusCode": code,
				"name":       "InternalServerError",
				"message":    "internal server error",
				"code":       "INTERNAL_ERROR",
				"status":     code,
			}})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.WebDomain,
		AllowCredentials: true,
	}))
	if cfg.Server.WriteRateMax > 0 {
		app.Use(ratelimit.ForWrites(cfg.Server.WriteRateMax, cfg.Server.WriteRateWindow))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := <-repo.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	records.RegisterRoutes(app, &records.Handlers{
		Records: handlers.NewRecordHandler(recordService, cfg),
	}, cfg)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("record backend listening on %s", address)
	if err := app.Listen(address); err != nil {
		log.Error("server stopped: %s", err.Error())
		os.Exit(1)
	}
}
