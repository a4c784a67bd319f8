package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"tabular/internal/auth"
	"tabular/internal/config"
	"tabular/internal/engine"
	"tabular/internal/logger"
	"tabular/internal/perm"
	"tabular/internal/query"
	"tabular/internal/schema"
	"tabular/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info().Int("port", cfg.Server.Port).
		Str("db", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)).
		Msg("config loaded")

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()

	if err := db.Bootstrap(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("bootstrap system tables")
	}

	var source schema.Source
	switch cfg.Schema.Driver {
	case "db":
		source = schema.NewDBSource(db.Pool)
	default:
		source = schema.NewFileSource(cfg.Schema.Dir)
	}
	schemas := schema.NewStore(source, log)

	builder := query.NewBuilder(cfg.MaxPerPage, log)
	perms := perm.NewResolver(cfg.PermissionNamespace)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(log),
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler)

	h := engine.NewHandler(db, schemas, builder, perms, auth.Authorizer{}, log)
	engine.RegisterDynamicRoutes(app, h, auth.Middleware(cfg.JWTSecret))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *engine.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
		}

		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(code).JSON(engine.ErrorResponse{
			Error: &engine.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Msg("request")
		return err
	}
}
