package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"rocket-import/internal/auth"
	"rocket-import/internal/config"
	"rocket-import/internal/engine"
	"rocket-import/internal/logging"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load(os.Getenv("ROCKET_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Str("db", cfg.Database.Name).
		Msg("config loaded")

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap system tables")
	}

	// 4. Load the catalog
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg, log); err != nil {
		log.Warn().Err(err).Msg("failed to load metadata")
	}

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler(log),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Import routes, behind auth when a secret is configured
	var mw []fiber.Handler
	if cfg.JWTSecret != "" {
		mw = append(mw, auth.AuthMiddleware(cfg.JWTSecret), auth.RequireRole(auth.ImporterRole))
	} else {
		log.Warn().Msg("jwt_secret is empty, import routes are unauthenticated")
	}
	runner := engine.NewImportRunner(db, reg, cfg.Import, log)
	engine.RegisterImportRoutes(app, engine.NewImportHandler(runner, reg), mw...)

	// 8. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
