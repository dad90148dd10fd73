package main

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/quanteckio/omni-email/config"
	"github.com/quanteckio/omni-email/cryptoenv"
	"github.com/quanteckio/omni-email/handlers"
	"github.com/quanteckio/omni-email/middleware"
	"github.com/quanteckio/omni-email/models"
	"github.com/quanteckio/omni-email/storage"
	"github.com/quanteckio/omni-email/utils"
	"github.com/quanteckio/omni-email/watch"
)

func main() {
	utils.Log.Info("Initializing mailbox gateway...")

	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		return
	}

	sealer, err := cryptoenv.NewSealer(cfg.MasterKey())
	if err != nil {
		utils.Log.Error("Failed to initialize crypto envelope: %v", err)
		return
	}

	kv, err := storage.OpenKV(cfg.Store.DataDir)
	if err != nil {
		utils.Log.Error("Failed to open account store: %v", err)
		return
	}
	defer kv.Close()

	accounts := storage.NewAccountStore(kv, sealer)

	registry := watch.NewRegistry(func(accountID string) (models.ServerSettings, error) {
		_, secret, err := accounts.Get(accountID)
		if err != nil {
			return models.ServerSettings{}, err
		}
		return secret.IMAP, nil
	})
	accounts.SetWatcherStopper(registry.Remove)

	mailbox := handlers.NewMailbox(accounts, registry)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if appErr, ok := err.(*utils.AppError); ok {
				code = appErr.Code
				utils.Log.Error("application error: %v", appErr)
			} else if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "no-referrer",
	}))
	app.Use(middleware.RateLimiter(100, time.Minute))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})

	app.Use(middleware.Auth([]byte(cfg.JWT.Secret)))
	mailbox.Register(app)

	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}
