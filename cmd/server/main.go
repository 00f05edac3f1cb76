package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/localnerve/ampline-certsvc/internal/config"
	"github.com/localnerve/ampline-certsvc/internal/database"
	"github.com/localnerve/ampline-certsvc/internal/handlers"
	"github.com/localnerve/ampline-certsvc/internal/middleware"

	_ "github.com/localnerve/ampline-certsvc/docs/api" // Swagger docs
)

// @title Ampline Certificate Service API
// @version 1.0.0
// @description Electrical safety certificate lifecycle service with multi-database support
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/localnerve/ampline-certsvc
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("certsvc")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API routes under /api
	api := app.Group("/api")

	// Version middleware
	api.Use(middleware.VersionMiddleware())

	handler := &handlers.CertificateHandler{DB: db, Cfg: cfg}

	// Health (public)
	api.Get("/health", handler.Health)

	certs := api.Group("/certificates")

	// Engineer routes
	certs.Post("/", middleware.AuthEngineer(), handler.CreateCertificate)
	certs.Get("/:id", middleware.AuthEngineer(), handler.GetCertificate)
	certs.Patch("/:id", middleware.AuthEngineer(), handler.PatchCertificate)
	certs.Post("/:id/complete", middleware.AuthEngineer(), handler.CompleteCertificate)
	certs.Post("/:id/issue", middleware.AuthEngineer(), handler.IssueCertificate)
	certs.Post("/:id/amend", middleware.AuthEngineer(), handler.AmendCertificate)
	certs.Post("/:id/reissue", middleware.AuthEngineer(), handler.ReissueCertificate)
	certs.Get("/:id/lineage", middleware.AuthEngineer(), handler.GetLineage)
	certs.Get("/:id/review", middleware.AuthEngineer(), handler.GetReview)
	certs.Post("/:id/review/submit", middleware.AuthEngineer(), handler.SubmitReview)

	// Admin-only routes
	certs.Post("/:id/void", middleware.AuthAdmin(), handler.VoidCertificate)
	certs.Post("/:id/review/decision", middleware.AuthAdmin(), handler.ReviewDecision)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	log.Printf("Authorizer will be initialized on first authenticated request")

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Check for revision errors
	revisionError := false
	if code == fiber.StatusConflict || (len(message) >= 10 && message[:10] == "E_REVISION") {
		revisionError = true
		errorType = "revision"
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(fiber.Map{
		"status":        code,
		"message":       message,
		"ok":            false,
		"revisionError": revisionError,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"url":           c.OriginalURL(),
		"type":          errorType,
	})
}
