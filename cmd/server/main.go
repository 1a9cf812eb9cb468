package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"dukani_payments/internal/handlers"
	appMiddleware "dukani_payments/internal/middleware"
	"dukani_payments/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run auto-migration
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize Redis (callback locks and gateway-config cache)
	var cache *services.RedisCache
	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
	} else {
		log.Println("Warning: REDIS_URL not set, callback locking relies on the ledger guard only")
	}

	// Shared outbound HTTP client for the provider adapters
	httpClient := &http.Client{Timeout: 30 * time.Second}

	gateways := services.NewGatewayStore(db, cache)
	ledger := services.NewLedger(db, gateways)
	payments := services.NewPaymentService(db, gateways, ledger, httpClient)

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(payments)
	webhookHandler := handlers.NewWebhookHandler(db, cache, payments)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Payment routes
	api := e.Group("/api/payments")
	api.POST("/:gateway/initiate", paymentHandler.Initiate)
	api.GET("/paysky/info", paymentHandler.PaySkyInfo)

	// Provider webhooks
	api.POST("/paysky/callback", webhookHandler.PaySkyCallback)
	api.POST("/easykash/callback", webhookHandler.EasyKashCallback)
	api.GET("/afs/return", webhookHandler.AFSReturn)

	api.GET("/:reference", paymentHandler.GetStatus)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
