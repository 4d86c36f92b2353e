package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/playdama/backend/internal/api"
	"github.com/playdama/backend/internal/config"
	"github.com/playdama/backend/internal/database"
	"github.com/playdama/backend/internal/middleware"
	"github.com/playdama/backend/internal/migrations"
	"github.com/playdama/backend/internal/payment"
	"github.com/playdama/backend/internal/redis"
	"github.com/playdama/backend/internal/relay"
	"github.com/playdama/backend/internal/wallet"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Relay carries lobby and game channels over Redis pub/sub
	rly := relay.NewRedisRelay(rdb)

	// Wallet service over Postgres
	w := wallet.NewPostgres(db)

	// Initialize Daraja client (if configured)
	if cfg.DarajaConsumerKey != "" && cfg.DarajaConsumerSecret != "" {
		paymentClient := payment.NewClient(cfg, rdb)
		if paymentClient != nil {
			payment.SetDefault(paymentClient)
			log.Printf("[PAYMENT] Daraja client initialized (shortcode=%s)", cfg.DarajaShortcode)
		}
	} else {
		log.Printf("[PAYMENT] Daraja not configured - deposits and withdrawals disabled")
	}

	// Expire abandoned M-Pesa transactions in the background
	go payment.StartStatusChecker(context.Background(), db, 2)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.WebSocketCORSCheck(cfg))

	api.SetupRoutes(router, db, rly, w, cfg)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting PlayDama server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
