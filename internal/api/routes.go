package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/playdama/backend/internal/api/handlers"
	"github.com/playdama/backend/internal/config"
	"github.com/playdama/backend/internal/relay"
	"github.com/playdama/backend/internal/wallet"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, rly *relay.RedisRelay, w *wallet.Postgres, cfg *config.Config) {
	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] No-cache headers enabled for all routes")
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)

		// Auth
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db, cfg))
			auth.POST("/login", handlers.Login(db, cfg))
		}

		// M-Pesa callbacks (called by Safaricom, no auth)
		mpesa := api.Group("/mpesa")
		{
			mpesa.POST("/callback", handlers.HandleSTKCallback(db))
			mpesa.POST("/b2c-result", handlers.HandleB2CResult(db))
			mpesa.POST("/b2c-timeout", handlers.HandleB2CTimeout())
		}

		// Realtime bridge (token in query string)
		api.GET("/realtime/ws", handlers.HandleRelayWebSocket(rly, cfg))

		// Authenticated endpoints
		authed := api.Group("")
		authed.Use(handlers.AuthMiddleware(cfg))
		{
			authed.GET("/me", handlers.GetMe(db))
			authed.PUT("/me/username", handlers.UpdateUsername(db))
			authed.GET("/transactions", handlers.GetTransactions(db))
			authed.POST("/deposit", handlers.Deposit(db, cfg))
			authed.POST("/withdraw", handlers.Withdraw(db, w, cfg))
			authed.GET("/leaderboard", handlers.GetLeaderboard(w, rly))
		}

		// Admin endpoints
		admin := api.Group("/admin")
		admin.Use(handlers.AuthMiddleware(cfg), handlers.AdminMiddleware(w))
		{
			admin.GET("/earnings/summary", handlers.AdminGetEarningsSummary(w))
			admin.GET("/earnings", handlers.AdminGetEarnings(db))
			admin.GET("/users/count", handlers.AdminGetTotalUsers(w))
			admin.GET("/players/top", handlers.GetLeaderboard(w, rly))
		}
	}
}
