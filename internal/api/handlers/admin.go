package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/playdama/backend/internal/models"
	"github.com/playdama/backend/internal/wallet"
)

// AdminGetEarningsSummary aggregates the platform's commission take
func AdminGetEarningsSummary(w *wallet.Postgres) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := w.GetEarningsSummary(c.Request.Context())
		if err != nil {
			log.Printf("[ADMIN] Earnings summary failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// AdminGetTotalUsers returns the registered user count
func AdminGetTotalUsers(w *wallet.Postgres) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := w.TotalUsers(c.Request.Context())
		if err != nil {
			log.Printf("[ADMIN] User count failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total_users": n})
	}
}

// AdminGetEarnings lists recent commission entries
func AdminGetEarnings(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if s := c.Query("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		earnings := []models.CompanyEarning{}
		err := db.SelectContext(c.Request.Context(), &earnings, `
			SELECT id, amount, source_game, created_at
			FROM company_earnings
			ORDER BY created_at DESC
			LIMIT $1`, limit)
		if err != nil {
			log.Printf("[ADMIN] Earnings list failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"earnings": earnings})
	}
}
