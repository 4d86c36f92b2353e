package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/playdama/backend/internal/config"
	"github.com/playdama/backend/internal/models"
	"github.com/playdama/backend/internal/payment"
	"github.com/playdama/backend/internal/wallet"
)

// UpdateUsername changes the authenticated player's display name
func UpdateUsername(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		var req struct {
			Username string `json:"username"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
			return
		}

		username := strings.TrimSpace(req.Username)
		if len(username) < 3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username must be at least 3 characters"})
			return
		}

		_, err := db.ExecContext(c.Request.Context(),
			`UPDATE profiles SET username = $1, updated_at = NOW() WHERE id = $2`,
			username, userID)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
				return
			}
			log.Printf("[WALLET] Username update failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"username": username})
	}
}

// GetTransactions lists the player's M-Pesa transaction history
func GetTransactions(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		transactions := []models.MpesaTransaction{}
		err := db.SelectContext(c.Request.Context(), &transactions, `
			SELECT id, user_id, transaction_type, amount, phone_number, status,
			       checkout_request_id, mpesa_receipt, error_message, created_at, completed_at
			FROM mpesa_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT 50`, userID)
		if err != nil {
			log.Printf("[WALLET] Transaction list failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"transactions": transactions})
	}
}

// Deposit initiates an M-Pesa STK push for the requested amount
func Deposit(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		var req struct {
			Amount      float64 `json:"amount"`
			PhoneNumber string  `json:"phone_number"`
		}
		if err := c.BindJSON(&req); err != nil || req.Amount <= 0 || req.PhoneNumber == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount and phone_number required"})
			return
		}

		if payment.Default == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments not configured"})
			return
		}

		phone, err := payment.NormalizePhoneNumber(req.PhoneNumber)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			return
		}

		ctx := c.Request.Context()

		var txnID string
		err = db.GetContext(ctx, &txnID, `
			INSERT INTO mpesa_transactions (user_id, transaction_type, amount, phone_number, status)
			VALUES ($1, 'deposit', $2, $3, 'pending')
			RETURNING id`, userID, req.Amount, phone)
		if err != nil {
			log.Printf("[WALLET] Failed to create deposit record: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		resp, err := payment.Default.STKPush(ctx, payment.STKPushRequest{
			Phone:         phone,
			Amount:        req.Amount,
			TransactionID: txnID,
			Description:   "Game deposit",
		})
		if err != nil {
			log.Printf("[WALLET] STK push failed for txn %s: %v", txnID, err)
			db.ExecContext(ctx, `
				UPDATE mpesa_transactions SET status = 'failed', error_message = $1, completed_at = NOW()
				WHERE id = $2`, err.Error(), txnID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to initiate deposit"})
			return
		}

		if _, err := db.ExecContext(ctx, `
			UPDATE mpesa_transactions SET checkout_request_id = $1 WHERE id = $2`,
			resp.CheckoutRequestID, txnID); err != nil {
			log.Printf("[WALLET] Failed to store checkout id for txn %s: %v", txnID, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"transaction_id":   txnID,
			"customer_message": resp.CustomerMessage,
		})
	}
}

// Withdraw debits the player's balance and initiates a B2C payout.
// The debit happens up front so a player cannot spend the money mid-flight;
// failed payouts are refunded.
func Withdraw(db *sqlx.DB, w *wallet.Postgres, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		var req struct {
			Amount      float64 `json:"amount"`
			PhoneNumber string  `json:"phone_number"`
		}
		if err := c.BindJSON(&req); err != nil || req.Amount <= 0 || req.PhoneNumber == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount and phone_number required"})
			return
		}

		if payment.Default == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments not configured"})
			return
		}

		phone, err := payment.NormalizePhoneNumber(req.PhoneNumber)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			return
		}

		ctx := c.Request.Context()

		ok, err := w.DebitBalance(ctx, userID, req.Amount)
		if err != nil {
			log.Printf("[WALLET] Withdrawal debit failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
			return
		}

		var txnID string
		err = db.GetContext(ctx, &txnID, `
			INSERT INTO mpesa_transactions (user_id, transaction_type, amount, phone_number, status)
			VALUES ($1, 'withdrawal', $2, $3, 'pending')
			RETURNING id`, userID, req.Amount, phone)
		if err != nil {
			log.Printf("[WALLET] Failed to create withdrawal record: %v", err)
			if cerr := w.CreditBalance(ctx, userID, req.Amount); cerr != nil {
				log.Printf("[WALLET] CRITICAL: refund failed for user %s amount %.2f: %v", userID, req.Amount, cerr)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		resp, err := payment.Default.B2C(ctx, payment.B2CRequest{
			Phone:         phone,
			Amount:        req.Amount,
			TransactionID: txnID,
			Description:   "Game withdrawal",
		})
		if err != nil {
			log.Printf("[WALLET] B2C failed for txn %s: %v", txnID, err)
			db.ExecContext(ctx, `
				UPDATE mpesa_transactions SET status = 'failed', error_message = $1, completed_at = NOW()
				WHERE id = $2`, err.Error(), txnID)
			if cerr := w.CreditBalance(ctx, userID, req.Amount); cerr != nil {
				log.Printf("[WALLET] CRITICAL: refund failed for user %s amount %.2f: %v", userID, req.Amount, cerr)
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to initiate withdrawal"})
			return
		}

		// The B2C result callback correlates on the conversation id
		if _, err := db.ExecContext(ctx, `
			UPDATE mpesa_transactions SET checkout_request_id = $1 WHERE id = $2`,
			resp.ConversationID, txnID); err != nil {
			log.Printf("[WALLET] Failed to store conversation id for txn %s: %v", txnID, err)
		}

		c.JSON(http.StatusOK, gin.H{"transaction_id": txnID})
	}
}
