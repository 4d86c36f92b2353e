package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// stkCallbackBody mirrors Daraja's STK push result payload
type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// HandleSTKCallback processes Daraja's asynchronous STK push result.
// A successful result completes the pending deposit and credits the
// player's balance in one transaction; settling by checkout id keeps
// redelivered callbacks from crediting twice.
func HandleSTKCallback(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cb stkCallbackBody
		if err := c.BindJSON(&cb); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		stk := cb.Body.StkCallback
		ctx := c.Request.Context()

		if stk.ResultCode != 0 {
			status := "failed"
			if stk.ResultCode == 1032 {
				status = "cancelled"
			}
			log.Printf("[MPESA] STK payment %s: checkout=%s desc=%s", status, stk.CheckoutRequestID, stk.ResultDesc)
			if _, err := db.ExecContext(ctx, `
				UPDATE mpesa_transactions
				SET status = $1, error_message = $2, completed_at = NOW()
				WHERE checkout_request_id = $3 AND status = 'pending'`,
				status, stk.ResultDesc, stk.CheckoutRequestID); err != nil {
				log.Printf("[MPESA] Failed to mark transaction %s: %v", stk.CheckoutRequestID, err)
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		var receipt string
		for _, item := range stk.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" {
				if s, ok := item.Value.(string); ok {
					receipt = s
				}
			}
		}
		if receipt == "" {
			log.Printf("[MPESA] Success callback without receipt: checkout=%s", stk.CheckoutRequestID)
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := processDepositByCheckout(c, db, stk.CheckoutRequestID, receipt); err != nil {
			log.Printf("[MPESA] Failed to process deposit for checkout %s: %v", stk.CheckoutRequestID, err)
		} else {
			log.Printf("[MPESA] Deposit processed for checkout %s (receipt %s)", stk.CheckoutRequestID, receipt)
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func processDepositByCheckout(c *gin.Context, db *sqlx.DB, checkoutID, receipt string) error {
	ctx := c.Request.Context()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var txn struct {
		ID     string  `db:"id"`
		UserID string  `db:"user_id"`
		Amount float64 `db:"amount"`
	}
	err = tx.GetContext(ctx, &txn, `
		SELECT id, user_id, amount FROM mpesa_transactions
		WHERE checkout_request_id = $1 AND transaction_type = 'deposit' AND status = 'pending'
		FOR UPDATE`, checkoutID)
	if err != nil {
		// Already completed or unknown checkout, nothing to do
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mpesa_transactions
		SET status = 'completed', mpesa_receipt = $1, completed_at = NOW()
		WHERE id = $2`, receipt, txn.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		txn.Amount, txn.UserID); err != nil {
		return err
	}

	return tx.Commit()
}

// b2cResultBody mirrors Daraja's B2C result payload
type b2cResultBody struct {
	Result struct {
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		ConversationID           string `json:"ConversationID"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// HandleB2CResult processes Daraja's asynchronous B2C payout result.
// The player was debited at initiation, so a failed payout refunds them.
func HandleB2CResult(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cb b2cResultBody
		if err := c.BindJSON(&cb); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		res := cb.Result
		ctx := c.Request.Context()

		if res.ResultCode == 0 {
			if _, err := db.ExecContext(ctx, `
				UPDATE mpesa_transactions
				SET status = 'completed', mpesa_receipt = $1, completed_at = NOW()
				WHERE checkout_request_id = $2 AND status = 'pending'`,
				res.TransactionID, res.ConversationID); err != nil {
				log.Printf("[MPESA] Failed to complete withdrawal %s: %v", res.ConversationID, err)
			} else {
				log.Printf("[MPESA] Withdrawal completed: conversation=%s receipt=%s", res.ConversationID, res.TransactionID)
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		log.Printf("[MPESA] Withdrawal failed: conversation=%s desc=%s", res.ConversationID, res.ResultDesc)
		if err := refundFailedWithdrawal(c, db, res.ConversationID, res.ResultDesc); err != nil {
			log.Printf("[MPESA] Failed to refund withdrawal %s: %v", res.ConversationID, err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func refundFailedWithdrawal(c *gin.Context, db *sqlx.DB, conversationID, reason string) error {
	ctx := c.Request.Context()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var txn struct {
		ID     string  `db:"id"`
		UserID string  `db:"user_id"`
		Amount float64 `db:"amount"`
	}
	err = tx.GetContext(ctx, &txn, `
		SELECT id, user_id, amount FROM mpesa_transactions
		WHERE checkout_request_id = $1 AND transaction_type = 'withdrawal' AND status = 'pending'
		FOR UPDATE`, conversationID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mpesa_transactions
		SET status = 'failed', error_message = $1, completed_at = NOW()
		WHERE id = $2`, reason, txn.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		txn.Amount, txn.UserID); err != nil {
		return err
	}

	return tx.Commit()
}

// HandleB2CTimeout logs a queued B2C request that Safaricom timed out.
// The status checker will refund it once it goes stale.
func HandleB2CTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		log.Printf("[MPESA] B2C timeout callback received")
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
