package payment

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// pendingExpiry is how long an M-Pesa transaction may sit pending before
// it is considered abandoned. STK prompts expire on the handset well
// before this.
const pendingExpiry = 15 * time.Minute

// StartStatusChecker runs a background job that expires stale pending
// M-Pesa transactions. Abandoned deposits are marked failed; abandoned
// withdrawals are marked failed and the debited amount is returned to
// the player's balance.
func StartStatusChecker(ctx context.Context, db *sqlx.DB, intervalMinutes int) {
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()

	log.Printf("[PAYMENT-STATUS] Starting payment status checker (check every %d min)", intervalMinutes)

	// Run once immediately on startup
	expireStaleTransactions(ctx, db)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[PAYMENT-STATUS] Status checker stopped")
			return
		case <-ticker.C:
			expireStaleTransactions(ctx, db)
		}
	}
}

func expireStaleTransactions(ctx context.Context, db *sqlx.DB) {
	cutoff := time.Now().Add(-pendingExpiry)

	// Deposits never credit until the callback arrives, nothing to refund
	res, err := db.ExecContext(ctx, `
		UPDATE mpesa_transactions
		SET status = 'failed', error_message = 'expired', completed_at = NOW()
		WHERE status = 'pending' AND transaction_type = 'deposit' AND created_at < $1`,
		cutoff)
	if err != nil {
		log.Printf("[PAYMENT-STATUS] Failed to expire deposits: %v", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[PAYMENT-STATUS] Expired %d stale deposit(s)", n)
	}

	// Withdrawals were debited up front, so the refund and the status
	// flip must land together
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[PAYMENT-STATUS] Failed to begin refund tx: %v", err)
		return
	}
	defer tx.Rollback()

	var stale []struct {
		ID     string  `db:"id"`
		UserID string  `db:"user_id"`
		Amount float64 `db:"amount"`
	}
	err = tx.SelectContext(ctx, &stale, `
		SELECT id, user_id, amount FROM mpesa_transactions
		WHERE status = 'pending' AND transaction_type = 'withdrawal' AND created_at < $1
		FOR UPDATE`,
		cutoff)
	if err != nil {
		log.Printf("[PAYMENT-STATUS] Failed to list stale withdrawals: %v", err)
		return
	}

	for _, t := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE profiles SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
			t.Amount, t.UserID); err != nil {
			log.Printf("[PAYMENT-STATUS] Refund failed for txn %s: %v", t.ID, err)
			return
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE mpesa_transactions
			SET status = 'failed', error_message = 'expired', completed_at = NOW()
			WHERE id = $1`,
			t.ID); err != nil {
			log.Printf("[PAYMENT-STATUS] Status update failed for txn %s: %v", t.ID, err)
			return
		}
		log.Printf("[PAYMENT-STATUS] Refunded stale withdrawal %s (%.2f to user %s)", t.ID, t.Amount, t.UserID)
	}

	if len(stale) > 0 {
		if err := tx.Commit(); err != nil {
			log.Printf("[PAYMENT-STATUS] Refund commit failed: %v", err)
		}
	}
}
