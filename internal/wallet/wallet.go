// Package wallet implements the platform's money and stats procedures on
// Postgres: atomic balance credit/debit, win/loss counters, platform
// commission and the leaderboard query.
package wallet

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// Stat results accepted by IncrementStat
const (
	ResultWin  = "win"
	ResultLoss = "loss"
)

// TopPlayer is one leaderboard row
type TopPlayer struct {
	UserID    string  `db:"id" json:"user_id"`
	Username  string  `db:"username" json:"username"`
	GamesWon  int     `db:"games_won" json:"games_won"`
	GamesLost int     `db:"games_lost" json:"games_lost"`
	Earnings  float64 `db:"earnings" json:"earnings"`
}

// EarningsSummary aggregates platform commission
type EarningsSummary struct {
	TotalEarnings float64 `db:"total_earnings" json:"total_earnings"`
	GamesCount    int     `db:"games_count" json:"games_count"`
}

// Postgres is the sqlx-backed wallet service
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an existing DB handle
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// CreditBalance atomically increases the user's balance
func (w *Postgres) CreditBalance(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must be non-negative, got %.2f", amount)
	}
	res, err := w.db.ExecContext(ctx,
		`UPDATE profiles SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credit balance: no profile for user %s", userID)
	}
	return nil
}

// DebitBalance atomically decreases the user's balance iff funds suffice.
// Insufficient funds returns (false, nil), never an error.
func (w *Postgres) DebitBalance(ctx context.Context, userID string, amount float64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("debit amount must be non-negative, got %.2f", amount)
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	defer tx.Rollback()

	var balance float64
	if err := tx.GetContext(ctx, &balance,
		`SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`, userID); err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	if balance < amount {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET balance = balance - $1, updated_at = NOW() WHERE id = $2`,
		amount, userID); err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	return true, nil
}

// IncrementStat bumps the win or loss counter and, on a win, the earnings
// total by the stake amount.
func (w *Postgres) IncrementStat(ctx context.Context, userID, result string, stake float64) error {
	var query string
	switch result {
	case ResultWin:
		query = `UPDATE profiles SET games_won = games_won + 1, earnings = earnings + $1, updated_at = NOW() WHERE id = $2`
	case ResultLoss:
		query = `UPDATE profiles SET games_lost = games_lost + 1, updated_at = NOW() WHERE id = $2`
	default:
		return fmt.Errorf("increment stat: unknown result %q", result)
	}
	if _, err := w.db.ExecContext(ctx, query, stake, userID); err != nil {
		return fmt.Errorf("increment stat: %w", err)
	}
	return nil
}

// RecordCompanyEarning books the platform commission for a game. Expected
// to be called once per game; the caller guards that with an idempotency
// marker.
func (w *Postgres) RecordCompanyEarning(ctx context.Context, amount float64, sourceGame string) error {
	if _, err := w.db.ExecContext(ctx,
		`INSERT INTO company_earnings (amount, source_game, created_at) VALUES ($1, $2, NOW())`,
		amount, sourceGame); err != nil {
		return fmt.Errorf("record company earning: %w", err)
	}
	log.Printf("[WALLET] Company earning recorded: amount=%.2f game=%s", amount, sourceGame)
	return nil
}

// GetTopPlayers returns the leaderboard ordered by earnings then wins
func (w *Postgres) GetTopPlayers(ctx context.Context, limit int) ([]TopPlayer, error) {
	if limit <= 0 {
		limit = 10
	}
	var players []TopPlayer
	err := w.db.SelectContext(ctx, &players, `
		SELECT id, username, games_won, games_lost, earnings
		FROM profiles
		ORDER BY earnings DESC, games_won DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get top players: %w", err)
	}
	return players, nil
}

// GetEarningsSummary aggregates company earnings for the admin dashboard
func (w *Postgres) GetEarningsSummary(ctx context.Context) (*EarningsSummary, error) {
	var s EarningsSummary
	err := w.db.GetContext(ctx, &s, `
		SELECT COALESCE(SUM(amount), 0) AS total_earnings, COUNT(*) AS games_count
		FROM company_earnings
	`)
	if err != nil {
		return nil, fmt.Errorf("earnings summary: %w", err)
	}
	return &s, nil
}

// TotalUsers counts registered profiles
func (w *Postgres) TotalUsers(ctx context.Context) (int, error) {
	var n int
	if err := w.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM profiles`); err != nil {
		return 0, fmt.Errorf("total users: %w", err)
	}
	return n, nil
}

// HasRole reports whether the user holds the given role
func (w *Postgres) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var exists bool
	err := w.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, role)
	if err != nil {
		return false, fmt.Errorf("has role: %w", err)
	}
	return exists, nil
}

// GetBalance reads the current balance
func (w *Postgres) GetBalance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	if err := w.db.GetContext(ctx, &balance,
		`SELECT balance FROM profiles WHERE id = $1`, userID); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}
