package models

import (
	"database/sql"
	"time"
)

// Profile represents a registered player
type Profile struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Username  string    `db:"username" json:"username"`
	Password  string    `db:"password_hash" json:"-"`
	Balance   float64   `db:"balance" json:"balance"`
	GamesWon  int       `db:"games_won" json:"games_won"`
	GamesLost int       `db:"games_lost" json:"games_lost"`
	Earnings  float64   `db:"earnings" json:"earnings"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// UserRole grants a profile an application role such as "admin"
type UserRole struct {
	ID        int       `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MpesaTransaction represents a deposit or withdrawal through M-Pesa
type MpesaTransaction struct {
	ID                string         `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	TransactionType   string         `db:"transaction_type" json:"transaction_type"`
	Amount            float64        `db:"amount" json:"amount"`
	PhoneNumber       string         `db:"phone_number" json:"phone_number"`
	Status            string         `db:"status" json:"status"`
	CheckoutRequestID sql.NullString `db:"checkout_request_id" json:"checkout_request_id,omitempty"`
	MpesaReceipt      sql.NullString `db:"mpesa_receipt" json:"mpesa_receipt,omitempty"`
	ErrorMessage      sql.NullString `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	CompletedAt       sql.NullTime   `db:"completed_at" json:"completed_at,omitempty"`
}

// CompanyEarning records the platform's cut of a settled game
type CompanyEarning struct {
	ID         int       `db:"id" json:"id"`
	Amount     float64   `db:"amount" json:"amount"`
	SourceGame string    `db:"source_game" json:"source_game"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
