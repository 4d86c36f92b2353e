package session

import (
	"github.com/playdama/backend/internal/checkers"
)

// Broadcast event names. The set is closed: anything else on the wire is
// ignored by the relay dispatch.
const (
	EventInvite   = "invite"
	EventAccept   = "accept"
	EventMove     = "move"
	EventTick     = "tick"
	EventGameOver = "game_over"
)

// InvitePayload is sent on the lobby channel to challenge another player.
// Every lobby member receives it; only the addressee acts on it.
type InvitePayload struct {
	To        string  `json:"to"`
	From      string  `json:"from"`
	FromLabel string  `json:"from_label"`
	GameID    string  `json:"game_id"`
	Stake     float64 `json:"stake"`
}

// AcceptPayload echoes the invite's game and stake back to the inviter
type AcceptPayload struct {
	GameID string  `json:"game_id"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Stake  float64 `json:"stake"`
}

// MovePayload carries the complete resulting state of a move, not a
// delta. A peer that missed earlier events simply adopts the latest
// snapshot it receives; the relay guarantees neither order nor delivery.
type MovePayload struct {
	Board  *checkers.Board `json:"board"`
	Turn   checkers.Color  `json:"turn"`
	Clocks checkers.Clocks `json:"clocks"`
}

// TickPayload is the clock authority's periodic snapshot
type TickPayload struct {
	Clocks checkers.Clocks `json:"clocks"`
	Turn   checkers.Color  `json:"turn"`
}

// GameOverPayload announces the terminal result once per game
type GameOverPayload struct {
	GameID   string  `json:"game_id"`
	WinnerID string  `json:"winner_id"`
	Stake    float64 `json:"stake"`
}
