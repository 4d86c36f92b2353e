// Package session implements the client-side match state machine: role
// assignment from presence, snapshot-replicated moves, the host-owned
// clock and idempotent stake settlement. There is no server adjudicating
// the game; two peers converge through last-write-wins snapshots over an
// unreliable broadcast relay.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/playdama/backend/internal/checkers"
	"github.com/playdama/backend/internal/idem"
	"github.com/playdama/backend/internal/relay"
)

// Wallet is the external money/stats boundary the session calls into.
// Every call is individually atomic on the far side; the session guards
// against double invocation with idempotency markers, not transactions.
type Wallet interface {
	CreditBalance(ctx context.Context, userID string, amount float64) error
	DebitBalance(ctx context.Context, userID string, amount float64) (bool, error)
	IncrementStat(ctx context.Context, userID, result string, stake float64) error
	RecordCompanyEarning(ctx context.Context, amount float64, sourceGame string) error
	GetBalance(ctx context.Context, userID string) (float64, error)
}

// Role is the seat derived from presence order
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleBlack      Role = "black"
	RoleRed        Role = "red"
	RoleSpectator  Role = "spectator"
)

// Color maps a playing role to its side; spectators have none
func (r Role) Color() (checkers.Color, bool) {
	switch r {
	case RoleBlack:
		return checkers.Black, true
	case RoleRed:
		return checkers.Red, true
	}
	return "", false
}

// RoleForIndex computes the seat for a position in the sorted member
// list: first joiner black, second red, the rest spectators. Pure, so
// every peer derives the same mapping from the same snapshot.
func RoleForIndex(idx, total int) Role {
	if total < 2 {
		return RoleUnassigned
	}
	switch idx {
	case 0:
		return RoleBlack
	case 1:
		return RoleRed
	}
	return RoleSpectator
}

// GameConfig wires a game session to its collaborators
type GameConfig struct {
	GameID       string
	UserID       string
	DisplayLabel string
	Stake        float64
	Rules        checkers.Rules
	Relay        relay.Relay
	Wallet       Wallet
	Markers      idem.Store

	// ManualClock suppresses the wall-clock loop; the clock then only
	// advances through explicit Tick calls. Used by tests and replays.
	ManualClock bool

	// OnGameOver, when set, is called once after the session reaches a
	// terminal state. Runs on its own goroutine, so it may safely read
	// the session's accessors.
	OnGameOver func(winnerID string)
}

// GameSession is one peer's view of a match
type GameSession struct {
	cfg GameConfig
	ch  relay.Channel

	mu        sync.Mutex
	memberIDs []string
	role      Role
	board     *checkers.Board
	turn      checkers.Color
	clocks    checkers.Clocks
	selRow    int
	selCol    int
	hasSel    bool
	gameOver  bool
	winnerID  string
	endSent   bool
	notified  bool

	stopTicker chan struct{}
	tickerOnce sync.Once
	closeOnce  sync.Once
}

// NewGameSession prepares a session with the standard initial board.
// Nothing touches the relay until Join.
func NewGameSession(cfg GameConfig) *GameSession {
	if cfg.Rules == (checkers.Rules{}) {
		cfg.Rules = checkers.DefaultRules()
	}
	return &GameSession{
		cfg:        cfg,
		board:      checkers.NewBoard(),
		turn:       checkers.Black,
		clocks:     checkers.NewClocks(cfg.Rules),
		role:       RoleUnassigned,
		stopTicker: make(chan struct{}),
	}
}

// Join subscribes to the game channel, announces presence and starts the
// clock loop. Handlers are registered before subscribing so no early
// event is missed.
func (s *GameSession) Join(ctx context.Context) error {
	s.ch = s.cfg.Relay.Channel("game-"+s.cfg.GameID, s.cfg.UserID)
	s.ch.OnPresenceSync(s.handlePresence)
	s.ch.OnBroadcast(EventMove, s.handleMove)
	s.ch.OnBroadcast(EventTick, s.handleTick)
	s.ch.OnBroadcast(EventGameOver, s.handleGameOver)

	if err := s.ch.Subscribe(ctx); err != nil {
		return err
	}
	if err := s.ch.Track(ctx, relay.Meta{DisplayLabel: s.cfg.DisplayLabel, JoinedAt: relay.Now()}); err != nil {
		// Degraded but usable: peers will not see us until a retry
		log.Printf("[GAME %s] presence track failed: %v", s.cfg.GameID, err)
	}
	if !s.cfg.ManualClock {
		s.tickerOnce.Do(func() { go s.clockLoop() })
	}
	return nil
}

// Leave retracts presence and releases the channel. Safe on every exit
// path; the voluntary-forfeit broadcast is a separate explicit action.
func (s *GameSession) Leave() {
	s.closeOnce.Do(func() {
		close(s.stopTicker)
		if s.ch != nil {
			if err := s.ch.Close(); err != nil {
				log.Printf("[GAME %s] channel close: %v", s.cfg.GameID, err)
			}
		}
	})
}

// handlePresence recomputes seats from the sorted member snapshot. Role
// and clock authority are pure functions of the snapshot, re-evaluated on
// every sync.
func (s *GameSession) handlePresence(members []relay.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	s.memberIDs = ids

	s.role = RoleUnassigned
	for i, id := range ids {
		if id == s.cfg.UserID {
			s.role = RoleForIndex(i, len(ids))
			break
		}
	}
}

// isAuthorityLocked reports whether this peer owns the clock: the first
// member in presence order. If that peer disconnects nobody takes over.
func (s *GameSession) isAuthorityLocked() bool {
	return len(s.memberIDs) > 0 && s.memberIDs[0] == s.cfg.UserID
}

// memberForColorLocked resolves the user id seated on a color
func (s *GameSession) memberForColorLocked(color checkers.Color) (string, bool) {
	idx := 0
	if color == checkers.Red {
		idx = 1
	}
	if idx >= len(s.memberIDs) {
		return "", false
	}
	return s.memberIDs[idx], true
}

// SelectOrMove is the single entry point for board clicks. First click
// selects one of the local side's pieces; the second interprets the
// square as a destination. Illegal destinations clear the selection and
// change nothing.
func (s *GameSession) SelectOrMove(ctx context.Context, row, col int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameOver {
		return
	}
	myColor, playing := s.role.Color()
	if !playing || myColor != s.turn {
		return
	}

	if !s.hasSel {
		if p := s.board.PieceAt(row, col); p != nil && p.Color == myColor {
			s.selRow, s.selCol, s.hasSel = row, col, true
		}
		return
	}

	move := checkers.Move{FromRow: s.selRow, FromCol: s.selCol, ToRow: row, ToCol: col}
	s.hasSel = false

	next, _, ok := checkers.Apply(s.board, move, myColor, s.cfg.Rules)
	if !ok {
		return
	}

	s.board = next
	s.turn = myColor.Opponent()
	s.clocks = s.clocks.AfterMove(myColor, s.cfg.Rules)

	payload := MovePayload{Board: s.board, Turn: s.turn, Clocks: s.clocks}
	if err := s.ch.Send(ctx, EventMove, payload); err != nil {
		// Dropped moves delay convergence until the next snapshot
		log.Printf("[GAME %s] move broadcast failed: %v", s.cfg.GameID, err)
	}

	if winner, over := checkers.Winner(s.board, s.turn); over {
		s.endGameLocked(ctx, winner)
	}
}

// Forfeit concedes the game to the opponent. This is a deliberate user
// action confirmed upstream, since it assigns a financial loss.
func (s *GameSession) Forfeit(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameOver {
		return
	}
	myColor, playing := s.role.Color()
	if !playing || len(s.memberIDs) < 2 {
		return
	}
	s.endGameLocked(ctx, myColor.Opponent())
}

// handleMove adopts the incoming snapshot wholesale: board, turn and
// clocks are replaced, never merged.
func (s *GameSession) handleMove(msg relay.Message) {
	var p MovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Board == nil {
		log.Printf("[GAME %s] malformed move event from %s", s.cfg.GameID, msg.Sender)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameOver {
		return
	}
	s.board = p.Board
	s.turn = p.Turn
	s.clocks = p.Clocks
	s.hasSel = false
}

func (s *GameSession) handleTick(msg relay.Message) {
	var p TickPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameOver {
		return
	}
	s.clocks = p.Clocks
	s.turn = p.Turn
}

// clockLoop runs on every peer but only the authority decrements and
// broadcasts. Authority is re-read each second because presence can
// change under us.
func (s *GameSession) clockLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopTicker:
			return
		case <-ticker.C:
			s.tickOnce(context.Background())
		}
	}
}

// tickOnce advances the authoritative clock by one second. Exposed to
// tests through Tick.
func (s *GameSession) tickOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameOver || !s.isAuthorityLocked() {
		return
	}

	s.clocks = s.clocks.Tick(s.turn)
	if err := s.ch.Send(ctx, EventTick, TickPayload{Clocks: s.clocks, Turn: s.turn}); err != nil {
		log.Printf("[GAME %s] tick broadcast failed: %v", s.cfg.GameID, err)
	}

	// Timeout is declared by the authority alone so two peers cannot race
	// to settle the same game.
	if s.clocks.Expired(s.turn) {
		s.endGameLocked(ctx, s.turn.Opponent())
	}
}

// Tick drives one authoritative clock step; tests use it in place of the
// wall-clock loop.
func (s *GameSession) Tick(ctx context.Context) {
	s.tickOnce(ctx)
}

// endGameLocked is the one-shot terminal transition: it marks the game
// over, broadcasts game_over at most once, and settles locally because a
// sender never receives its own broadcast.
func (s *GameSession) endGameLocked(ctx context.Context, winner checkers.Color) {
	if s.endSent {
		return
	}
	winnerID, ok := s.memberForColorLocked(winner)
	if !ok {
		log.Printf("[GAME %s] terminal condition with no %s seat; cannot settle", s.cfg.GameID, winner)
		return
	}
	s.endSent = true
	s.gameOver = true
	s.winnerID = winnerID

	payload := GameOverPayload{GameID: s.cfg.GameID, WinnerID: winnerID, Stake: s.cfg.Stake}
	if err := s.ch.Send(ctx, EventGameOver, payload); err != nil {
		log.Printf("[GAME %s] game_over broadcast failed: %v", s.cfg.GameID, err)
	}

	s.settleLocked(ctx, payload)
	s.notifyLocked(winnerID)
}

// notifyLocked fires the OnGameOver callback at most once, whichever of
// the local trigger and the broadcast arrives first. The callback runs
// on its own goroutine so it may call back into the session's accessors
// without deadlocking on the mutex held here.
func (s *GameSession) notifyLocked(winnerID string) {
	if s.notified || s.cfg.OnGameOver == nil {
		return
	}
	s.notified = true
	go s.cfg.OnGameOver(winnerID)
}

func (s *GameSession) handleGameOver(msg relay.Message) {
	var p GameOverPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.GameID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameOver = true
	s.winnerID = p.WinnerID
	s.settleLocked(context.Background(), p)
	s.notifyLocked(p.WinnerID)
}

// Accessors used by the transport bridge and tests. All return copies.

func (s *GameSession) Board() *checkers.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Clone()
}

func (s *GameSession) Turn() checkers.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *GameSession) Clocks() checkers.Clocks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks
}

func (s *GameSession) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *GameSession) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.memberIDs))
	copy(out, s.memberIDs)
	return out
}

// GameOver returns the terminal state and the winner's user id, if any
func (s *GameSession) GameOver() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameOver, s.winnerID
}

// Selected reports the currently selected square, if any
func (s *GameSession) Selected() (row, col int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selRow, s.selCol, s.hasSel
}
