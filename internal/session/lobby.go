package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playdama/backend/internal/idem"
	"github.com/playdama/backend/internal/relay"
)

// LobbyChannel is the shared presence channel every signed-in player joins
const LobbyChannel = "lobby"

var (
	// ErrSelfInvite rejects challenging yourself
	ErrSelfInvite = errors.New("cannot invite yourself")
	// ErrInvalidStake rejects non-positive stakes
	ErrInvalidStake = errors.New("stake must be positive")
	// ErrInsufficientBalance rejects actions the wallet cannot cover
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownInvite rejects accepting an invite that is not pending
	ErrUnknownInvite = errors.New("no such pending invite")
)

// Invite is a pending challenge, kept per peer
type Invite struct {
	From      string    `json:"from"`
	FromLabel string    `json:"from_label"`
	To        string    `json:"to"`
	GameID    string    `json:"game_id"`
	Stake     float64   `json:"stake"`
	At        time.Time `json:"at"`
}

// LobbyConfig wires a lobby session to its collaborators
type LobbyConfig struct {
	UserID       string
	DisplayLabel string
	Relay        relay.Relay
	Wallet       Wallet
	Markers      idem.Store

	// OnMatch is called when a game is agreed: after the local stake has
	// been debited (or debit failed for the inviter, which still enters
	// the game; the debit rejection was already surfaced).
	OnMatch func(gameID string, stake float64)
}

// LobbySession tracks who is online and runs the invite/accept handshake
// that agrees a stake before a game session exists.
type LobbySession struct {
	cfg LobbyConfig
	ch  relay.Channel

	mu       sync.Mutex
	online   []relay.Member // excludes self
	received []Invite
	sent     []Invite

	closeOnce sync.Once
}

// NewLobbySession prepares a lobby session; nothing happens until Join
func NewLobbySession(cfg LobbyConfig) *LobbySession {
	return &LobbySession{cfg: cfg}
}

// Join subscribes to the lobby channel and announces presence
func (l *LobbySession) Join(ctx context.Context) error {
	l.ch = l.cfg.Relay.Channel(LobbyChannel, l.cfg.UserID)
	l.ch.OnPresenceSync(l.handlePresence)
	l.ch.OnBroadcast(EventInvite, l.handleInvite)
	l.ch.OnBroadcast(EventAccept, l.handleAccept)

	if err := l.ch.Subscribe(ctx); err != nil {
		return err
	}
	if err := l.ch.Track(ctx, relay.Meta{DisplayLabel: l.cfg.DisplayLabel, JoinedAt: relay.Now()}); err != nil {
		log.Printf("[LOBBY] presence track failed for %s: %v", l.cfg.UserID, err)
	}
	return nil
}

// Leave retracts presence and releases the channel
func (l *LobbySession) Leave() {
	l.closeOnce.Do(func() {
		if l.ch != nil {
			if err := l.ch.Close(); err != nil {
				log.Printf("[LOBBY] channel close: %v", err)
			}
		}
	})
}

func (l *LobbySession) handlePresence(members []relay.Member) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = l.online[:0]
	for _, m := range members {
		if m.ID != l.cfg.UserID {
			l.online = append(l.online, m)
		}
	}
}

// SendInvite challenges another player for the given stake and returns
// the new game id. The stake must be covered by the local balance now;
// it is only debited once the invite is accepted.
func (l *LobbySession) SendInvite(ctx context.Context, toID string, stake float64) (string, error) {
	if toID == l.cfg.UserID {
		return "", ErrSelfInvite
	}
	if stake <= 0 {
		return "", ErrInvalidStake
	}
	balance, err := l.cfg.Wallet.GetBalance(ctx, l.cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("balance check: %w", err)
	}
	if balance < stake {
		return "", ErrInsufficientBalance
	}

	gameID := uuid.NewString()
	payload := InvitePayload{
		To:        toID,
		From:      l.cfg.UserID,
		FromLabel: l.cfg.DisplayLabel,
		GameID:    gameID,
		Stake:     stake,
	}
	if err := l.ch.Send(ctx, EventInvite, payload); err != nil {
		return "", fmt.Errorf("send invite: %w", err)
	}

	l.mu.Lock()
	l.sent = append([]Invite{{
		From: l.cfg.UserID, FromLabel: l.cfg.DisplayLabel,
		To: toID, GameID: gameID, Stake: stake, At: time.Now(),
	}}, l.sent...)
	l.mu.Unlock()
	return gameID, nil
}

// handleInvite records challenges addressed to us; everything else on the
// lobby channel is ignored.
func (l *LobbySession) handleInvite(msg relay.Message) {
	var p InvitePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.GameID == "" {
		return
	}
	if p.To != l.cfg.UserID {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append([]Invite{{
		From: p.From, FromLabel: p.FromLabel,
		To: p.To, GameID: p.GameID, Stake: p.Stake, At: time.Now(),
	}}, l.received...)
}

// AcceptInvite answers a pending challenge. The acceptor debits its own
// stake here because a broadcast sender never receives its own accept
// event; the inviter debits on receipt of that event. Both debits run
// under the same per-(game, user) marker, so redelivered accepts are
// no-ops.
func (l *LobbySession) AcceptInvite(ctx context.Context, gameID string) error {
	// Copy the invite out; the list is compacted in place below and a
	// pointer into it would go stale.
	l.mu.Lock()
	var inv Invite
	found := false
	for i := range l.received {
		if l.received[i].GameID == gameID {
			inv = l.received[i]
			found = true
			break
		}
	}
	l.mu.Unlock()
	if !found {
		return ErrUnknownInvite
	}

	balance, err := l.cfg.Wallet.GetBalance(ctx, l.cfg.UserID)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}
	if balance < inv.Stake {
		return ErrInsufficientBalance
	}

	payload := AcceptPayload{GameID: inv.GameID, From: inv.From, To: l.cfg.UserID, Stake: inv.Stake}
	if err := l.ch.Send(ctx, EventAccept, payload); err != nil {
		return fmt.Errorf("send accept: %w", err)
	}

	l.mu.Lock()
	kept := l.received[:0]
	for _, i := range l.received {
		if i.GameID != gameID {
			kept = append(kept, i)
		}
	}
	l.received = kept
	l.mu.Unlock()

	if err := l.debitStakeOnce(ctx, inv.GameID, inv.Stake); err != nil {
		return err
	}
	if l.cfg.OnMatch != nil {
		l.cfg.OnMatch(inv.GameID, inv.Stake)
	}
	return nil
}

// IgnoreInvite drops a pending challenge without answering
func (l *LobbySession) IgnoreInvite(gameID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.received[:0]
	for _, i := range l.received {
		if i.GameID != gameID {
			kept = append(kept, i)
		}
	}
	l.received = kept
}

// handleAccept fires on the inviter when its challenge is taken. The
// inviter debits its own stake and enters the game; a failed debit is
// surfaced in the log but does not block entry, since the acceptor is
// already heading into the room.
func (l *LobbySession) handleAccept(msg relay.Message) {
	var p AcceptPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.GameID == "" {
		return
	}
	if p.From != l.cfg.UserID && p.To != l.cfg.UserID {
		return
	}

	ctx := context.Background()
	if err := l.debitStakeOnce(ctx, p.GameID, p.Stake); err != nil {
		log.Printf("[LOBBY] stake debit failed for game %s: %v", p.GameID, err)
	}

	l.mu.Lock()
	kept := l.sent[:0]
	for _, i := range l.sent {
		if i.GameID != p.GameID {
			kept = append(kept, i)
		}
	}
	l.sent = kept
	l.mu.Unlock()

	if l.cfg.OnMatch != nil {
		l.cfg.OnMatch(p.GameID, p.Stake)
	}
}

// debitStakeOnce debits the local stake under the durable per-(game,
// user) marker. The marker mirrors the settlement guard: it is claimed
// before the wallet call, so a crash between the two leaks nothing worse
// than an undebited stake that was already rejected elsewhere.
func (l *LobbySession) debitStakeOnce(ctx context.Context, gameID string, stake float64) error {
	claimed, err := l.cfg.Markers.Claim(ctx, idem.DebitKey(gameID, l.cfg.UserID))
	if err != nil {
		return fmt.Errorf("debit marker: %w", err)
	}
	if !claimed {
		return nil
	}
	ok, err := l.cfg.Wallet.DebitBalance(ctx, l.cfg.UserID, stake)
	if err != nil {
		return fmt.Errorf("stake debit: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}
	return nil
}

// OnlineUsers returns everyone else currently in the lobby
func (l *LobbySession) OnlineUsers() []relay.Member {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]relay.Member, len(l.online))
	copy(out, l.online)
	return out
}

// IsOnline reports whether a user id is present in the lobby
func (l *LobbySession) IsOnline(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.online {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// ReceivedInvites returns pending challenges addressed to us
func (l *LobbySession) ReceivedInvites() []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Invite, len(l.received))
	copy(out, l.received)
	return out
}

// SentInvites returns our unanswered challenges
func (l *LobbySession) SentInvites() []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Invite, len(l.sent))
	copy(out, l.sent)
	return out
}
