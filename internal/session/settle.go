package session

import (
	"context"
	"log"

	"github.com/playdama/backend/internal/idem"
)

// Payout split: the winner takes 80% of the pot, the platform keeps 20%.
const (
	winnerShare  = 0.8
	companyShare = 0.2
)

// settleLocked reconciles the local user's stake ledger for a finished
// game, exactly once per (game, user). Both stakes were debited at invite
// acceptance, so the loser has no balance change here.
//
// Wallet calls are best-effort: the match outcome is not reversible from
// this side, so failures are logged and swallowed. That is an accepted
// weakness of the no-server design, not a bug.
func (s *GameSession) settleLocked(ctx context.Context, p GameOverPayload) {
	if s.cfg.Wallet == nil || s.cfg.Markers == nil {
		return
	}

	claimed, err := s.cfg.Markers.Claim(ctx, idem.PayoutKey(p.GameID, s.cfg.UserID))
	if err != nil {
		log.Printf("[SETTLE %s] payout marker failed: %v", p.GameID, err)
		return
	}
	if !claimed {
		// Already settled for this user; a second game_over is a no-op
		return
	}

	pot := p.Stake * 2

	if p.WinnerID == s.cfg.UserID {
		if err := s.cfg.Wallet.CreditBalance(ctx, s.cfg.UserID, pot*winnerShare); err != nil {
			log.Printf("[SETTLE %s] winner credit failed: %v", p.GameID, err)
		}
		if err := s.cfg.Wallet.IncrementStat(ctx, s.cfg.UserID, "win", p.Stake); err != nil {
			log.Printf("[SETTLE %s] win stat failed: %v", p.GameID, err)
		}

		// Both peers compute the commission; the game-scoped marker lets
		// only one of them record it.
		recorded, err := s.cfg.Markers.Claim(ctx, idem.CompanyKey(p.GameID))
		if err != nil {
			log.Printf("[SETTLE %s] company marker failed: %v", p.GameID, err)
		} else if recorded {
			if err := s.cfg.Wallet.RecordCompanyEarning(ctx, pot*companyShare, p.GameID); err != nil {
				log.Printf("[SETTLE %s] company earning failed: %v", p.GameID, err)
			}
		}
		return
	}

	if err := s.cfg.Wallet.IncrementStat(ctx, s.cfg.UserID, "loss", p.Stake); err != nil {
		log.Printf("[SETTLE %s] loss stat failed: %v", p.GameID, err)
	}
}
