package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playdama/backend/internal/relay"
	"github.com/playdama/backend/internal/wallet"
)

// leaderboardEntry is one row with lobby presence attached
type leaderboardEntry struct {
	wallet.TopPlayer
	Online bool `json:"online"`
}

// GetLeaderboard returns the top players ranked by earnings, annotated
// with whether each is currently in the lobby
func GetLeaderboard(w *wallet.Postgres, rly *relay.RedisRelay) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 10
		if s := c.Query("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := c.Request.Context()

		players, err := w.GetTopPlayers(ctx, limit)
		if err != nil {
			log.Printf("[LEADERBOARD] Query failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		online, err := rly.OnlineMembers(ctx, "lobby")
		if err != nil {
			log.Printf("[LEADERBOARD] Presence lookup failed: %v", err)
			online = map[string]bool{}
		}

		entries := make([]leaderboardEntry, 0, len(players))
		for _, p := range players {
			entries = append(entries, leaderboardEntry{TopPlayer: p, Online: online[p.UserID]})
		}

		c.JSON(http.StatusOK, gin.H{"players": entries})
	}
}
