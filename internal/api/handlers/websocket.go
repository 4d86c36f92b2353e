package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playdama/backend/internal/config"
	"github.com/playdama/backend/internal/relay"
	"github.com/playdama/backend/internal/ws"
)

// HandleRelayWebSocket bridges a browser onto a relay channel. Browsers
// cannot set headers on WebSocket upgrades, so the JWT rides in the
// query string.
func HandleRelayWebSocket(rly relay.Relay, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := ParseToken(cfg, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		channel := c.Query("channel")
		if channel != "lobby" && !strings.HasPrefix(channel, "game-") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
			return
		}

		label := strings.TrimSpace(c.Query("label"))
		if label == "" {
			label = userID
		}

		ws.HandleConnection(c.Writer, c.Request, rly, userID, label, channel)
	}
}
