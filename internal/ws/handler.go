// Package ws bridges browser WebSocket connections onto relay channels.
// Each connection joins exactly one channel; broadcasts and presence
// snapshots flow to the socket as JSON frames, and client frames are
// forwarded back through the relay.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playdama/backend/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is validated by middleware before the upgrade
	},
}

// Frame is the JSON envelope exchanged with the browser
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Members []MemberInfo    `json:"members,omitempty"`
}

// MemberInfo is one presence entry as sent to the browser
type MemberInfo struct {
	ID           string `json:"id"`
	DisplayLabel string `json:"display_label"`
	JoinedAt     string `json:"joined_at"`
}

// conn wraps one bridged connection
type conn struct {
	ws      *websocket.Conn
	userID  string
	channel relay.Channel
	send    chan []byte
}

// HandleConnection upgrades the request and bridges it onto the named
// relay channel. Blocks until the client disconnects.
func HandleConnection(w http.ResponseWriter, r *http.Request, rly relay.Relay, userID, displayLabel, channelName string) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for user %s: %v", userID, err)
		return
	}

	c := &conn{
		ws:      wsConn,
		userID:  userID,
		channel: rly.Channel(channelName, userID),
		send:    make(chan []byte, 64),
	}

	c.channel.OnPresenceSync(func(members []relay.Member) {
		infos := make([]MemberInfo, 0, len(members))
		for _, m := range members {
			infos = append(infos, MemberInfo{
				ID:           m.ID,
				DisplayLabel: m.Meta.DisplayLabel,
				JoinedAt:     m.Meta.JoinedAt,
			})
		}
		c.enqueue(Frame{Type: "presence", Members: infos})
	})

	forward := func(msg relay.Message) {
		c.enqueue(Frame{Type: "broadcast", Event: msg.Event, Sender: msg.Sender, Payload: msg.Payload})
	}
	for _, event := range []string{"invite", "accept", "move", "tick", "game_over"} {
		c.channel.OnBroadcast(event, forward)
	}

	ctx := context.Background()
	if err := c.channel.Subscribe(ctx); err != nil {
		log.Printf("[WS] Subscribe failed for user %s on %s: %v", userID, channelName, err)
		wsConn.Close()
		return
	}
	if err := c.channel.Track(ctx, relay.Meta{DisplayLabel: displayLabel, JoinedAt: relay.Now()}); err != nil {
		log.Printf("[WS] Track failed for user %s on %s: %v", userID, channelName, err)
	}

	log.Printf("[WS] User %s joined channel %s", userID, channelName)

	go c.writePump()
	c.readPump(ctx)
}

func (c *conn) enqueue(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("[WS] Marshal error for user %s: %v", c.userID, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[WS] Send buffer full for user %s, dropping frame", c.userID)
	}
}

// readPump forwards client frames into the relay until the socket closes
func (c *conn) readPump(ctx context.Context) {
	defer func() {
		// Leave send open; a relay handler may still be mid-dispatch.
		// writePump exits on the next failed write or ping.
		c.channel.Close()
		c.ws.Close()
		log.Printf("[WS] User %s disconnected", c.userID)
	}()

	c.ws.SetReadLimit(64 * 1024)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for user %s: %v", c.userID, err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case "broadcast":
			if f.Event == "" {
				continue
			}
			if err := c.channel.Send(ctx, f.Event, f.Payload); err != nil {
				log.Printf("[WS] Forward failed for user %s event %s: %v", c.userID, f.Event, err)
			}
		case "untrack":
			if err := c.channel.Untrack(ctx); err != nil {
				log.Printf("[WS] Untrack failed for user %s: %v", c.userID, err)
			}
		}
	}
}

// writePump writes queued frames and keeps the connection alive
func (c *conn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for user %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
