package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// presenceEvent is the internal control event that triggers a
	// presence re-read on every subscriber
	presenceEvent = "_presence"

	presenceTTLSeconds = 30
	heartbeatInterval  = 10 * time.Second
)

// RedisRelay implements Relay on a Redis instance: pub/sub for broadcast
// fan-out, a sorted set of heartbeat timestamps plus a meta hash for
// presence. Members whose heartbeat goes stale drop out of snapshots.
type RedisRelay struct {
	rdb *redis.Client
}

// NewRedisRelay wraps an existing Redis client
func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb}
}

// OnlineMembers reports which ids currently have a live heartbeat on the
// named channel, without subscribing to it.
func (r *RedisRelay) OnlineMembers(ctx context.Context, name string) (map[string]bool, error) {
	memberKey := "relay:" + name + ":members"
	cutoff := time.Now().Add(-presenceTTLSeconds * time.Second).Unix()
	ids, err := r.rdb.ZRangeByScore(ctx, memberKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	online := make(map[string]bool, len(ids))
	for _, id := range ids {
		online[id] = true
	}
	return online, nil
}

// Channel opens a channel handle; nothing touches Redis until Subscribe
func (r *RedisRelay) Channel(name, localID string) Channel {
	return &redisChannel{
		rdb:       r.rdb,
		name:      name,
		localID:   localID,
		topic:     "relay:" + name,
		memberKey: "relay:" + name + ":members",
		metaKey:   "relay:" + name + ":meta",
		handlers:  make(map[string]BroadcastHandler),
		done:      make(chan struct{}),
	}
}

type redisChannel struct {
	rdb       *redis.Client
	name      string
	localID   string
	topic     string
	memberKey string
	metaKey   string

	mu         sync.Mutex
	handlers   map[string]BroadcastHandler
	presenceFn PresenceHandler
	pubsub     *redis.PubSub
	tracked    bool
	subscribed bool
	done       chan struct{}
	closeOnce  sync.Once
}

func (c *redisChannel) OnBroadcast(event string, fn BroadcastHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *redisChannel) OnPresenceSync(fn PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceFn = fn
}

func (c *redisChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.pubsub = c.rdb.Subscribe(ctx, c.topic)
	c.subscribed = true
	c.mu.Unlock()

	// Confirm the subscription before reporting success
	if _, err := c.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", c.name, err)
	}

	go c.readLoop()

	// Initial snapshot; peers that tracked before we attached are visible
	// immediately instead of waiting for the next presence notification.
	c.syncPresence(ctx)
	return nil
}

// readLoop dispatches every incoming message from a single goroutine, so
// handlers never run concurrently with each other.
func (c *redisChannel) readLoop() {
	ch := c.pubsub.Channel()
	for msg := range ch {
		var m Message
		var env struct {
			Event   string          `json:"event"`
			Sender  string          `json:"sender"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("[RELAY] %s: invalid message payload: %v", c.name, err)
			continue
		}
		m = Message{Event: env.Event, Sender: env.Sender, Payload: env.Payload}

		if m.Event == presenceEvent {
			c.syncPresence(context.Background())
			continue
		}
		// Senders never receive their own broadcasts
		if m.Sender == c.localID {
			continue
		}

		c.mu.Lock()
		fn := c.handlers[m.Event]
		c.mu.Unlock()
		if fn == nil {
			// Closed event set: unrecognized events are dropped
			continue
		}
		fn(m)
	}
}

func (c *redisChannel) Track(ctx context.Context, meta Meta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := c.rdb.ZAdd(ctx, c.memberKey, redis.Z{Score: float64(now), Member: c.localID}).Err(); err != nil {
		return fmt.Errorf("relay track %s: %w", c.name, err)
	}
	if err := c.rdb.HSet(ctx, c.metaKey, c.localID, string(metaJSON)).Err(); err != nil {
		return fmt.Errorf("relay track %s: %w", c.name, err)
	}

	c.mu.Lock()
	starting := !c.tracked
	c.tracked = true
	c.mu.Unlock()
	if starting {
		go c.heartbeatLoop()
	}

	c.notifyPresence(ctx)
	return nil
}

func (c *redisChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	c.tracked = false
	c.mu.Unlock()

	if err := c.rdb.ZRem(ctx, c.memberKey, c.localID).Err(); err != nil {
		return fmt.Errorf("relay untrack %s: %w", c.name, err)
	}
	c.rdb.HDel(ctx, c.metaKey, c.localID)
	c.notifyPresence(ctx)
	return nil
}

// heartbeatLoop refreshes the member's heartbeat score so crashed peers
// age out of presence snapshots after presenceTTLSeconds.
func (c *redisChannel) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			tracked := c.tracked
			c.mu.Unlock()
			if !tracked {
				return
			}
			ctx := context.Background()
			if err := c.rdb.ZAdd(ctx, c.memberKey, redis.Z{Score: float64(time.Now().Unix()), Member: c.localID}).Err(); err != nil {
				log.Printf("[RELAY] %s: heartbeat failed: %v", c.name, err)
			}
		}
	}
}

func (c *redisChannel) Send(ctx context.Context, event string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := struct {
		Event   string          `json:"event"`
		Sender  string          `json:"sender"`
		Payload json.RawMessage `json:"payload"`
	}{Event: event, Sender: c.localID, Payload: payloadJSON}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, c.topic, string(data)).Err(); err != nil {
		return fmt.Errorf("relay send %s/%s: %w", c.name, event, err)
	}
	return nil
}

// notifyPresence nudges every subscriber (including self) to re-read the
// member set
func (c *redisChannel) notifyPresence(ctx context.Context) {
	env := struct {
		Event  string `json:"event"`
		Sender string `json:"sender"`
	}{Event: presenceEvent, Sender: c.localID}
	data, _ := json.Marshal(env)
	if err := c.rdb.Publish(ctx, c.topic, string(data)).Err(); err != nil {
		log.Printf("[RELAY] %s: presence notify failed: %v", c.name, err)
	}
}

// syncPresence reads the live member set and delivers a sorted snapshot
func (c *redisChannel) syncPresence(ctx context.Context) {
	c.mu.Lock()
	fn := c.presenceFn
	c.mu.Unlock()
	if fn == nil {
		return
	}

	cutoff := time.Now().Unix() - presenceTTLSeconds
	// Drop members whose heartbeat went stale
	c.rdb.ZRemRangeByScore(ctx, c.memberKey, "0", strconv.FormatInt(cutoff, 10))

	ids, err := c.rdb.ZRangeByScore(ctx, c.memberKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		log.Printf("[RELAY] %s: presence read failed: %v", c.name, err)
		return
	}
	sort.Strings(ids)

	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		m := Member{ID: id}
		if raw, err := c.rdb.HGet(ctx, c.metaKey, id).Result(); err == nil {
			json.Unmarshal([]byte(raw), &m.Meta)
		}
		members = append(members, m)
	}
	fn(members)
}

// Close retracts presence and tears the subscription down. Safe to call
// on every exit path.
func (c *redisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.mu.Lock()
		tracked := c.tracked
		pubsub := c.pubsub
		c.mu.Unlock()
		if tracked {
			if uerr := c.Untrack(ctx); uerr != nil {
				log.Printf("[RELAY] %s: untrack on close failed: %v", c.name, uerr)
			}
		}
		if pubsub != nil {
			err = pubsub.Close()
		}
	})
	return err
}
