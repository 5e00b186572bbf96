package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/metrics"
)

// Client is one event stream connection, typically a chat gateway process.
type Client struct {
	ID     uuid.UUID
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte

	all    bool
	scopes map[int64]bool
}

// NewClient creates a client. With no scopes it receives every event.
func NewClient(userID int64, conn *websocket.Conn, scopes []int64) *Client {
	c := &Client{
		ID:     uuid.New(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		all:    len(scopes) == 0,
		scopes: make(map[int64]bool, len(scopes)),
	}
	for _, s := range scopes {
		c.scopes[s] = true
	}
	return c
}

// Hub fans events out to local clients and, through Redis Pub/Sub, to the
// clients of every other API instance.
type Hub struct {
	clients map[uuid.UUID]*Client
	mu      sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub
	prefix string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. A nil redis client keeps delivery local to this instance.
func NewHub(redisClient *redis.Client, prefix string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients: make(map[uuid.UUID]*Client),
		redis:   redisClient,
		prefix:  prefix,
		ctx:     ctx,
		cancel:  cancel,
	}
	if redisClient != nil {
		h.pubsub = redisClient.PSubscribe(ctx, h.eventsChannel(), h.scopeChannelPrefix()+"*")
	}
	return h
}

func (h *Hub) eventsChannel() string      { return h.prefix + ":events" }
func (h *Hub) scopeChannelPrefix() string { return h.prefix + ":scope:" }

func (h *Hub) channelFor(e *Event) string {
	if e.ScopeID != 0 {
		return h.scopeChannelPrefix() + strconv.FormatInt(e.ScopeID, 10)
	}
	return h.eventsChannel()
}

// Run consumes the Redis subscription until Shutdown (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub == nil {
		return
	}
	ch := h.pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Channel != h.eventsChannel() && !strings.HasPrefix(msg.Channel, h.scopeChannelPrefix()) {
				continue
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
				continue
			}
			h.broadcastLocal(&event, []byte(msg.Payload))
		}
	}
}

// Register adds a client
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	metrics.WebsocketClients(1)
	log.Debug().Int64("user_id", c.UserID).Str("client_id", c.ID.String()).Msg("Event stream client connected")
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.Send)
		metrics.WebsocketClients(-1)
	}
	h.mu.Unlock()

	log.Debug().Int64("user_id", c.UserID).Str("client_id", c.ID.String()).Msg("Event stream client disconnected")
}

// Subscribe adds a scope to a client's filter.
func (h *Hub) Subscribe(c *Client, scopeID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.all = false
	c.scopes[scopeID] = true
}

// ClientCount returns number of local clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends the event to every instance. When Redis is unavailable the
// event still reaches local clients and the publish error is returned.
func (h *Hub) Publish(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if h.redis == nil {
		h.broadcastLocal(e, data)
		return nil
	}

	if err := h.redis.Publish(ctx, h.channelFor(e), data).Err(); err != nil {
		// fall back to local delivery
		h.broadcastLocal(e, data)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// broadcastLocal sends event to clients connected to THIS server
func (h *Hub) broadcastLocal(e *Event, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !e.addressedTo(c) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			metrics.WebsocketEventDropped()
			log.Warn().Int64("user_id", c.UserID).Msg("Event stream send buffer full")
		}
	}
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
