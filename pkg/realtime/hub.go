package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	hubEventsChannel = "realtime:events"
	clientBuffer     = 64
	outboxBuffer     = 1024
	writeWait        = 5 * time.Second
	publishTimeout   = 2 * time.Second
)

// Client is one websocket subscriber. Frames are queued and written by the
// client's own writer, so a slow socket never holds up an emitter.
type Client struct {
	ID       string
	TenantID string
	Conn     *websocket.Conn
	send     chan Event
	done     chan struct{}
	once     sync.Once
}

func NewClient(tenantID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Conn:     conn,
		send:     make(chan Event, clientBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue reports false when the client is gone or its queue is full; the
// frame is dropped in both cases.
func (c *Client) enqueue(frame Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(frame); err != nil {
				// the read loop sees the closed socket and unregisters
				c.Close()
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// Hub fans events out to the websocket clients of a tenant. With the redis
// subscriber running, events go through pub/sub so every instance delivers to
// its own clients; otherwise, or when publishing fails, delivery is local
// only. Emit never waits on a socket or on redis.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[string]*Client
	redis     *redis.Client
	redisSub  *redis.PubSub
	subCancel context.CancelFunc
	outbox    chan Event
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: map[string]map[string]*Client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "realtime_hub").Logger(),
	}
}

func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

func (h *Hub) StartRedisSubscriber(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, hubEventsChannel)
	outbox := make(chan Event, outboxBuffer)
	h.redisSub = sub
	h.subCancel = cancel
	h.outbox = outbox
	client := h.redis
	h.mu.Unlock()

	go h.consumeEvents(subCtx, sub)
	go h.publishLoop(subCtx, client, outbox)
	return nil
}

func (h *Hub) StopRedisSubscriber() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbox = nil
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

// Serve upgrades the request and keeps the client registered until the
// socket closes. Inbound frames are read and discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := NewClient(tenantID, conn)
	h.Register(client)
	defer h.Unregister(client)
	go client.writePump()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.TenantID]; !ok {
		h.clients[client.TenantID] = map[string]*Client{}
	}
	h.clients[client.TenantID][client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.TenantID]; ok {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.clients, client.TenantID)
		}
	}
	client.Close()
}

func (h *Hub) Emit(tenantID, event string, payload any) {
	frame := Event{Event: event, TenantID: tenantID, Payload: payload, At: time.Now().UTC()}
	if h.enqueuePublish(frame) {
		return
	}
	count := h.broadcastLocal(frame)
	h.log.Debug().Str("tenant_id", tenantID).Str("event", event).Int("fanout_count", count).Msg("local dispatch")
}

func (h *Hub) broadcastLocal(frame Event) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[frame.TenantID]))
	for _, c := range h.clients[frame.TenantID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(frame) {
			h.log.Warn().Str("tenant_id", frame.TenantID).Str("client_id", c.ID).Str("event", frame.Event).Msg("client queue full, frame dropped")
		}
	}
	return len(clients)
}

func (h *Hub) enqueuePublish(frame Event) bool {
	h.mu.RLock()
	outbox := h.outbox
	h.mu.RUnlock()
	if outbox == nil {
		return false
	}
	select {
	case outbox <- frame:
		return true
	default:
		h.log.Warn().Str("tenant_id", frame.TenantID).Str("event", frame.Event).Msg("publish queue full, falling back to local dispatch")
		return false
	}
}

// publishLoop keeps frames in emit order. A frame that cannot be published
// in time is delivered locally.
func (h *Hub) publishLoop(ctx context.Context, client *redis.Client, outbox <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-outbox:
			if err := h.publish(ctx, client, frame); err != nil {
				h.log.Warn().Err(err).Str("tenant_id", frame.TenantID).Str("event", frame.Event).Msg("publish failed, falling back to local dispatch")
				h.broadcastLocal(frame)
			}
		}
	}
}

func (h *Hub) publish(ctx context.Context, client *redis.Client, frame Event) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return client.Publish(ctx, hubEventsChannel, b).Err()
}

func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var frame Event
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			continue
		}
		h.broadcastLocal(frame)
	}
}
