// Package hub is the messaging layer between game managers and connected
// devices: connection identity, named multicast groups, and a dispatch
// table from event names to handlers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type HandlerFunc func(c *Client, data json.RawMessage)

type Hub struct {
	locker   sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]*Client
	handlers map[string]HandlerFunc

	dropHooks []func(clientID string)

	// Inbound envelope budget per connection. The racer streams control
	// input at tick rate, so the budget is wider than a turn-based game
	// would need.
	inboundRate  rate.Limit
	inboundBurst int

	log zerolog.Logger
}

func New(log zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		groups:       make(map[string]map[string]*Client),
		handlers:     make(map[string]HandlerFunc),
		inboundRate:  rate.Limit(45),
		inboundBurst: 90,
		log:          log,
	}
}

// Handle registers the handler for an event type. All registration happens
// during wiring, before any connection is served.
func (h *Hub) Handle(eventType string, fn HandlerFunc) {
	h.handlers[eventType] = fn
}

// OnDrop registers a callback run after a client disconnects and has been
// removed from every group. Managers use it to sweep their sessions.
func (h *Hub) OnDrop(fn func(clientID string)) {
	h.dropHooks = append(h.dropHooks, fn)
}

// ServeConn owns the connection for its lifetime: registers a client,
// starts both pumps, and blocks until the read side ends.
func (h *Hub) ServeConn(conn Conn) {
	c := &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		ping:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(h.inboundRate, h.inboundBurst),
		hub:     h,
	}

	h.locker.Lock()
	h.clients[c.ID] = c
	h.locker.Unlock()

	h.log.Debug().Str("client", c.ID).Msg("client connected")

	go c.WritePump()
	c.ReadPump()
}

// Run pings every client periodically until the context ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.locker.RLock()
			for _, c := range h.clients {
				c.signalPing()
			}
			h.locker.RUnlock()
		}
	}
}

// Join adds a client to a multicast group.
func (h *Hub) Join(group, clientID string) {
	h.locker.Lock()
	defer h.locker.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	g, ok := h.groups[group]
	if !ok {
		g = make(map[string]*Client)
		h.groups[group] = g
	}
	g[clientID] = c
}

func (h *Hub) Leave(group, clientID string) {
	h.locker.Lock()
	defer h.locker.Unlock()
	h.removeFromGroup(group, clientID)
}

// Broadcast sends an event to every member of a group.
func (h *Hub) Broadcast(group string, ev Event) {
	h.locker.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		members = append(members, c)
	}
	h.locker.RUnlock()

	for _, c := range members {
		c.Send(ev)
	}
}

// Send delivers an event to one client, if still connected.
func (h *Hub) Send(clientID string, ev Event) {
	h.locker.RLock()
	c, ok := h.clients[clientID]
	h.locker.RUnlock()
	if ok {
		c.Send(ev)
	}
}

func (h *Hub) dispatch(c *Client, ev Event) {
	fn, ok := h.handlers[ev.Type]
	if !ok {
		h.log.Debug().Str("client", c.ID).Str("type", ev.Type).Msg("unknown event")
		return
	}
	fn(c, ev.Data)
}

func (h *Hub) drop(c *Client) {
	h.locker.Lock()
	if _, still := h.clients[c.ID]; !still {
		h.locker.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for group := range h.groups {
		h.removeFromGroup(group, c.ID)
	}
	h.locker.Unlock()

	c.shutdown()

	h.log.Debug().Str("client", c.ID).Msg("client disconnected")

	for _, fn := range h.dropHooks {
		fn(c.ID)
	}
}

func (h *Hub) removeFromGroup(group, clientID string) {
	g, ok := h.groups[group]
	if !ok {
		return
	}
	delete(g, clientID)
	if len(g) == 0 {
		delete(h.groups, group)
	}
}
