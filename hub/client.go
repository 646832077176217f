package hub

import (
	"encoding/json"
	"sync"

	"golang.org/x/time/rate"
)

const sendQueueSize = 256

// Client is one connected device: a phone controller or a host display.
type Client struct {
	ID      string
	conn    Conn
	send    chan []byte
	ping    chan struct{}
	limiter *rate.Limiter
	hub     *Hub

	// mu serializes queue writes against shutdown. Broadcast snapshots
	// group members outside the hub lock, so a Send can arrive after the
	// client has already been dropped.
	mu     sync.Mutex
	closed bool
}

// ReadPump decodes inbound envelopes and hands them to the dispatch table.
// Runs until the connection drops, then triggers the disconnect sweep.
func (c *Client) ReadPump() {
	defer c.hub.drop(c)

	for {
		data, err := c.conn.Read()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			continue
		}
		c.hub.dispatch(c, ev)
	}
}

func (c *Client) WritePump() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(data); err != nil {
				return
			}
		case _, ok := <-c.ping:
			if !ok {
				return
			}
			if err := c.conn.Ping(); err != nil {
				return
			}
		}
	}
}

// Send queues an event, dropping it if the client cannot keep up or has
// already disconnected. A stalled phone must never block a broadcast to the
// rest of the session.
func (c *Client) Send(ev Event) {
	data := ev.encode()
	if data == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) signalPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// shutdown closes both pump channels exactly once, under the same mutex
// Send uses, so no queue write can race the close.
func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
		close(c.ping)
	}
	c.mu.Unlock()
	c.conn.Close("")
}
