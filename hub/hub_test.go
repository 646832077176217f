package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn feeds scripted inbound frames and records outbound ones.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) Read() ([]byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

func (f *fakeConn) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Ping() error { return nil }

func (f *fakeConn) Close(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sent() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.written))
	for _, data := range f.written {
		var ev Event
		if json.Unmarshal(data, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out
}

func serve(t *testing.T, h *Hub, conn *fakeConn) string {
	t.Helper()
	done := make(chan struct{})
	var id string
	ready := make(chan struct{})
	h.Handle("hello", func(c *Client, _ json.RawMessage) {
		id = c.ID
		close(ready)
	})
	go func() {
		h.ServeConn(conn)
		close(done)
	}()
	conn.inbound <- []byte(`{"type":"hello"}`)
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	t.Cleanup(func() {
		close(conn.inbound)
		<-done
	})
	return id
}

func TestHub_DispatchAndReply(t *testing.T) {
	h := New(zerolog.Nop())
	conn := newFakeConn()

	got := make(chan string, 1)
	h.Handle("echo", func(c *Client, data json.RawMessage) {
		got <- string(data)
		c.Send(E("echoed", map[string]string{"ok": "yes"}))
	})

	serve(t, h, conn)
	conn.inbound <- []byte(`{"type":"echo","data":{"n":1}}`)

	select {
	case data := <-got:
		assert.JSONEq(t, `{"n":1}`, data)
	case <-time.After(time.Second):
		t.Fatal("echo handler never ran")
	}

	require.Eventually(t, func() bool {
		for _, ev := range conn.sent() {
			if ev.Type == "echoed" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestHub_GroupBroadcast(t *testing.T) {
	h := New(zerolog.Nop())
	connA, connB, connC := newFakeConn(), newFakeConn(), newFakeConn()

	idA := serve(t, h, connA)
	idB := serve(t, h, connB)
	serve(t, h, connC)

	h.Join("quiz:1234", idA)
	h.Join("quiz:1234", idB)

	h.Broadcast("quiz:1234", E("started", nil))

	require.Eventually(t, func() bool {
		return len(connA.sent()) == 1 && len(connB.sent()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, connC.sent(), "non-member must not receive group events")
}

func TestHub_DropRunsHooksAndLeavesGroups(t *testing.T) {
	h := New(zerolog.Nop())
	conn := newFakeConn()

	dropped := make(chan string, 1)
	h.OnDrop(func(id string) { dropped <- id })

	done := make(chan struct{})
	connected := make(chan string, 1)
	h.Handle("hi", func(c *Client, _ json.RawMessage) { connected <- c.ID })
	go func() {
		h.ServeConn(conn)
		close(done)
	}()
	conn.inbound <- []byte(`{"type":"hi"}`)
	id := <-connected
	h.Join("quiz:9999", id)

	close(conn.inbound)
	<-done

	select {
	case got := <-dropped:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("drop hook never ran")
	}

	// Sending to a dropped client is a no-op, not a panic.
	h.Send(id, E("late", nil))
	h.Broadcast("quiz:9999", E("late", nil))
}

func TestHub_SendAfterDropDoesNotPanic(t *testing.T) {
	h := New(zerolog.Nop())
	conn := newFakeConn()

	done := make(chan struct{})
	connected := make(chan *Client, 1)
	h.Handle("hi", func(c *Client, _ json.RawMessage) { connected <- c })
	go func() {
		h.ServeConn(conn)
		close(done)
	}()
	conn.inbound <- []byte(`{"type":"hi"}`)
	c := <-connected
	h.Join("quiz:4242", c.ID)

	// Broadcast snapshots group members before h.locker is released, so by
	// the time it sends, the client may already be fully dropped. A held
	// reference reproduces that window deterministically.
	close(conn.inbound)
	<-done

	require.NotPanics(t, func() { c.Send(E("late", nil)) })
	require.NotPanics(t, func() { c.signalPing() })
}
