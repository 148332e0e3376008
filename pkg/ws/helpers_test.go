package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport 记录发出的帧
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	state  TransportState
	full   bool
	closes int
	addr   string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{addr: "127.0.0.1:40000"}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateOpen {
		return ErrConnectionClosed
	}
	if f.full {
		return ErrChannelFull
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) State() TransportState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
	f.closes++
	return nil
}

func (f *fakeTransport) setState(s TransportState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeTransport) setFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// frames 解码后的全部帧
func (f *fakeTransport) frames(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, data := range f.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

// types 帧类型序列
func (f *fakeTransport) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.frames(t) {
		typ, _ := m["type"].(string)
		out = append(out, typ)
	}
	return out
}

// last 最后一个指定类型的帧
func (f *fakeTransport) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	frames := f.frames(t)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i]["type"] == typ {
			return frames[i]
		}
	}
	t.Fatalf("no %q frame in %v", typ, f.types(t))
	return nil
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	opts = append([]Option{WithSweepInterval(time.Hour)}, opts...)
	h, err := NewHub(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// connect 接入一个假连接，清空 welcome
func connect(t *testing.T, h *Hub) (*fakeTransport, string) {
	t.Helper()
	ft := newFakeTransport()
	id, err := h.Connect(ft)
	require.NoError(t, err)
	ft.reset()
	return ft, id
}

func send(t *testing.T, h *Hub, id string, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	h.Dispatch(context.Background(), id, data)
}

// assertMembership 连接与房间的双向成员关系一致
func assertMembership(t *testing.T, h *Hub) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.Range(func(c *Connection) bool {
		if c.RoomID == "" {
			return true
		}
		room, ok := h.rooms.Lookup(c.RoomID)
		require.Truef(t, ok, "connection %s points at missing room %s", c.ID, c.RoomID)
		require.Truef(t, room.Has(c.ID), "room %s does not list %s", c.RoomID, c.ID)
		return true
	})
	for _, id := range h.rooms.order {
		room := h.rooms.rooms[id]
		for _, p := range room.participants {
			c, ok := h.registry.Lookup(p)
			require.Truef(t, ok, "room %s lists unknown connection %s", id, p)
			require.Equal(t, id, c.RoomID)
		}
		if room.Len() > 0 {
			require.True(t, room.Has(room.Host), "host of %s is not a member", id)
		}
	}
}
