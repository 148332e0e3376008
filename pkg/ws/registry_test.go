package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookupRemove(t *testing.T) {
	r := NewRegistry(0)

	a, err := r.Register(newFakeTransport())
	require.NoError(t, err)
	b, err := r.Register(newFakeTransport())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "127.0.0.1:40000", a.RemoteAddr)
	assert.Equal(t, 2, r.Count())

	got, ok := r.Lookup(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	removed, ok := r.Remove(a.ID)
	require.True(t, ok)
	assert.Same(t, a, removed)
	_, ok = r.Lookup(a.ID)
	assert.False(t, ok)

	_, ok = r.Remove(a.ID)
	assert.False(t, ok, "second remove is a no-op")
	assert.Equal(t, 1, r.Count())
}

func TestRegistryMaxConnections(t *testing.T) {
	r := NewRegistry(1)
	_, err := r.Register(newFakeTransport())
	require.NoError(t, err)

	_, err = r.Register(newFakeTransport())
	assert.ErrorIs(t, err, ErrTooManyConnections)
}

func TestRegistryRemoveDoesNotCascade(t *testing.T) {
	r := NewRegistry(0)
	c, _ := r.Register(newFakeTransport())
	c.RoomID = "room-1"

	removed, ok := r.Remove(c.ID)
	require.True(t, ok)
	assert.Equal(t, "room-1", removed.RoomID)
}

func TestRegistryUpdatePresence(t *testing.T) {
	r := NewRegistry(0)
	c, _ := r.Register(newFakeTransport())
	c.UserID, c.UserName = "u1", "Alice"

	name := "Alicia"
	empty := ""
	assert.True(t, r.UpdatePresence(c.ID, &empty, &name))
	assert.Equal(t, "u1", c.UserID, "empty values are ignored")
	assert.Equal(t, "Alicia", c.UserName)

	assert.True(t, r.UpdatePresence(c.ID, nil, nil))
	assert.Equal(t, UserData{UserID: "u1", UserName: "Alicia"}, c.UserData())

	assert.False(t, r.UpdatePresence("missing", &name, nil))
}

func TestRegistryBind(t *testing.T) {
	r := NewRegistry(0)
	a, _ := r.Register(newFakeTransport())
	b, _ := r.Register(newFakeTransport())

	assert.True(t, r.Bind(a.ID, "alice"))
	assert.True(t, r.Bind(b.ID, "alice"))
	assert.False(t, r.Bind(a.ID, ""))
	assert.False(t, r.Bind("missing", "alice"))

	conns := r.ConnectionsOf("alice")
	require.Len(t, conns, 2)
	assert.Equal(t, a.ID, conns[0].ID)
	assert.Equal(t, b.ID, conns[1].ID)

	// 重新绑定会从原用户移除
	assert.True(t, r.Bind(a.ID, "bob"))
	assert.Len(t, r.ConnectionsOf("alice"), 1)
	assert.Len(t, r.ConnectionsOf("bob"), 1)

	r.Remove(b.ID)
	assert.Empty(t, r.ConnectionsOf("alice"))
	assert.Empty(t, r.accounts["alice"])
}

func TestRegistryRangeOrderAndSnapshot(t *testing.T) {
	r := NewRegistry(0)
	var ids []string
	for i := 0; i < 4; i++ {
		c, _ := r.Register(newFakeTransport())
		ids = append(ids, c.ID)
	}
	r.Remove(ids[1])

	var seen []string
	r.Range(func(c *Connection) bool {
		seen = append(seen, c.ID)
		return true
	})
	assert.Equal(t, []string{ids[0], ids[2], ids[3]}, seen)

	var first []string
	r.Range(func(c *Connection) bool {
		first = append(first, c.ID)
		return false
	})
	assert.Len(t, first, 1)

	c, _ := r.Lookup(ids[2])
	c.Transport.(*fakeTransport).setState(StateClosing)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, ids[0], snap[0].ID)
	assert.Equal(t, "open", snap[0].State)
	assert.Equal(t, "closing", snap[1].State)
}

type pongTransport struct {
	*fakeTransport
	at time.Time
}

func (p pongTransport) LastPong() time.Time { return p.at }

func TestRegistrySnapshotLastPong(t *testing.T) {
	r := NewRegistry(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	plain, _ := r.Register(newFakeTransport())
	beating, _ := r.Register(pongTransport{fakeTransport: newFakeTransport(), at: at})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, plain.ID, snap[0].ID)
	assert.Nil(t, snap[0].LastPong)
	assert.Equal(t, beating.ID, snap[1].ID)
	require.NotNil(t, snap[1].LastPong)
	assert.True(t, at.Equal(*snap[1].LastPong))
}
