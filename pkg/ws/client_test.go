package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.HandleUpgrade(w, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestClientRoundTrip(t *testing.T) {
	h := newTestHub(t, WithAllowAllOrigins())
	url := newWSServer(t, h)

	alice := dial(t, url)
	welcome := readFrame(t, alice)
	require.Equal(t, TypeWelcome, welcome["type"])
	aliceID := welcome["clientId"].(string)

	bob := dial(t, url)
	bobID := readFrame(t, bob)["clientId"].(string)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "create-room"}))
	created := readFrame(t, alice)
	require.Equal(t, TypeRoomCreated, created["type"])
	roomID := created["roomId"].(string)

	require.NoError(t, bob.WriteJSON(map[string]any{"type": "join-room", "roomId": roomID}))
	assert.Equal(t, TypeRoomJoined, readFrame(t, bob)["type"])
	assert.Equal(t, TypeExistingParticipants, readFrame(t, bob)["type"])
	assert.Equal(t, bobID, readFrame(t, alice)["clientId"])

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "offer", "target": bobID, "sdp": "v=0"}))
	offer := readFrame(t, bob)
	assert.Equal(t, TypeOffer, offer["type"])
	assert.Equal(t, aliceID, offer["sender"])

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("garbage")))
	assert.Equal(t, "Invalid message format", readFrame(t, bob)["message"])

	require.NoError(t, bob.Close())
	left := readFrame(t, alice)
	assert.Equal(t, TypeUserLeft, left["type"])
	assert.Equal(t, bobID, left["clientId"])

	require.Eventually(t, func() bool {
		return h.Stats().TotalClients == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientRejectedOrigin(t *testing.T) {
	h := newTestHub(t, WithFrontendOrigin("https://app.example.com"))
	url := newWSServer(t, h)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, TypeWelcome, readFrame(t, conn)["type"])
}

func TestClientOverLimitIsClosed(t *testing.T) {
	h := newTestHub(t, WithAllowAllOrigins(), WithMaxConnections(1))
	url := newWSServer(t, h)

	first := dial(t, url)
	readFrame(t, first)

	second := dial(t, url)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestClientMessageSizeLimit(t *testing.T) {
	h := newTestHub(t, WithAllowAllOrigins(), WithMessageSizeLimit(64))
	url := newWSServer(t, h)

	conn := dial(t, url)
	readFrame(t, conn)

	big := `{"type":"chat-message","message":"` + strings.Repeat("x", 128) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.Eventually(t, func() bool {
		return h.Stats().TotalClients == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClientPongUpdatesLastPong(t *testing.T) {
	h := newTestHub(t, WithAllowAllOrigins(), WithHeartbeat(30*time.Millisecond, time.Second))
	url := newWSServer(t, h)

	conn := dial(t, url)
	readFrame(t, conn)

	conns := h.Connections()
	require.Len(t, conns, 1)
	require.NotNil(t, conns[0].LastPong)
	first := *conns[0].LastPong

	// 持续读取，默认 ping 处理器才会回复 pong
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		conns := h.Connections()
		return len(conns) == 1 && conns[0].LastPong != nil && conns[0].LastPong.After(first)
	}, 2*time.Second, 20*time.Millisecond)
}
