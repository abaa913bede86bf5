package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcompose/internal/circuit"
	"qcompose/internal/collab"
	"qcompose/internal/gate"
	"qcompose/internal/history"
)

func newServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// dial connects a raw socket and consumes the greeting, returning the
// assigned connection id.
func dial(t *testing.T, srv *httptest.Server, room string) (*websocket.Conn, string) {
	t.Helper()
	url := wsURL(srv)
	if room != "" {
		url += "?room=" + room
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	hello := read(t, ws)
	require.Equal(t, collab.TypeConnectionEstablished, hello.Type)
	require.NotEmpty(t, hello.ConnectionID)
	if room != "" {
		joined := read(t, ws)
		require.Equal(t, collab.TypeRoomJoined, joined.Type)
	}
	return ws, hello.ConnectionID
}

// read returns the next message that is not presence traffic.
func read(t *testing.T, ws *websocket.Conn) collab.Message {
	t.Helper()
	for {
		msg := readAny(t, ws)
		if msg.Type != collab.TypeConnectionUpdate {
			return msg
		}
	}
}

func readAny(t *testing.T, ws *websocket.Conn) collab.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg collab.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestRelayFansOutWithinRoom(t *testing.T) {
	_, srv := newServer(t)
	alice, aliceID := dial(t, srv, "r1")
	bob, _ := dial(t, srv, "r1")
	carol, _ := dial(t, srv, "r2")

	update := collab.Message{
		Type:         collab.TypeGateOpUpdate,
		Operation:    collab.OpUpdate,
		ConnectionID: "spoofed",
		Data:         json.RawMessage(`{"gates":[]}`),
	}
	require.NoError(t, alice.WriteJSON(update))

	got := read(t, bob)
	assert.Equal(t, collab.TypeGateOpUpdate, got.Type)
	assert.Equal(t, aliceID, got.ConnectionID, "relay stamps the sender")
	assert.Equal(t, "r1", got.Room)
	assert.JSONEq(t, `{"gates":[]}`, string(got.Data))

	// the next thing alice and carol see is their own pong, not the update
	for _, ws := range []*websocket.Conn{alice, carol} {
		require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypePing}))
		assert.Equal(t, collab.TypePong, read(t, ws).Type)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	_, srv := newServer(t)
	ws, _ := dial(t, srv, "")

	require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypeJoinRoom, Room: "lab"}))
	joined := read(t, ws)
	assert.Equal(t, collab.TypeRoomJoined, joined.Type)
	require.NotNil(t, joined.Success)
	assert.True(t, *joined.Success)

	require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypeLeaveRoom, Room: "lab"}))
	left := read(t, ws)
	assert.Equal(t, collab.TypeRoomLeft, left.Type)
	assert.True(t, *left.Success)

	require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypeLeaveRoom, Room: "lab"}))
	assert.False(t, *read(t, ws).Success)

	require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypeJoinRoom}))
	assert.Equal(t, collab.TypeError, read(t, ws).Type)
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := newServer(t)
	dial(t, srv, "r1")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Connections)
	assert.Equal(t, 1, health.Rooms)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "qcompose_relay_connections 1")
}

func TestSessionsSyncThroughRelay(t *testing.T) {
	_, srv := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type peer struct {
		store *history.Store[circuit.State]
		sess  *collab.Session
	}
	connect := func() peer {
		client, err := Dial(ctx, wsURL(srv), "shared", nil)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })

		store := history.New(circuit.NewState(2))
		sess := collab.NewSession(store, client, collab.Options{Debounce: 10 * time.Millisecond})
		sess.Start(ctx)
		t.Cleanup(sess.Close)
		go client.Run(ctx, sess.Receive)
		return peer{store: store, sess: sess}
	}
	a := connect()
	b := connect()

	require.Eventually(t, func() bool {
		return a.sess.ConnectionID() != "" && b.sess.ConnectionID() != ""
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(a.sess.Peers()) == 1 && len(b.sess.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, b.sess.ConnectionID(), a.sess.Peers()[0].ConnectionID)

	h, ok := gate.Lookup("h")
	require.True(t, ok)
	a.store.Set(circuit.Insert(a.store.Present(), circuit.NewGate(h, 0, 1)), true)

	require.Eventually(t, func() bool {
		return len(b.store.Present().PlacedGates) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, b.store.CanUndo(), "remote edits do not create undo steps")
}

func TestPresenceUpdates(t *testing.T) {
	_, srv := newServer(t)
	alice, _ := dial(t, srv, "r1")
	bob, bobID := dial(t, srv, "r1")

	connected := readAny(t, alice)
	assert.Equal(t, collab.TypeConnectionUpdate, connected.Type)
	assert.Equal(t, collab.EventUserConnected, connected.Event)
	assert.Equal(t, bobID, connected.ConnectionID)
	assert.Equal(t, 2, connected.TotalConnections)

	joined := readAny(t, alice)
	assert.Equal(t, collab.EventUserJoinedRoom, joined.Event)
	assert.Equal(t, "r1", joined.Room)
	assert.Equal(t, bobID, joined.ConnectionID)

	require.NoError(t, bob.WriteJSON(collab.Message{Type: collab.TypeCursorMove, Position: &collab.Cursor{Depth: 3, Qubit: 1}}))
	cursor := readAny(t, alice)
	assert.Equal(t, collab.TypeCursorUpdate, cursor.Type)
	assert.Equal(t, bobID, cursor.ConnectionID)
	assert.Equal(t, "r1", cursor.Room)
	assert.Equal(t, &collab.Cursor{Depth: 3, Qubit: 1}, cursor.Position)

	require.NoError(t, bob.WriteJSON(collab.Message{Type: collab.TypeCursorMove}))
	assert.Equal(t, collab.TypeError, read(t, bob).Type)

	require.NoError(t, bob.WriteJSON(collab.Message{Type: collab.TypeLeaveRoom, Room: "r1"}))
	left := readAny(t, alice)
	assert.Equal(t, collab.EventUserLeftRoom, left.Event)
	assert.Equal(t, bobID, left.ConnectionID)

	require.NoError(t, bob.Close())
	gone := readAny(t, alice)
	assert.Equal(t, collab.EventUserDisconnected, gone.Event)
	assert.Equal(t, bobID, gone.ConnectionID)
	assert.Equal(t, 1, gone.TotalConnections)
}

func TestRoomJoinedListsPeers(t *testing.T) {
	_, srv := newServer(t)
	_, aliceID := dial(t, srv, "r1")
	ws, _ := dial(t, srv, "")

	require.NoError(t, ws.WriteJSON(collab.Message{Type: collab.TypeJoinRoom, Room: "r1"}))
	joined := read(t, ws)
	assert.Equal(t, collab.TypeRoomJoined, joined.Type)
	assert.Equal(t, []string{aliceID}, joined.Peers)
}
