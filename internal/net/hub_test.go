package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvgk/agkcanvas/internal/client"
	"github.com/atharvgk/agkcanvas/internal/protocol"
	"github.com/atharvgk/agkcanvas/internal/rooms"
	"github.com/atharvgk/agkcanvas/internal/state"
)

func startServer(t *testing.T) (*httptest.Server, *rooms.Registry) {
	t.Helper()
	hub := NewHub()
	registry := rooms.NewRegistry(hub)
	hub.SetHandler(registry)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, et protocol.EventType, payload any) {
	t.Helper()
	data, err := protocol.Encode(et, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func read(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func readPayload(t *testing.T, conn *websocket.Conn, want protocol.EventType, dst any) {
	t.Helper()
	env := read(t, conn)
	require.Equal(t, want, env.Type)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Payload, dst))
	}
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no frame")
}

func TestStrokeRelayAcrossConnections(t *testing.T) {
	srv, _ := startServer(t)

	ws1 := dial(t, srv)
	send(t, ws1, protocol.EventJoin, protocol.JoinRequest{RoomID: "board", Create: true})
	var init1 protocol.InitPayload
	readPayload(t, ws1, protocol.EventInit, &init1)

	ws2 := dial(t, srv)
	send(t, ws2, protocol.EventJoin, protocol.JoinRequest{RoomID: "board"})
	var init2 protocol.InitPayload
	readPayload(t, ws2, protocol.EventInit, &init2)
	require.Len(t, init2.Users, 2)

	var pres protocol.PresenceEvent
	readPayload(t, ws1, protocol.EventPresence, &pres)
	assert.Equal(t, protocol.PresenceJoin, pres.Type)
	assert.Equal(t, init2.UserID, pres.User.UserID)

	// A 3-chunk stroke from connection 1: two incremental, one final.
	chunk := protocol.StrokeChunk{
		OpID: "op-1", Tool: state.ToolBrush, Color: "#ef4444", Size: 8,
		Points: []state.Point{{X: 1}},
	}
	send(t, ws1, protocol.EventStrokeChunk, chunk)
	chunk.Points = []state.Point{{X: 2}}
	send(t, ws1, protocol.EventStrokeChunk, chunk)
	chunk.Points = []state.Point{{X: 3}}
	chunk.IsFinal = true
	send(t, ws1, protocol.EventStrokeChunk, chunk)

	// Connection 2's replica converges on one 3-point final operation.
	replica := client.NewReplica()
	replica.ApplyInit(init2)
	for i := 0; i < 3; i++ {
		var relayed protocol.StrokeChunk
		readPayload(t, ws2, protocol.EventStrokeChunk, &relayed)
		assert.Equal(t, init1.UserID, relayed.UserID)
		replica.ApplyRemoteChunk(relayed)
	}
	ops := replica.Operations()
	require.Len(t, ops, 1)
	assert.Len(t, ops[0].Points, 3)
	assert.True(t, ops[0].IsFinal)

	// The sender never receives its own chunks back.
	assertSilent(t, ws1)
}

func TestUndoBroadcastToWholeRoom(t *testing.T) {
	srv, _ := startServer(t)

	ws1 := dial(t, srv)
	send(t, ws1, protocol.EventJoin, protocol.JoinRequest{RoomID: "board", Create: true})
	readPayload(t, ws1, protocol.EventInit, nil)

	ws2 := dial(t, srv)
	send(t, ws2, protocol.EventJoin, protocol.JoinRequest{RoomID: "board"})
	readPayload(t, ws2, protocol.EventInit, nil)
	readPayload(t, ws1, protocol.EventPresence, nil)

	send(t, ws1, protocol.EventStrokeChunk, protocol.StrokeChunk{
		OpID: "op-1", Tool: state.ToolBrush, Color: "#ef4444", Size: 8,
		Points: []state.Point{{X: 1}, {X: 2}}, IsFinal: true,
	})
	readPayload(t, ws2, protocol.EventStrokeChunk, nil)

	// Requester and peer both see the undo.
	send(t, ws2, protocol.EventUndo, nil)
	var undo1, undo2 protocol.UndoBroadcast
	readPayload(t, ws1, protocol.EventUndo, &undo1)
	readPayload(t, ws2, protocol.EventUndo, &undo2)
	assert.Equal(t, "op-1", undo1.OpID)
	assert.Equal(t, "op-1", undo2.OpID)
}

func TestRejectedJoinOnlyAnswersRequester(t *testing.T) {
	srv, registry := startServer(t)

	ws := dial(t, srv)
	send(t, ws, protocol.EventJoin, protocol.JoinRequest{RoomID: "nowhere"})

	var roomErr protocol.RoomError
	readPayload(t, ws, protocol.EventRoomError, &roomErr)
	assert.Equal(t, "Room does not exist", roomErr.Message)

	_, ok := registry.SnapshotRoom("nowhere")
	assert.False(t, ok)
}

func TestUndecodableFramesAreDropped(t *testing.T) {
	srv, _ := startServer(t)

	ws := dial(t, srv)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence"}`)))

	// The session survives and a valid join still works.
	send(t, ws, protocol.EventJoin, protocol.JoinRequest{RoomID: "solo-x"})
	readPayload(t, ws, protocol.EventInit, nil)
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	srv, _ := startServer(t)

	ws1 := dial(t, srv)
	send(t, ws1, protocol.EventJoin, protocol.JoinRequest{RoomID: "board", Create: true})
	var init1 protocol.InitPayload
	readPayload(t, ws1, protocol.EventInit, &init1)

	ws2 := dial(t, srv)
	send(t, ws2, protocol.EventJoin, protocol.JoinRequest{RoomID: "board"})
	readPayload(t, ws2, protocol.EventInit, nil)
	readPayload(t, ws1, protocol.EventPresence, nil)

	require.NoError(t, ws1.Close())

	var pres protocol.PresenceEvent
	readPayload(t, ws2, protocol.EventPresence, &pres)
	assert.Equal(t, protocol.PresenceLeave, pres.Type)
	assert.Equal(t, init1.UserID, pres.User.UserID)
}
