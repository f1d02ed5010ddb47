package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvgk/agkcanvas/internal/state"
)

func TestDecodeClientEventDispatch(t *testing.T) {
	evt, err := DecodeClientEvent([]byte(`{"type":"join","payload":{"roomId":"demo","create":true}}`))
	require.NoError(t, err)
	join, ok := evt.(JoinRequest)
	require.True(t, ok)
	assert.Equal(t, "demo", join.RoomID)
	assert.True(t, join.Create)

	evt, err = DecodeClientEvent([]byte(`{"type":"strokeChunk","payload":{"opId":"op-1","tool":"brush","color":"#ef4444","size":8,"points":[{"x":1,"y":2,"t":3}],"isFinal":true}}`))
	require.NoError(t, err)
	chunk, ok := evt.(StrokeChunk)
	require.True(t, ok)
	assert.Equal(t, "op-1", chunk.OpID)
	assert.Equal(t, state.ToolBrush, chunk.Tool)
	require.Len(t, chunk.Points, 1)
	assert.True(t, chunk.IsFinal)

	evt, err = DecodeClientEvent([]byte(`{"type":"cursor","payload":{"x":10,"y":20,"pressure":0.5}}`))
	require.NoError(t, err)
	cur, ok := evt.(CursorUpdate)
	require.True(t, ok)
	require.NotNil(t, cur.Pressure)
	assert.Equal(t, 0.5, *cur.Pressure)

	evt, err = DecodeClientEvent([]byte(`{"type":"undo"}`))
	require.NoError(t, err)
	assert.IsType(t, UndoRequest{}, evt)

	evt, err = DecodeClientEvent([]byte(`{"type":"redo"}`))
	require.NoError(t, err)
	assert.IsType(t, RedoRequest{}, evt)
}

func TestDecodeClientEventEmptyJoinPayload(t *testing.T) {
	// A bare join means: default room, minted username, no create intent.
	evt, err := DecodeClientEvent([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	join, ok := evt.(JoinRequest)
	require.True(t, ok)
	assert.Empty(t, join.RoomID)
	assert.False(t, join.Create)
}

func TestDecodeClientEventRejectsGarbage(t *testing.T) {
	_, err := DecodeClientEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeClientEvent([]byte(`{"type":"shout","payload":{}}`))
	assert.Error(t, err, "server->client and unknown tags are not client events")

	_, err = DecodeClientEvent([]byte(`{"type":"init"}`))
	assert.Error(t, err)

	_, err = DecodeClientEvent([]byte(`{"type":"cursor","payload":{"x":"left"}}`))
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Encode(EventRoomError, RoomError{Message: "Room does not exist"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"roomError","payload":{"message":"Room does not exist"}}`, string(data))

	data, err = Encode(EventUndo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"undo"}`, string(data))
}
