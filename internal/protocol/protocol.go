// Package protocol defines the wire contract between a whiteboard client
// and the server: a closed set of tagged message variants carried as JSON
// envelopes over the room-scoped transport.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/atharvgk/agkcanvas/internal/state"
)

// EventType tags a message envelope.
type EventType string

const (
	// client -> server
	EventJoin   EventType = "join"
	EventUndo   EventType = "undo"
	EventRedo   EventType = "redo"
	EventCursor EventType = "cursor"

	// both directions
	EventStrokeChunk EventType = "strokeChunk"

	// server -> client
	EventInit      EventType = "init"
	EventRoomError EventType = "roomError"
	EventPresence  EventType = "presence"
)

// Envelope is the outer frame: a type tag plus the typed payload.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRequest asks to enter (or create) a room.
type JoinRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username,omitempty"`
	Create   bool   `json:"create,omitempty"`
}

// InitPayload is sent to the requester only, after a successful join.
type InitPayload struct {
	RoomID     string            `json:"roomId"`
	UserID     string            `json:"userId"`
	Username   string            `json:"username"`
	Color      string            `json:"color"`
	Operations []state.Operation `json:"operations"`
	Users      []state.User      `json:"users"`
}

// RoomError reports a rejected join to the requester only.
type RoomError struct {
	Message string `json:"message"`
}

// StrokeChunk is an incremental fragment of an operation's points. The
// server relays it verbatim to the other room members, stamping UserID from
// the sender's membership.
type StrokeChunk struct {
	OpID    string        `json:"opId"`
	UserID  string        `json:"userId,omitempty"`
	RoomID  string        `json:"roomId,omitempty"`
	Tool    state.Tool    `json:"tool"`
	Color   string        `json:"color"`
	Size    float64       `json:"size"`
	Points  []state.Point `json:"points"`
	IsFinal bool          `json:"isFinal,omitempty"`
}

// CursorUpdate is a client's raw pointer sample.
type CursorUpdate struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// CursorBroadcast is the fan-out form of a cursor sample, attributed to a
// member. Sent to the whole room, sender included.
type CursorBroadcast struct {
	UserID   string   `json:"userId"`
	Color    string   `json:"color"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// UndoRequest and RedoRequest carry no payload.
type UndoRequest struct{}
type RedoRequest struct{}

// UndoBroadcast announces a revoked operation to the whole room.
type UndoBroadcast struct {
	OpID string `json:"opId"`
}

// RedoBroadcast announces a restored operation, carrying the full operation
// so clients that never saw it can insert a copy.
type RedoBroadcast struct {
	OpID      string          `json:"opId"`
	Operation state.Operation `json:"operation"`
}

// Presence event types.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// PresenceEvent announces a member joining or leaving a room.
type PresenceEvent struct {
	Type string     `json:"type"`
	User state.User `json:"user"`
}

// ClientEvent is one decoded client->server message. The concrete type is
// exactly one of JoinRequest, StrokeChunk, CursorUpdate, UndoRequest or
// RedoRequest; dispatch with a type switch.
type ClientEvent interface {
	clientEvent()
}

func (JoinRequest) clientEvent()  {}
func (StrokeChunk) clientEvent()  {}
func (CursorUpdate) clientEvent() {}
func (UndoRequest) clientEvent()  {}
func (RedoRequest) clientEvent()  {}

// DecodeClientEvent parses an inbound frame into its typed variant.
// Unknown tags and malformed payloads are errors; the transport drops such
// frames.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case EventJoin:
		var p JoinRequest
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventStrokeChunk:
		var p StrokeChunk
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventCursor:
		var p CursorUpdate
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventUndo:
		return UndoRequest{}, nil
	case EventRedo:
		return RedoRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

// Encode builds an outbound frame. A nil payload yields a bare envelope,
// used by the payload-less undo/redo requests.
func Encode(t EventType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
