// Package net is the transport layer: a websocket hub implementing the
// room-scoped publish/subscribe fabric the registry fans out through, plus
// LAN discovery helpers.
package net

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atharvgk/agkcanvas/internal/protocol"
)

// Outbound frames per session queued before the hub starts dropping them.
// Fan-out is fire-and-forget; a slow consumer loses frames rather than
// stalling the room.
const sendBuffer = 256

// EventHandler consumes decoded client events. Implemented by the room
// registry.
type EventHandler interface {
	HandleJoin(connID string, req protocol.JoinRequest)
	HandleStrokeChunk(connID string, chunk protocol.StrokeChunk)
	HandleCursor(connID string, cur protocol.CursorUpdate)
	HandleUndo(connID string)
	HandleRedo(connID string)
	HandleDisconnect(connID string)
}

// Hub upgrades websocket connections and tracks sessions and their room
// groups. It satisfies the registry's Fabric interface.
type Hub struct {
	mu       sync.RWMutex
	handler  EventHandler
	sessions map[string]*session
	rooms    map[string]map[string]*session
	upgrader websocket.Upgrader
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler wires the event consumer. Must be called once, before the hub
// accepts connections.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// ServeWS upgrades an HTTP request and runs the session until the peer
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade failed: %v", err)
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	log.Printf("[hub] session %s connected from %s", s.id, conn.RemoteAddr())

	go s.writeLoop()
	h.readLoop(s)
}

// readLoop decodes inbound frames and dispatches them to the handler, one
// at a time: each event is handled to completion before the next is read.
func (h *Hub) readLoop(s *session) {
	defer func() {
		h.drop(s)
		h.handler.HandleDisconnect(s.id)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Printf("[hub] session %s disconnected: %v", s.id, err)
			return
		}

		evt, err := protocol.DecodeClientEvent(data)
		if err != nil {
			log.Printf("[hub] session %s: dropping frame: %v", s.id, err)
			continue
		}

		switch evt := evt.(type) {
		case protocol.JoinRequest:
			h.handler.HandleJoin(s.id, evt)
		case protocol.StrokeChunk:
			h.handler.HandleStrokeChunk(s.id, evt)
		case protocol.CursorUpdate:
			h.handler.HandleCursor(s.id, evt)
		case protocol.UndoRequest:
			h.handler.HandleUndo(s.id)
		case protocol.RedoRequest:
			h.handler.HandleRedo(s.id)
		}
	}
}

func (s *session) writeLoop() {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// drop forgets a session: removed from every room group, send channel
// closed, socket closed. Safe against later Send/Broadcast calls because
// lookups go through the maps it is removed from here.
func (h *Hub) drop(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	for roomID, members := range h.rooms {
		delete(members, s.id)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	close(s.send)
	h.mu.Unlock()
	s.conn.Close()
}

// enqueue must be called with h.mu held (read or write) so the channel
// cannot be closed concurrently.
func (s *session) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		log.Printf("[hub] session %s send buffer full, dropping frame", s.id)
	}
}

// Send delivers a frame to one connection. Unknown connections are ignored.
func (h *Hub) Send(connID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.sessions[connID]; ok {
		s.enqueue(data)
	}
}

// Broadcast delivers a frame to every member of a room group, optionally
// excluding one connection.
func (h *Hub) Broadcast(roomID string, data []byte, excludeConnID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.rooms[roomID] {
		if id == excludeConnID {
			continue
		}
		s.enqueue(data)
	}
}

// JoinGroup subscribes a connection to a room's broadcasts.
func (h *Hub) JoinGroup(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*session)
		h.rooms[roomID] = members
	}
	members[connID] = s
}

// LeaveGroup unsubscribes a connection from a room's broadcasts.
func (h *Hub) LeaveGroup(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}
