// Package rooms owns room lifecycle and participant membership: it
// translates transport connection events into drawing-log mutations and
// fans the results out over the publish/subscribe fabric.
package rooms

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atharvgk/agkcanvas/internal/protocol"
	"github.com/atharvgk/agkcanvas/internal/state"
)

const (
	// DefaultRoomID is used when a join request names no room.
	DefaultRoomID = "default"

	// soloPrefix marks ephemeral single-user rooms, exempt from the
	// "must be explicitly created" check.
	soloPrefix = "solo-"
)

// colorPool is cycled by room occupancy when a new identity is minted.
// Collisions are possible beyond the pool size.
var colorPool = []string{
	"#ef4444",
	"#f59e0b",
	"#10b981",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
	"#14b8a6",
	"#22c55e",
}

// Fabric is the room-scoped transport the registry publishes through. The
// registry depends only on these primitives, not on any specific transport.
// Delivery is fire-and-forget.
type Fabric interface {
	// Send delivers a frame to a single connection.
	Send(connID string, data []byte)
	// Broadcast delivers a frame to every member of a room group,
	// optionally excluding one connection.
	Broadcast(roomID string, data []byte, excludeConnID string)
	// JoinGroup and LeaveGroup manage a connection's room subscription.
	JoinGroup(connID, roomID string)
	LeaveGroup(connID, roomID string)
}

// member is the per-connection binding: who this connection is and which
// room it currently occupies.
type member struct {
	userID   string
	username string
	roomID   string
	color    string
}

// roomLog pairs a room's drawing history with its last activity time.
// The log outlives the membership; see PruneIdle.
type roomLog struct {
	log        *state.DrawingLog
	lastActive time.Time
}

// RoomInfo is a summary row for the room listing endpoint.
type RoomInfo struct {
	RoomID     string `json:"roomId"`
	Members    int    `json:"members"`
	Operations int    `json:"operations"`
}

// Registry tracks every room and connection identity for one server
// process. It is constructed once at startup and handed to the transport;
// there is no ambient global state.
//
// A single mutex serializes all handlers, so mutation and fan-out for one
// event are atomic with respect to all other events.
type Registry struct {
	mu     sync.Mutex
	fabric Fabric
	users  map[string]*member               // connID -> binding
	rooms  map[string]map[string]state.User // roomID -> userID -> user
	exists map[string]bool                  // explicitly created rooms
	logs   map[string]*roomLog              // retained past last leave
	now    func() time.Time
}

func NewRegistry(fabric Fabric) *Registry {
	return &Registry{
		fabric: fabric,
		users:  make(map[string]*member),
		rooms:  make(map[string]map[string]state.User),
		exists: make(map[string]bool),
		logs:   make(map[string]*roomLog),
		now:    time.Now,
	}
}

// HandleJoin runs the join protocol for a connection: leave the previous
// room if any, resolve the target, enforce the create flag, bind or reuse
// an identity, send the init snapshot and announce presence.
func (r *Registry) HandleJoin(connID string, req protocol.JoinRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.users[connID]
	if old != nil {
		r.fabric.LeaveGroup(connID, old.roomID)
		r.removeFromRoom(old)
		r.broadcast(old.roomID, protocol.EventPresence, protocol.PresenceEvent{
			Type: protocol.PresenceLeave,
			User: state.User{UserID: old.userID, Username: old.username, Color: old.color},
		}, "")
	}

	roomID := req.RoomID
	if strings.TrimSpace(roomID) == "" {
		roomID = DefaultRoomID
	}
	isSolo := strings.HasPrefix(roomID, soloPrefix)

	if !req.Create && !isSolo && !r.exists[roomID] {
		log.Printf("[rooms] rejecting join to unknown room %q", roomID)
		r.send(connID, protocol.EventRoomError, protocol.RoomError{Message: "Room does not exist"})
		return
	}

	rl := r.ensureLog(roomID)

	var userID, color string
	if old != nil {
		userID, color = old.userID, old.color
	} else {
		userID = uuid.NewString()
		color = colorPool[rl.log.UserCount()%len(colorPool)]
	}
	username := req.Username
	if strings.TrimSpace(username) == "" {
		if old != nil {
			username = old.username
		} else {
			username = "User-" + userID[:4]
		}
	}

	users := r.rooms[roomID]
	if users == nil {
		users = make(map[string]state.User)
		r.rooms[roomID] = users
	}

	u := state.User{UserID: userID, Username: username, Color: color}
	r.users[connID] = &member{userID: userID, username: username, roomID: roomID, color: color}
	users[userID] = u
	if !isSolo {
		r.exists[roomID] = true
	}
	r.fabric.JoinGroup(connID, roomID)
	rl.lastActive = r.now()

	all := make([]state.User, 0, len(users))
	for _, usr := range users {
		all = append(all, usr)
	}
	r.send(connID, protocol.EventInit, protocol.InitPayload{
		RoomID:     roomID,
		UserID:     userID,
		Username:   username,
		Color:      color,
		Operations: rl.log.Snapshot(),
		Users:      all,
	})
	r.broadcast(roomID, protocol.EventPresence, protocol.PresenceEvent{
		Type: protocol.PresenceJoin,
		User: u,
	}, connID)

	log.Printf("[rooms] %s (%s) joined room %q", username, userID, roomID)
}

// HandleCursor fans a pointer sample out to the whole room, sender
// included, attributed with the member's identity and color.
func (r *Registry) HandleCursor(connID string, cur protocol.CursorUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[connID]
	if u == nil {
		return
	}
	r.broadcast(u.roomID, protocol.EventCursor, protocol.CursorBroadcast{
		UserID:   u.userID,
		Color:    u.color,
		X:        cur.X,
		Y:        cur.Y,
		Pressure: cur.Pressure,
	}, "")
}

// HandleStrokeChunk merges a stroke fragment into the room's log and relays
// the raw chunk to every other room member; the sender already applied it
// locally. Creation chunks missing tool data are rejected and dropped.
func (r *Registry) HandleStrokeChunk(connID string, chunk protocol.StrokeChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[connID]
	if u == nil {
		return
	}
	rl := r.logs[u.roomID]
	if rl == nil {
		return
	}

	if !rl.log.Has(chunk.OpID) && !validCreation(chunk) {
		log.Printf("[rooms] dropping malformed creation chunk %q from %s", chunk.OpID, u.userID)
		return
	}

	rl.log.AppendOrMerge(state.Operation{
		ID:        chunk.OpID,
		OwnerID:   u.userID,
		Tool:      chunk.Tool,
		Color:     chunk.Color,
		Size:      chunk.Size,
		Points:    chunk.Points,
		Timestamp: r.now().UnixMilli(),
		IsFinal:   chunk.IsFinal,
	})
	rl.lastActive = r.now()

	relay := chunk
	relay.UserID = u.userID
	relay.RoomID = u.roomID
	r.broadcast(u.roomID, protocol.EventStrokeChunk, relay, connID)
}

// HandleUndo revokes the room's most recent finalized stroke, if any, and
// announces it to the whole room, requester included.
func (r *Registry) HandleUndo(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[connID]
	if u == nil {
		return
	}
	rl := r.logs[u.roomID]
	if rl == nil {
		return
	}
	op, ok := rl.log.Undo()
	if !ok {
		return
	}
	rl.lastActive = r.now()
	r.broadcast(u.roomID, protocol.EventUndo, protocol.UndoBroadcast{OpID: op.ID}, "")
}

// HandleRedo restores the most recently revoked stroke, if any, carrying
// the full operation for clients that never saw it.
func (r *Registry) HandleRedo(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[connID]
	if u == nil {
		return
	}
	rl := r.logs[u.roomID]
	if rl == nil {
		return
	}
	op, ok := rl.log.Redo()
	if !ok {
		return
	}
	rl.lastActive = r.now()
	r.broadcast(u.roomID, protocol.EventRedo, protocol.RedoBroadcast{OpID: op.ID, Operation: op}, "")
}

// HandleDisconnect treats a dropped connection as an implicit leave.
func (r *Registry) HandleDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[connID]
	if u == nil {
		return
	}
	delete(r.users, connID)
	r.removeFromRoom(u)
	r.broadcast(u.roomID, protocol.EventPresence, protocol.PresenceEvent{
		Type: protocol.PresenceLeave,
		User: state.User{UserID: u.userID, Username: u.username, Color: u.color},
	}, "")

	log.Printf("[rooms] %s (%s) left room %q", u.username, u.userID, u.roomID)
}

// SnapshotRoom returns a copy of a room's history, or false if no log is
// retained for that id. The history survives an empty membership.
func (r *Registry) SnapshotRoom(roomID string) ([]state.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl := r.logs[roomID]
	if rl == nil {
		return nil, false
	}
	return rl.log.Snapshot(), true
}

// Rooms lists every room with a retained log.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]RoomInfo, 0, len(r.logs))
	for id, rl := range r.logs {
		infos = append(infos, RoomInfo{
			RoomID:     id,
			Members:    len(r.rooms[id]),
			Operations: len(rl.log.Snapshot()),
		})
	}
	return infos
}

// PruneIdle drops the drawing logs of member-less rooms whose last activity
// is older than maxIdle, and reports how many were evicted. Occupied rooms
// are never pruned. This is the explicit retention policy: history survives
// the last leave and is reclaimed lazily.
func (r *Registry) PruneIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, rl := range r.logs {
		if len(r.rooms[id]) > 0 {
			continue
		}
		if r.now().Sub(rl.lastActive) >= maxIdle {
			delete(r.logs, id)
			pruned++
		}
	}
	if pruned > 0 {
		log.Printf("[rooms] pruned %d idle room log(s)", pruned)
	}
	return pruned
}

// removeFromRoom drops a member from its room's bookkeeping. When the room
// empties, its membership and existence flag are forgotten; the drawing log
// is retained.
func (r *Registry) removeFromRoom(m *member) {
	users := r.rooms[m.roomID]
	if users == nil {
		return
	}
	delete(users, m.userID)
	if len(users) == 0 {
		delete(r.rooms, m.roomID)
		delete(r.exists, m.roomID)
	}
}

func (r *Registry) ensureLog(roomID string) *roomLog {
	rl := r.logs[roomID]
	if rl == nil {
		rl = &roomLog{log: state.NewDrawingLog(), lastActive: r.now()}
		r.logs[roomID] = rl
	}
	return rl
}

func validCreation(chunk protocol.StrokeChunk) bool {
	return chunk.OpID != "" && chunk.Tool.Valid() && chunk.Color != "" && chunk.Size > 0
}

func (r *Registry) send(connID string, t protocol.EventType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Printf("[rooms] encoding %s: %v", t, err)
		return
	}
	r.fabric.Send(connID, data)
}

func (r *Registry) broadcast(roomID string, t protocol.EventType, payload any, exclude string) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Printf("[rooms] encoding %s: %v", t, err)
		return
	}
	r.fabric.Broadcast(roomID, data, exclude)
}
