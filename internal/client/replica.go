// Package client holds the local mirror of a room's operation log, used
// for optimistic rendering and reconciliation against the server. The
// renderer itself lives outside this module and consumes VisibleOperations.
package client

import (
	"sync"

	"github.com/google/uuid"

	"github.com/atharvgk/agkcanvas/internal/protocol"
	"github.com/atharvgk/agkcanvas/internal/state"
)

// Drawing attribute defaults before the user picks anything.
const (
	defaultColor = "#3b82f6"
	defaultSize  = 8.0
)

// Replica mirrors the server's drawing log for one connection. Local input
// mutates it synchronously in the same turn, decoupled from the network
// round-trip; remote events reconcile it with the same merge rule the
// server applies.
type Replica struct {
	mu sync.Mutex

	userID   string
	username string
	roomID   string

	tool  state.Tool
	color string
	size  float64

	currentOpID string
	operations  []*state.Operation
	users       map[string]state.User

	// OnStrokeChunk and OnCursor emit locally produced chunks and cursor
	// samples to the sync layer.
	OnStrokeChunk func(chunk protocol.StrokeChunk)
	OnCursor      func(cur protocol.CursorUpdate)
}

func NewReplica() *Replica {
	return &Replica{
		tool:  state.ToolBrush,
		color: defaultColor,
		size:  defaultSize,
		users: make(map[string]state.User),
	}
}

func (r *Replica) SetTool(tool state.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tool = tool
}

func (r *Replica) SetColor(color string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.color = color
}

func (r *Replica) SetSize(size float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = size
}

// ApplyInit adopts the identity assigned by the server and replays the
// room's full history, replacing any local state. Called on every join or
// room switch.
func (r *Replica) ApplyInit(init protocol.InitPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.userID = init.UserID
	r.username = init.Username
	r.roomID = init.RoomID
	r.currentOpID = ""

	r.operations = make([]*state.Operation, 0, len(init.Operations))
	for _, op := range init.Operations {
		cp := op.Clone()
		r.operations = append(r.operations, &cp)
	}

	r.users = make(map[string]state.User, len(init.Users))
	for _, u := range init.Users {
		r.users[u.UserID] = u
	}
}

// UserID returns the identity assigned by the server, empty before the
// first init.
func (r *Replica) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// RoomID returns the room this replica currently mirrors.
func (r *Replica) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// BeginStroke starts a new operation with a fresh id, applies the first
// point optimistically and emits the opening chunk.
func (r *Replica) BeginStroke(p state.Point) {
	r.mu.Lock()
	if r.userID == "" {
		r.mu.Unlock()
		return
	}
	r.currentOpID = uuid.NewString()
	chunk := r.localChunk([]state.Point{p}, false)
	r.mergeLocked(chunk, r.userID)
	r.mu.Unlock()

	r.emit(chunk)
}

// ExtendStroke appends a point to the in-progress operation.
func (r *Replica) ExtendStroke(p state.Point) {
	r.mu.Lock()
	if r.currentOpID == "" {
		r.mu.Unlock()
		return
	}
	chunk := r.localChunk([]state.Point{p}, false)
	r.mergeLocked(chunk, r.userID)
	r.mu.Unlock()

	r.emit(chunk)
}

// EndStroke finalizes the in-progress operation with its last point.
func (r *Replica) EndStroke(p state.Point) {
	r.mu.Lock()
	if r.currentOpID == "" {
		r.mu.Unlock()
		return
	}
	chunk := r.localChunk([]state.Point{p}, true)
	r.mergeLocked(chunk, r.userID)
	r.currentOpID = ""
	r.mu.Unlock()

	r.emit(chunk)
}

// CancelStroke finalizes an abandoned stroke (pointer-cancel) by emitting a
// final empty-point chunk.
func (r *Replica) CancelStroke() {
	r.mu.Lock()
	if r.currentOpID == "" {
		r.mu.Unlock()
		return
	}
	chunk := r.localChunk(nil, true)
	r.mergeLocked(chunk, r.userID)
	r.currentOpID = ""
	r.mu.Unlock()

	r.emit(chunk)
}

// CursorMoved emits a pointer sample to the sync layer.
func (r *Replica) CursorMoved(x, y float64, pressure *float64) {
	if r.OnCursor != nil {
		r.OnCursor(protocol.CursorUpdate{X: x, Y: y, Pressure: pressure})
	}
}

// ApplyRemoteChunk merges a relayed chunk, inserting the operation if this
// replica has never seen its id.
func (r *Replica) ApplyRemoteChunk(chunk protocol.StrokeChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeLocked(chunk, chunk.UserID)
}

// ApplyUndo marks an operation revoked; the renderer drops its pixels on
// the next full redraw.
func (r *Replica) ApplyUndo(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operations {
		if op.ID == opID {
			op.Revoked = true
			return
		}
	}
}

// ApplyRedo un-revokes a known operation, or inserts a full copy when the
// id was never seen locally.
func (r *Replica) ApplyRedo(restored state.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operations {
		if op.ID == restored.ID {
			op.Revoked = false
			return
		}
	}
	cp := restored.Clone()
	cp.Revoked = false
	r.operations = append(r.operations, &cp)
}

// ApplyPresence maintains the local member list.
func (r *Replica) ApplyPresence(evt protocol.PresenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evt.Type {
	case protocol.PresenceJoin:
		r.users[evt.User.UserID] = evt.User
	case protocol.PresenceLeave:
		delete(r.users, evt.User.UserID)
	}
}

// Users returns the current member list.
func (r *Replica) Users() []state.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]state.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, u)
	}
	return all
}

// Operations returns copies of the full local history, revoked entries
// included.
func (r *Replica) Operations() []state.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]state.Operation, 0, len(r.operations))
	for _, op := range r.operations {
		ops = append(ops, op.Clone())
	}
	return ops
}

// VisibleOperations returns copies of the operations the renderer should
// draw, skipping revoked ones.
func (r *Replica) VisibleOperations() []state.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]state.Operation, 0, len(r.operations))
	for _, op := range r.operations {
		if op.Revoked {
			continue
		}
		ops = append(ops, op.Clone())
	}
	return ops
}

// mergeLocked is the client-side append-merge rule: same as the server's,
// except chunks for unknown ids are inserted, since remote strokes arrive
// without prior creation context.
func (r *Replica) mergeLocked(chunk protocol.StrokeChunk, ownerID string) {
	for _, op := range r.operations {
		if op.ID != chunk.OpID {
			continue
		}
		if op.Revoked {
			return
		}
		op.Points = append(op.Points, chunk.Points...)
		if chunk.IsFinal {
			op.IsFinal = true
		}
		return
	}
	op := state.Operation{
		ID:      chunk.OpID,
		OwnerID: ownerID,
		Tool:    chunk.Tool,
		Color:   chunk.Color,
		Size:    chunk.Size,
		Points:  chunk.Points,
		IsFinal: chunk.IsFinal,
	}
	cp := op.Clone()
	r.operations = append(r.operations, &cp)
}

func (r *Replica) localChunk(points []state.Point, isFinal bool) protocol.StrokeChunk {
	return protocol.StrokeChunk{
		OpID:    r.currentOpID,
		UserID:  r.userID,
		RoomID:  r.roomID,
		Tool:    r.tool,
		Color:   r.color,
		Size:    r.size,
		Points:  points,
		IsFinal: isFinal,
	}
}

func (r *Replica) emit(chunk protocol.StrokeChunk) {
	if r.OnStrokeChunk != nil {
		r.OnStrokeChunk(chunk)
	}
}
