package state

import "log"

// DrawingLog is the authoritative operation history for one room: an
// append-merge log plus a shared undo/redo stack. All participants' views
// are derivative of it.
//
// A DrawingLog is not safe for concurrent use; the room registry serializes
// every mutation, so events for one room are totally ordered.
type DrawingLog struct {
	operations []*Operation
	redoStack  []*Operation
}

func NewDrawingLog() *DrawingLog {
	return &DrawingLog{}
}

// AppendOrMerge folds an incoming chunk into the log. If an operation with
// the same ID exists and is not revoked, the chunk's points are appended and
// IsFinal is raised when the chunk declares it; chunks for revoked
// operations are dropped. Otherwise the redo stack is cleared and the chunk
// becomes a new operation. Returns whether a new entry was created.
func (l *DrawingLog) AppendOrMerge(incoming Operation) bool {
	for _, op := range l.operations {
		if op.ID != incoming.ID {
			continue
		}
		if op.Revoked {
			// Stray late chunk for an undone stroke; never resurrect.
			log.Printf("[state] dropping chunk for revoked operation %s", incoming.ID)
			return false
		}
		op.Points = append(op.Points, incoming.Points...)
		if incoming.IsFinal {
			op.IsFinal = true
		}
		return false
	}

	l.redoStack = nil
	op := incoming.Clone()
	l.operations = append(l.operations, &op)
	return true
}

// Has reports whether an operation with the given ID is in the log,
// revoked or not.
func (l *DrawingLog) Has(id string) bool {
	for _, op := range l.operations {
		if op.ID == id {
			return true
		}
	}
	return false
}

// Snapshot deep-copies the full history, revoked operations included, so a
// late joiner can reconstruct identical undo/redo semantics.
func (l *DrawingLog) Snapshot() []Operation {
	ops := make([]Operation, 0, len(l.operations))
	for _, op := range l.operations {
		ops = append(ops, op.Clone())
	}
	return ops
}

// Undo revokes the most recent finalized, not-yet-revoked operation and
// pushes it onto the redo stack. The scan is room-wide, not per-user.
// In-progress strokes are never eligible.
func (l *DrawingLog) Undo() (Operation, bool) {
	for i := len(l.operations) - 1; i >= 0; i-- {
		op := l.operations[i]
		if op.IsFinal && !op.Revoked {
			op.Revoked = true
			l.redoStack = append(l.redoStack, op)
			return op.Clone(), true
		}
	}
	return Operation{}, false
}

// Redo pops the redo stack until it finds an entry that is still revoked,
// un-revokes it and returns it. Entries already restored elsewhere are
// skipped rather than double-applied.
func (l *DrawingLog) Redo() (Operation, bool) {
	for len(l.redoStack) > 0 {
		op := l.redoStack[len(l.redoStack)-1]
		l.redoStack = l.redoStack[:len(l.redoStack)-1]
		if op.Revoked {
			op.Revoked = false
			return op.Clone(), true
		}
	}
	return Operation{}, false
}

// UserCount returns the number of distinct stroke authors observed in the
// history, floored at 1. Used for initial color assignment only; it is not
// a live membership count.
func (l *DrawingLog) UserCount() int {
	owners := make(map[string]struct{})
	for _, op := range l.operations {
		owners[op.OwnerID] = struct{}{}
	}
	if len(owners) < 1 {
		return 1
	}
	return len(owners)
}
