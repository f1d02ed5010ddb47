package state

// Point is a single sample of a stroke. Points are immutable once created
// and belong exclusively to the Operation that owns them.
type Point struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	T        float64  `json:"t"`
	Pressure *float64 `json:"p,omitempty"`
}

// Tool selects how an operation's points are rendered.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// Valid reports whether t is one of the known tools.
func (t Tool) Valid() bool {
	return t == ToolBrush || t == ToolEraser
}

// Operation is one continuous stroke: an ordered, append-only sequence of
// points plus the drawing attributes fixed by its first chunk.
type Operation struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"userId"`
	Tool      Tool    `json:"tool"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	Points    []Point `json:"points"`
	Timestamp int64   `json:"timestamp"`
	IsFinal   bool    `json:"isFinal"`
	Revoked   bool    `json:"revoked,omitempty"`
}

// Clone returns a deep copy. Callers get copies, never back-references into
// a room's log.
func (o Operation) Clone() Operation {
	out := o
	out.Points = make([]Point, len(o.Points))
	for i, p := range o.Points {
		if p.Pressure != nil {
			v := *p.Pressure
			p.Pressure = &v
		}
		out.Points[i] = p
	}
	return out
}

// User identifies one participant. The identity persists across room
// switches for the same connection.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}
