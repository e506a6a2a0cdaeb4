package engine

import "time"

const (
	// Validation constants
	MinGridSize = 1
	MaxGridSize = 50

	// DefaultStepInterval is the pause between replayed program steps
	DefaultStepInterval = 400 * time.Millisecond

	WebSocketBufferSize = 256
)

// Cell is a grid coordinate. Row grows with heading 0, Col with heading 90.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Add returns the cell offset by the given deltas
func (c Cell) Add(dRow, dCol int) Cell {
	return Cell{Row: c.Row + dRow, Col: c.Col + dCol}
}

// Origin is where every vehicle starts and where Finish must be issued
var Origin = Cell{Row: 0, Col: 0}

// Size is the grid extent
type Size struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Color identifies an object visually
type Color string

const (
	Red   Color = "red"
	Blue  Color = "blue"
	Green Color = "green"
)

// Palette is assigned to objects cyclically in creation order
var Palette = []Color{Red, Blue, Green}

// ColorForID returns the palette color of a 1-based object id
func ColorForID(id int) Color {
	if id < 1 {
		return ""
	}
	return Palette[(id-1)%len(Palette)]
}

// ObjectDescriptor is what the vehicle knows about the object it carries
type ObjectDescriptor struct {
	ID    int   `json:"id"`
	Color Color `json:"color"`
}

// GameObject is a deliverable object on the map
type GameObject struct {
	ID        int   `json:"id"`
	Color     Color `json:"color"`
	Start     Cell  `json:"start"`
	End       Cell  `json:"end"`
	Carried   bool  `json:"carried"`
	Completed bool  `json:"completed"`
}

// Mode selects how submitted actions are handled
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeProgram   Mode = "program"
)

// Phase is the engine's execution phase within its mode
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhaseReplaying Phase = "replaying"
)

// VehicleSnapshot is a read-only view of the vehicle
type VehicleSnapshot struct {
	Position     Cell  `json:"position"`
	Heading      int   `json:"heading"`
	Carrying     bool  `json:"carrying"`
	CarriedID    int   `json:"carried_id,omitempty"`
	CarriedColor Color `json:"carried_color,omitempty"`
	// NextPosition is where a Forward would land. It is not bounds-checked.
	NextPosition Cell `json:"next_position"`
}

// MapSnapshot is a read-only view of the map
type MapSnapshot struct {
	Size      Size         `json:"size"`
	Obstacles []Cell       `json:"obstacles"`
	Objects   []GameObject `json:"objects"`
}

// HistoryEntry records one accepted Immediate-mode action
type HistoryEntry struct {
	MoveNumber int    `json:"move_number"`
	Action     Action `json:"action"`
	From       Cell   `json:"from"`
	To         Cell   `json:"to"`
	Heading    int    `json:"heading"`
	Carrying   bool   `json:"carrying"`
	Timestamp  int64  `json:"timestamp"`
}

// GameState represents the complete observable engine state
type GameState struct {
	Mode        Mode            `json:"mode"`
	Phase       Phase           `json:"phase"`
	Vehicle     VehicleSnapshot `json:"vehicle"`
	Map         MapSnapshot     `json:"map"`
	History     []HistoryEntry  `json:"history"`
	Program     []Action        `json:"program"`
	PackName    string          `json:"pack_name"`
	LevelIndex  int             `json:"level_index"`
	LevelCount  int             `json:"level_count"`
	Completions int             `json:"completions"`
	Message     string          `json:"message"`

	// Computed helper views
	Remaining  int      `json:"remaining"`
	NextTarget *Cell    `json:"next_target,omitempty"`
	Grid       []string `json:"grid,omitempty"`
}
