package service

import (
	"time"

	"github.com/wricardo/deliverybot/game/engine"
)

// MaxBatchCommands caps a single batch submission
const MaxBatchCommands = 100

// SessionInfo provides information about a game session
type SessionInfo struct {
	ID             string            `json:"id"`
	PackName       string            `json:"pack_name"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	GameState      *engine.GameState `json:"game_state"`
}

// CommandResult contains the result of one submitted command
type CommandResult struct {
	Command       string               `json:"command"`
	Ignored       bool                 `json:"ignored,omitempty"`
	Accepted      bool                 `json:"accepted"`
	Error         *engine.MoveError    `json:"error,omitempty"`
	LevelComplete bool                 `json:"level_complete"`
	Replaying     bool                 `json:"replaying,omitempty"` // replay continues in the background
	Replay        *engine.ReplayReport `json:"replay,omitempty"`
	Message       string               `json:"message,omitempty"`
	Step          *StepInfo            `json:"step,omitempty"`
	GameState     *engine.GameState    `json:"game_state"`
}

// BatchResult contains the result of several commands submitted in order
type BatchResult struct {
	RequestedCommands int                  `json:"requested_commands"`
	Executed          int                  `json:"executed"`
	Ignored           int                  `json:"ignored"`
	Success           bool                 `json:"success"`
	StoppedOnCommand  int                  `json:"stopped_on_command,omitempty"` // 1-based
	StoppedReason     string               `json:"stopped_reason,omitempty"`
	StopReasonCode    string               `json:"stop_reason_code,omitempty"` // a rule kind, or replay_in_progress
	Truncated         bool                 `json:"truncated,omitempty"`
	Limit             int                  `json:"limit,omitempty"`
	LevelComplete     bool                 `json:"level_complete"`
	Replaying         bool                 `json:"replaying,omitempty"`
	Replay            *engine.ReplayReport `json:"replay,omitempty"`
	Steps             []StepInfo           `json:"steps,omitempty"`
	GameState         *engine.GameState    `json:"game_state"`
}

// StepInfo is a compact record of one executed command
type StepInfo struct {
	Idx      int         `json:"idx"`
	Command  string      `json:"command"`
	From     engine.Cell `json:"from"`
	To       engine.Cell `json:"to"`
	Heading  int         `json:"heading"`
	Carrying bool        `json:"carrying"`
	Accepted bool        `json:"accepted"`
}

// HistoryOptions configures history retrieval
type HistoryOptions struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Order string `json:"order"` // "asc" or "desc"
}

// HistoryResponse contains paginated history. In program mode it lists the recorded program.
type HistoryResponse struct {
	Mode        engine.Mode           `json:"mode"`
	Moves       []engine.HistoryEntry `json:"moves"`
	Program     []engine.Action       `json:"program,omitempty"`
	TotalMoves  int                   `json:"total_moves"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	TotalPages  int                   `json:"total_pages"`
	HasNext     bool                  `json:"has_next"`
	HasPrevious bool                  `json:"has_previous"`
}

// HintResult is a shortest program from the current position
type HintResult struct {
	Commands []string `json:"commands"`
	Length   int      `json:"length"`
	Explored int      `json:"explored"`
	// From is "current" in immediate mode and "start" in program mode
	From string `json:"from"`
}

// LevelPackInfo provides information about a level pack on disk
type LevelPackInfo struct {
	Filename    string `json:"filename"`
	PackID      string `json:"pack_id"` // The identifier to use for session creation
	Name        string `json:"name"`
	Description string `json:"description"`
	LevelCount  int    `json:"level_count"`
	Format      string `json:"format"`
}
