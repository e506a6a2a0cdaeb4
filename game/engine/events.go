package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what happened in the engine
type EventType string

const (
	EventActionApplied   EventType = "action_applied"
	EventActionRejected  EventType = "action_rejected"
	EventHistoryChanged  EventType = "history_changed"
	EventProgramChanged  EventType = "program_changed"
	EventReplayStarted   EventType = "replay_started"
	EventReplayStep      EventType = "replay_step"
	EventReplayAborted   EventType = "replay_aborted"
	EventReplayCancelled EventType = "replay_cancelled"
	EventLevelComplete   EventType = "level_complete"
	EventLevelReset      EventType = "level_reset"
	EventModeChanged     EventType = "mode_changed"
)

// Event carries a full snapshot so a renderer never needs to query back
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	Action        string          `json:"action,omitempty"`
	Step          int             `json:"step,omitempty"`
	ReplayID      string          `json:"replay_id,omitempty"`
	Message       string          `json:"message,omitempty"`
	Failure       *MoveError      `json:"failure,omitempty"`
	Mode          Mode            `json:"mode"`
	Phase         Phase           `json:"phase"`
	Vehicle       VehicleSnapshot `json:"vehicle"`
	Map           MapSnapshot     `json:"map"`
	HistoryLength int             `json:"history_length"`
	ProgramLength int             `json:"program_length"`
	Timestamp     time.Time       `json:"timestamp"`
}

// EventSink receives engine events. Publish is called with the engine lock
// held, so implementations must not block or call back into the engine.
type EventSink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

func newEventID() string {
	return uuid.New().String()
}
