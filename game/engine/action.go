package engine

import (
	"fmt"
	"strings"
)

// Action is the closed set of inputs the engine understands
type Action int

const (
	ActionNone Action = iota
	Forward
	RotateLeft
	RotateRight
	Interact
	DeleteLast
	Finish
)

var actionWords = map[Action]string{
	Forward:     "forward",
	RotateLeft:  "left",
	RotateRight: "right",
	Interact:    "function",
	DeleteLast:  "delete",
	Finish:      "finish",
}

// Commands lists the accepted command words in display order
var Commands = []string{"forward", "left", "right", "function", "delete", "finish"}

// ParseCommand maps a command word to an Action.
// Unrecognized words return ok=false and must be ignored by callers.
func ParseCommand(word string) (Action, bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	for a, s := range actionWords {
		if s == w {
			return a, true
		}
	}
	return ActionNone, false
}

// String returns the command word for the action
func (a Action) String() string {
	if s, ok := actionWords[a]; ok {
		return s
	}
	return "none"
}

// Recordable reports whether the action can be queued in a program
func (a Action) Recordable() bool {
	switch a {
	case Forward, RotateLeft, RotateRight, Interact:
		return true
	}
	return false
}

// MarshalText encodes the action as its command word
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a command word
func (a *Action) UnmarshalText(text []byte) error {
	parsed, ok := ParseCommand(string(text))
	if !ok {
		return fmt.Errorf("unknown command %q", string(text))
	}
	*a = parsed
	return nil
}

// ActionWords converts actions to their command words
func ActionWords(actions []Action) []string {
	words := make([]string, len(actions))
	for i, a := range actions {
		words[i] = a.String()
	}
	return words
}

var keyBindings = map[string]Action{
	"ArrowUp":    Forward,
	"ArrowLeft":  RotateLeft,
	"ArrowRight": RotateRight,
	" ":          Interact,
	"Space":      Interact,
	"Spacebar":   Interact,
	"Backspace":  DeleteLast,
	"Enter":      Finish,
}

// ActionForKey maps a keyboard key name to an action
func ActionForKey(key string) (Action, bool) {
	a, ok := keyBindings[key]
	return a, ok
}
