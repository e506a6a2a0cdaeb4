package engine

import "errors"

// ErrorKind names a rule violation
type ErrorKind string

const (
	KindOutOfBounds       ErrorKind = "out_of_bounds"
	KindObstructed        ErrorKind = "obstructed"
	KindCarryConflict     ErrorKind = "carry_conflict"
	KindPickupRequired    ErrorKind = "pickup_required"
	KindNothingToGrab     ErrorKind = "nothing_to_grab"
	KindWrongDropLocation ErrorKind = "wrong_drop_location"
	KindNotAtOrigin       ErrorKind = "not_at_origin"
	KindIncompleteObjects ErrorKind = "incomplete_objects"
)

// MoveError is a rejected action. Each kind carries a fixed, user-facing message.
type MoveError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *MoveError) Error() string {
	return e.Message
}

// Is matches on kind so decoded copies compare equal to the sentinels
func (e *MoveError) Is(target error) bool {
	t, ok := target.(*MoveError)
	return ok && t.Kind == e.Kind
}

var (
	ErrOutOfBounds       = &MoveError{Kind: KindOutOfBounds, Message: "out of map"}
	ErrObstructed        = &MoveError{Kind: KindObstructed, Message: "there is an obstacle"}
	ErrCarryConflict     = &MoveError{Kind: KindCarryConflict, Message: "you cannot go to pick up object with carrying object"}
	ErrPickupRequired    = &MoveError{Kind: KindPickupRequired, Message: "you have to pick up object first"}
	ErrNothingToGrab     = &MoveError{Kind: KindNothingToGrab, Message: "nothing to grab"}
	ErrWrongDropLocation = &MoveError{Kind: KindWrongDropLocation, Message: "put it in right place"}
	ErrNotAtOrigin       = &MoveError{Kind: KindNotAtOrigin, Message: "return to the start to finish"}
	ErrIncompleteObjects = &MoveError{Kind: KindIncompleteObjects, Message: "deliver every object before finishing"}
)

// Engine-level errors, distinct from rule violations
var (
	ErrReplayInProgress = errors.New("program replay in progress")
	ErrReplayCancelled  = errors.New("program replay cancelled")
	ErrNotProgramMode   = errors.New("replay requires program mode")
	ErrUnknownMode      = errors.New("unknown mode")
	ErrEmptyPack        = errors.New("level pack has no levels")
	ErrInvalidLevel     = errors.New("level validation")
)

// ClearMessage is reported when a level is completed
const ClearMessage = "CLEAR!"
