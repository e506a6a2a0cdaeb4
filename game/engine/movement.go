package engine

// InteractKind is the resolved effect of an Interact action
type InteractKind string

const (
	InteractPickUp  InteractKind = "pick_up"
	InteractDropOff InteractKind = "drop_off"
)

// InteractOutcome names what Interact will do and to which object
type InteractOutcome struct {
	Kind     InteractKind `json:"kind"`
	ObjectID int          `json:"object_id"`
}

// ValidateForward checks a Forward action. Checks run in a fixed order and the first failure wins.
func ValidateForward(v VehicleSnapshot, m *Map) *MoveError {
	next := v.NextPosition
	if !InBounds(next, m.Size()) {
		return ErrOutOfBounds
	}
	if m.HasObstacleAt(next) {
		return ErrObstructed
	}
	if v.Carrying && m.PickableObjectAt(next) != 0 {
		return ErrCarryConflict
	}
	if !v.Carrying && m.PickableObjectAt(v.Position) != 0 {
		return ErrPickupRequired
	}
	return nil
}

// ValidateRotate checks a rotation. Only leaving an object behind is forbidden.
func ValidateRotate(v VehicleSnapshot, m *Map) *MoveError {
	if !v.Carrying && m.PickableObjectAt(v.Position) != 0 {
		return ErrPickupRequired
	}
	return nil
}

// ResolveInteract decides between picking up and dropping off
func ResolveInteract(v VehicleSnapshot, m *Map) (InteractOutcome, *MoveError) {
	if !v.Carrying {
		if id := m.PickableObjectAt(v.Position); id != 0 {
			return InteractOutcome{Kind: InteractPickUp, ObjectID: id}, nil
		}
		return InteractOutcome{}, ErrNothingToGrab
	}
	if m.DropEndpointAt(v.CarriedID, v.Position) {
		return InteractOutcome{Kind: InteractDropOff, ObjectID: v.CarriedID}, nil
	}
	return InteractOutcome{}, ErrWrongDropLocation
}

// ValidateFinish checks the win condition
func ValidateFinish(v VehicleSnapshot, m *Map) *MoveError {
	if v.Position != Origin {
		return ErrNotAtOrigin
	}
	if !m.AllCompleted() {
		return ErrIncompleteObjects
	}
	return nil
}

// Apply validates a recordable action and performs it.
// On failure neither the vehicle nor the map is changed.
func Apply(v *Vehicle, m *Map, a Action) *MoveError {
	snap := v.Snapshot()
	switch a {
	case Forward:
		if err := ValidateForward(snap, m); err != nil {
			return err
		}
		v.MoveForward()
	case RotateLeft, RotateRight:
		if err := ValidateRotate(snap, m); err != nil {
			return err
		}
		if a == RotateLeft {
			v.Rotate(TurnLeft)
		} else {
			v.Rotate(TurnRight)
		}
	case Interact:
		outcome, err := ResolveInteract(snap, m)
		if err != nil {
			return err
		}
		switch outcome.Kind {
		case InteractPickUp:
			desc, _ := m.ObjectDescriptorAt(snap.Position)
			m.PickUp(outcome.ObjectID)
			v.Grab(desc)
		case InteractDropOff:
			m.Deliver(outcome.ObjectID, snap.Position)
			v.Release()
		}
	}
	return nil
}
