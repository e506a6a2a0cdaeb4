package engine

// Turn is a rotation direction
type Turn int

const (
	TurnLeft  Turn = -1
	TurnRight Turn = 1
)

// Vehicle is the single agent on the map. It performs no rule checks itself.
type Vehicle struct {
	position Cell
	heading  int // unnormalized accumulator
	carried  *ObjectDescriptor
}

// NewVehicle returns a vehicle at the origin facing heading 0
func NewVehicle() *Vehicle {
	return &Vehicle{position: Origin}
}

// Position returns the current cell
func (v *Vehicle) Position() Cell {
	return v.position
}

// Heading returns the normalized heading
func (v *Vehicle) Heading() int {
	return NormalizeHeading(v.heading)
}

// Carrying reports whether an object is held
func (v *Vehicle) Carrying() bool {
	return v.carried != nil
}

// NextPosition is the cell one step ahead. It may be outside the map.
func (v *Vehicle) NextPosition() Cell {
	dRow, dCol, _ := Displacement(v.heading)
	return v.position.Add(dRow, dCol)
}

// MoveForward advances one cell along the heading
func (v *Vehicle) MoveForward() {
	v.position = v.NextPosition()
}

// Rotate turns by 90 degrees
func (v *Vehicle) Rotate(t Turn) {
	v.heading += int(t) * 90
}

// Grab takes hold of an object
func (v *Vehicle) Grab(desc ObjectDescriptor) {
	d := desc
	v.carried = &d
}

// Release drops whatever is held
func (v *Vehicle) Release() {
	v.carried = nil
}

// Snapshot returns a read-only view
func (v *Vehicle) Snapshot() VehicleSnapshot {
	s := VehicleSnapshot{
		Position:     v.position,
		Heading:      v.Heading(),
		NextPosition: v.NextPosition(),
	}
	if v.carried != nil {
		s.Carrying = true
		s.CarriedID = v.carried.ID
		s.CarriedColor = v.carried.Color
	}
	return s
}

// Clone returns an independent copy
func (v *Vehicle) Clone() *Vehicle {
	c := *v
	if v.carried != nil {
		d := *v.carried
		c.carried = &d
	}
	return &c
}
