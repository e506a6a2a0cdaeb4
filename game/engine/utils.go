package engine

// ManhattanDistance calculates the Manhattan distance between two cells
func ManhattanDistance(from, to Cell) int {
	dr := from.Row - to.Row
	if dr < 0 {
		dr = -dr
	}
	dc := from.Col - to.Col
	if dc < 0 {
		dc = -dc
	}
	return dr + dc
}

// FindNearestPickup finds the closest object still waiting at its start cell
func FindNearestPickup(from Cell, objects []GameObject) (GameObject, int, bool) {
	minDistance := -1
	var nearest GameObject
	for _, o := range objects {
		if o.Carried || o.Completed {
			continue
		}
		d := ManhattanDistance(from, o.Start)
		if minDistance == -1 || d < minDistance {
			minDistance = d
			nearest = o
		}
	}
	return nearest, minDistance, minDistance >= 0
}

// NextTarget suggests where the vehicle should head: the carried object's
// end cell, the nearest pickup, or the origin once everything is delivered.
func NextTarget(v VehicleSnapshot, m MapSnapshot) (Cell, bool) {
	if v.Carrying {
		for _, o := range m.Objects {
			if o.ID == v.CarriedID {
				return o.End, true
			}
		}
		return Cell{}, false
	}
	if o, _, ok := FindNearestPickup(v.Position, m.Objects); ok {
		return o.Start, true
	}
	if v.Position != Origin {
		return Origin, true
	}
	return Cell{}, false
}
