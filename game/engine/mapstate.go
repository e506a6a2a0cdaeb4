package engine

// Map holds obstacles and objects for one level instance.
// Delivered objects turn their end cell into a permanent obstacle.
type Map struct {
	size      Size
	obstacles []Cell
	blocked   map[Cell]struct{}
	objects   []GameObject
}

// NewMap builds a fresh map from a level record. Object ids are 1-based in record order.
func NewMap(level LevelRecord) *Map {
	m := &Map{
		size:      Size{Rows: level.Size[0], Cols: level.Size[1]},
		obstacles: make([]Cell, 0, len(level.Obstacles)+len(level.Objects)),
		blocked:   make(map[Cell]struct{}, len(level.Obstacles)+len(level.Objects)),
		objects:   make([]GameObject, 0, len(level.Objects)),
	}
	for _, o := range level.Obstacles {
		m.block(Cell{Row: o[0], Col: o[1]})
	}
	for i, o := range level.Objects {
		id := i + 1
		m.objects = append(m.objects, GameObject{
			ID:    id,
			Color: ColorForID(id),
			Start: Cell{Row: o[0][0], Col: o[0][1]},
			End:   Cell{Row: o[1][0], Col: o[1][1]},
		})
	}
	return m
}

// Size returns the grid extent
func (m *Map) Size() Size {
	return m.size
}

// HasObstacleAt reports whether cell is blocked
func (m *Map) HasObstacleAt(cell Cell) bool {
	_, ok := m.blocked[cell]
	return ok
}

// block records an obstacle once, keeping insertion order for snapshots
func (m *Map) block(cell Cell) {
	if _, ok := m.blocked[cell]; ok {
		return
	}
	m.blocked[cell] = struct{}{}
	m.obstacles = append(m.obstacles, cell)
}

// PickableObjectAt returns the id of an object waiting at cell, or 0
func (m *Map) PickableObjectAt(cell Cell) int {
	for _, o := range m.objects {
		if o.Start == cell && !o.Carried && !o.Completed {
			return o.ID
		}
	}
	return 0
}

// DropEndpointAt reports whether the carried object id may be delivered at cell
func (m *Map) DropEndpointAt(id int, cell Cell) bool {
	o := m.object(id)
	return o != nil && o.End == cell && o.Carried && !o.Completed
}

// ObjectDescriptorAt looks up the object whose start is cell, whatever its state
func (m *Map) ObjectDescriptorAt(cell Cell) (ObjectDescriptor, bool) {
	for _, o := range m.objects {
		if o.Start == cell {
			return ObjectDescriptor{ID: o.ID, Color: o.Color}, true
		}
	}
	return ObjectDescriptor{}, false
}

// PickUp marks an object as carried. Unknown ids return false.
func (m *Map) PickUp(id int) bool {
	o := m.object(id)
	if o == nil || o.Carried || o.Completed {
		return false
	}
	o.Carried = true
	return true
}

// Deliver completes a carried object at its end cell and blocks that cell
func (m *Map) Deliver(id int, cell Cell) bool {
	if !m.DropEndpointAt(id, cell) {
		return false
	}
	o := m.object(id)
	o.Carried = false
	o.Completed = true
	m.block(cell)
	return true
}

// AllCompleted reports whether every object is delivered. True for an empty map.
func (m *Map) AllCompleted() bool {
	for _, o := range m.objects {
		if !o.Completed {
			return false
		}
	}
	return true
}

// Remaining counts objects not yet delivered
func (m *Map) Remaining() int {
	n := 0
	for _, o := range m.objects {
		if !o.Completed {
			n++
		}
	}
	return n
}

// Snapshot returns a copy safe to hand to other goroutines
func (m *Map) Snapshot() MapSnapshot {
	return MapSnapshot{
		Size:      m.size,
		Obstacles: append([]Cell(nil), m.obstacles...),
		Objects:   append([]GameObject(nil), m.objects...),
	}
}

// Clone returns an independent copy of the map
func (m *Map) Clone() *Map {
	blocked := make(map[Cell]struct{}, len(m.blocked))
	for c := range m.blocked {
		blocked[c] = struct{}{}
	}
	return &Map{
		size:      m.size,
		obstacles: append(make([]Cell, 0, cap(m.obstacles)), m.obstacles...),
		blocked:   blocked,
		objects:   append([]GameObject(nil), m.objects...),
	}
}

func (m *Map) object(id int) *GameObject {
	if id < 1 || id > len(m.objects) {
		return nil
	}
	return &m.objects[id-1]
}
