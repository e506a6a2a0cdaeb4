package solver

import (
	"errors"
	"fmt"

	"github.com/wricardo/deliverybot/game/engine"
)

// DefaultMaxStates bounds the search when Options.MaxStates is zero
const DefaultMaxStates = 250000

// MaxObjects is the largest object count the state key can track
const MaxObjects = 64

var (
	ErrUnsolvable  = errors.New("no sequence of actions clears this level")
	ErrSearchLimit = errors.New("search state limit reached")
)

// Options tunes the search
type Options struct {
	MaxStates int
}

// Result is a shortest accepted program, ending with Finish
type Result struct {
	Actions  []engine.Action `json:"actions"`
	Explored int             `json:"explored"`
}

// Words returns the program as command words
func (r *Result) Words() []string {
	return engine.ActionWords(r.Actions)
}

type stateKey struct {
	pos      engine.Cell
	heading  int
	carried  int
	complete uint64
}

// worldKey picks the map out of the cache. Position and heading never change the map.
type worldKey struct {
	carried  int
	complete uint64
}

func (k stateKey) world() worldKey {
	return worldKey{carried: k.carried, complete: k.complete}
}

type node struct {
	key    stateKey
	parent int
	action engine.Action
}

var moves = []engine.Action{engine.Forward, engine.RotateLeft, engine.RotateRight, engine.Interact}

// Solve finds the shortest program for a level from its initial state
func Solve(level engine.LevelRecord, opts Options) (*Result, error) {
	return SolveFrom(engine.NewVehicle(), engine.NewMap(level), opts)
}

// search holds one map per (carried, delivered) pair. Nodes only carry
// their key, so memory grows with the state count and not the map size.
type search struct {
	worlds map[worldKey]*engine.Map
	nodes  []node
}

// SolveFrom finds the shortest sequence of actions that clears the level
// from the given vehicle and map. Neither argument is modified.
func SolveFrom(v *engine.Vehicle, m *engine.Map, opts Options) (*Result, error) {
	ms := m.Snapshot()
	if n := len(ms.Objects); n > MaxObjects {
		return nil, fmt.Errorf("solver supports at most %d objects, level has %d", MaxObjects, n)
	}
	limit := opts.MaxStates
	if limit <= 0 {
		limit = DefaultMaxStates
	}

	vs := v.Snapshot()
	root := stateKey{pos: vs.Position, heading: engine.NormalizeHeading(vs.Heading), carried: vs.CarriedID}
	for _, o := range ms.Objects {
		if o.Completed {
			root.complete |= 1 << uint(o.ID-1)
		}
	}

	s := &search{
		worlds: map[worldKey]*engine.Map{root.world(): m.Clone()},
		nodes:  []node{{key: root, parent: -1}},
	}
	visited := map[stateKey]struct{}{root: {}}

	for head := 0; head < len(s.nodes); head++ {
		k := s.nodes[head].key
		world := s.worlds[k.world()]
		snap := snapshotOf(k)
		if engine.ValidateFinish(snap, world) == nil {
			return &Result{Actions: s.path(head), Explored: len(visited)}, nil
		}

		for _, a := range moves {
			next, ok := s.step(k, snap, world, a)
			if !ok {
				continue
			}
			if _, seen := visited[next]; seen {
				continue
			}
			if len(visited) >= limit {
				return nil, ErrSearchLimit
			}
			visited[next] = struct{}{}
			s.nodes = append(s.nodes, node{key: next, parent: head, action: a})
		}
	}
	return nil, ErrUnsolvable
}

// snapshotOf rebuilds what the validators need from a key
func snapshotOf(k stateKey) engine.VehicleSnapshot {
	dRow, dCol, _ := engine.Displacement(k.heading)
	return engine.VehicleSnapshot{
		Position:     k.pos,
		Heading:      k.heading,
		Carrying:     k.carried != 0,
		CarriedID:    k.carried,
		NextPosition: k.pos.Add(dRow, dCol),
	}
}

// step checks a with the same validators engine.Apply uses and returns
// the resulting key. Interact derives the next map once and caches it.
func (s *search) step(k stateKey, snap engine.VehicleSnapshot, world *engine.Map, a engine.Action) (stateKey, bool) {
	next := k
	switch a {
	case engine.Forward:
		if engine.ValidateForward(snap, world) != nil {
			return k, false
		}
		next.pos = snap.NextPosition
	case engine.RotateLeft, engine.RotateRight:
		if engine.ValidateRotate(snap, world) != nil {
			return k, false
		}
		turn := engine.TurnRight
		if a == engine.RotateLeft {
			turn = engine.TurnLeft
		}
		next.heading = engine.NormalizeHeading(k.heading + int(turn)*90)
	case engine.Interact:
		outcome, err := engine.ResolveInteract(snap, world)
		if err != nil {
			return k, false
		}
		switch outcome.Kind {
		case engine.InteractPickUp:
			next.carried = outcome.ObjectID
		case engine.InteractDropOff:
			next.carried = 0
			next.complete |= 1 << uint(outcome.ObjectID-1)
		}
		if _, ok := s.worlds[next.world()]; !ok {
			derived := world.Clone()
			if outcome.Kind == engine.InteractPickUp {
				derived.PickUp(outcome.ObjectID)
			} else {
				derived.Deliver(outcome.ObjectID, k.pos)
			}
			s.worlds[next.world()] = derived
		}
	default:
		return k, false
	}
	return next, true
}

func (s *search) path(i int) []engine.Action {
	var actions []engine.Action
	for ; s.nodes[i].parent >= 0; i = s.nodes[i].parent {
		actions = append(actions, s.nodes[i].action)
	}
	for l, r := 0, len(actions)-1; l < r; l, r = l+1, r-1 {
		actions[l], actions[r] = actions[r], actions[l]
	}
	return append(actions, engine.Finish)
}
