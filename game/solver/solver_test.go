package solver

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/wricardo/deliverybot/game/engine"
)

func singleObjectLevel() engine.LevelRecord {
	return engine.LevelRecord{
		Size:      [2]int{3, 3},
		Obstacles: [][2]int{{1, 1}},
		Objects:   [][2][2]int{{{1, 0}, {2, 0}}},
	}
}

func TestSolveShortest(t *testing.T) {
	res, err := Solve(singleObjectLevel(), Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.Actions) != 9 {
		t.Errorf("Expected 9 actions, got %d: %v", len(res.Actions), res.Words())
	}
	if res.Actions[len(res.Actions)-1] != engine.Finish {
		t.Error("Expected program to end with finish")
	}
	if res.Explored == 0 {
		t.Error("Expected explored count")
	}
}

func TestSolutionReplaysInEngine(t *testing.T) {
	for i, level := range engine.DefaultLevelPack().Levels {
		res, err := Solve(level, Options{})
		if err != nil {
			t.Fatalf("level %d: %v", i, err)
		}

		pack := &engine.LevelPack{Name: "one", Levels: []engine.LevelRecord{level}}
		eng, err := engine.NewEngine(pack, engine.WithMode(engine.ModeProgram), engine.WithStepInterval(0))
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		var out *engine.Outcome
		for _, a := range res.Actions {
			out, err = eng.Submit(context.Background(), a)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
		if !out.LevelComplete {
			t.Errorf("level %d: solver program failed in engine: %v", i, out.Failure)
		}
	}
}

func TestSolveFromCurrentState(t *testing.T) {
	v := engine.NewVehicle()
	m := engine.NewMap(singleObjectLevel())
	v.MoveForward()
	if err := engine.Apply(v, m, engine.Interact); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	res, err := SolveFrom(v, m, Options{})
	if err != nil {
		t.Fatalf("SolveFrom: %v", err)
	}
	// forward, function, right, right, forward, forward, finish
	if len(res.Actions) != 7 {
		t.Errorf("Expected 7 actions, got %v", res.Words())
	}
	if !v.Carrying() || v.Position() != (engine.Cell{Row: 1, Col: 0}) {
		t.Error("SolveFrom modified its input")
	}
}

func TestSolveUnsolvable(t *testing.T) {
	level := engine.LevelRecord{
		Size:      [2]int{1, 3},
		Obstacles: [][2]int{{0, 1}},
		Objects:   [][2][2]int{{{0, 2}, {0, 2}}},
	}
	if _, err := Solve(level, Options{}); !errors.Is(err, ErrUnsolvable) {
		t.Errorf("Expected ErrUnsolvable, got %v", err)
	}
}

func TestSolveLimit(t *testing.T) {
	if _, err := Solve(singleObjectLevel(), Options{MaxStates: 2}); !errors.Is(err, ErrSearchLimit) {
		t.Errorf("Expected ErrSearchLimit, got %v", err)
	}
}

func TestSolveEmptyLevel(t *testing.T) {
	res, err := Solve(engine.LevelRecord{Size: [2]int{2, 2}}, Options{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0] != engine.Finish {
		t.Errorf("Expected just finish, got %v", res.Words())
	}
}

// warehouseLevel is a 50x50 floor with shelving rows and three deliveries
func warehouseLevel() engine.LevelRecord {
	level := engine.LevelRecord{
		Size:    [2]int{50, 50},
		Objects: [][2][2]int{{{0, 49}, {49, 49}}, {{49, 0}, {0, 20}}, {{25, 25}, {30, 30}}},
	}
	for r := 2; r < 50; r += 5 {
		for c := 0; c < 50; c++ {
			if m := c % 5; m >= 1 && m <= 3 {
				level.Obstacles = append(level.Obstacles, [2]int{r, c})
			}
		}
	}
	return level
}

func TestSolveLargeLevelMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("large search")
	}
	level := warehouseLevel()
	if err := engine.ValidateLevel(level); err != nil {
		t.Fatalf("ValidateLevel: %v", err)
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	res, err := Solve(level, Options{})
	runtime.ReadMemStats(&after)

	if err != nil && !errors.Is(err, ErrSearchLimit) {
		t.Fatalf("Solve: %v", err)
	}
	if res != nil && res.Actions[len(res.Actions)-1] != engine.Finish {
		t.Error("Expected program to end with finish")
	}
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 512<<20 {
		t.Errorf("Expected search to allocate under 512MB, got %dMB", alloc>>20)
	}
}

func TestSearchSharesWorlds(t *testing.T) {
	level := warehouseLevel()
	root := stateKey{pos: engine.Origin}
	s := &search{
		worlds: map[worldKey]*engine.Map{root.world(): engine.NewMap(level)},
		nodes:  []node{{key: root, parent: -1}},
	}

	// Walk every reachable cell and heading without touching objects
	visited := map[stateKey]bool{root: true}
	for head := 0; head < len(s.nodes) && head < 5000; head++ {
		k := s.nodes[head].key
		world := s.worlds[k.world()]
		for _, a := range moves {
			next, ok := s.step(k, snapshotOf(k), world, a)
			if !ok || visited[next] {
				continue
			}
			visited[next] = true
			s.nodes = append(s.nodes, node{key: next, parent: head, action: a})
		}
	}

	// One map per (carried, delivered) pair, never one per node
	if len(s.worlds) > 1+len(level.Objects)*2 {
		t.Errorf("Expected a handful of cached maps, got %d for %d nodes", len(s.worlds), len(s.nodes))
	}
	if len(s.nodes) < 1000 {
		t.Errorf("Expected a broad walk, got %d nodes", len(s.nodes))
	}
}

func TestSolveFromAccumulatedHeading(t *testing.T) {
	v := engine.NewVehicle()
	for i := 0; i < 5; i++ {
		v.Rotate(engine.TurnLeft) // -450, same as 270
	}
	res, err := SolveFrom(v, engine.NewMap(singleObjectLevel()), Options{})
	if err != nil {
		t.Fatalf("SolveFrom: %v", err)
	}

	// Replaying the program through Apply must clear the level
	m := engine.NewMap(singleObjectLevel())
	for _, a := range res.Actions[:len(res.Actions)-1] {
		if err := engine.Apply(v, m, a); err != nil {
			t.Fatalf("Apply(%v): %v", a, err)
		}
	}
	if err := engine.ValidateFinish(v.Snapshot(), m); err != nil {
		t.Errorf("Expected finish to be valid, got %v", err)
	}
}
