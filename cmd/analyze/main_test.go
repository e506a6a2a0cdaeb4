package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/solver"
)

func TestReachable(t *testing.T) {
	level := engine.LevelRecord{
		Size:      [2]int{3, 3},
		Obstacles: [][2]int{{1, 2}, {2, 1}},
	}

	open := reachable(level)
	if !open[engine.Origin] {
		t.Error("Origin should always be reachable")
	}
	if open[engine.Cell{Row: 2, Col: 2}] {
		t.Error("Walled-in corner should not be reachable")
	}
	if open[engine.Cell{Row: 1, Col: 2}] {
		t.Error("Obstacles should not be reachable")
	}
	if len(open) != 6 {
		t.Errorf("Expected 6 reachable cells, got %d", len(open))
	}
}

func TestAnalyzeLevel(t *testing.T) {
	tests := []struct {
		name            string
		level           engine.LevelRecord
		wantDistance    int
		wantUnreachable int
		wantSolved      bool
		wantErr         error
	}{
		{
			name: "straight delivery",
			level: engine.LevelRecord{
				Size:      [2]int{3, 3},
				Obstacles: [][2]int{{1, 1}},
				Objects:   [][2][2]int{{{1, 0}, {2, 0}}},
			},
			wantDistance: 1,
			wantSolved:   true,
		},
		{
			name: "walled object",
			level: engine.LevelRecord{
				Size:      [2]int{3, 3},
				Obstacles: [][2]int{{1, 2}, {2, 1}},
				Objects:   [][2][2]int{{{2, 2}, {0, 2}}},
			},
			wantDistance:    2,
			wantUnreachable: 1,
			wantErr:         solver.ErrUnsolvable,
		},
		{
			name:       "empty level",
			level:      engine.LevelRecord{Size: [2]int{2, 2}},
			wantSolved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := analyzeLevel(0, tt.level, true, 0)

			if stats.DeliveryDistance != tt.wantDistance {
				t.Errorf("Expected delivery distance %d, got %d", tt.wantDistance, stats.DeliveryDistance)
			}
			if len(stats.Unreachable) != tt.wantUnreachable {
				t.Errorf("Expected %d unreachable cells, got %v", tt.wantUnreachable, stats.Unreachable)
			}
			if stats.Solved != tt.wantSolved {
				t.Errorf("Expected solved=%v, got %v (%v)", tt.wantSolved, stats.Solved, stats.SolveErr)
			}
			if tt.wantErr != nil && !errors.Is(stats.SolveErr, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, stats.SolveErr)
			}
		})
	}
}

func TestAnalyzeLevel_Density(t *testing.T) {
	level := engine.LevelRecord{Size: [2]int{2, 2}, Obstacles: [][2]int{{1, 1}}}

	stats := analyzeLevel(3, level, false, 0)
	if stats.Index != 3 || stats.Rows != 2 || stats.Cols != 2 {
		t.Errorf("Unexpected dimensions %+v", stats)
	}
	if stats.Density != 0.25 {
		t.Errorf("Expected density 0.25, got %v", stats.Density)
	}
	if stats.Solved || stats.SolveErr != nil {
		t.Error("Solver should not run when disabled")
	}
}

func TestAnalyzePack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yard.yaml")
	content := `name: Yard
description: Two small levels
levels:
  - size: [2, 3]
    obstacles: []
    objects:
      - [[0, 2], [1, 2]]
  - size: [2, 2]
    obstacles: [[0, 0]]
    objects: []
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write pack: %v", err)
	}

	var buf bytes.Buffer
	if err := analyzePack(&buf, path, true, 0); err != nil {
		t.Fatalf("analyzePack: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Name: Yard", "Levels: 2", "Grid Size: 2 x 3", "Shortest program", "--- Level 1 ---", "origin"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestAnalyzePack_MissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := analyzePack(&buf, "/non/existent/pack.json", false, 0); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestCommand(t *testing.T) {
	dir := t.TempDir()
	pack := `[{"size":[3,3],"obstacles":[[1,1]],"objects":[[[1,0],[2,0]]]}]`
	if err := os.WriteFile(filepath.Join(dir, "tiny.json"), []byte(pack), 0644); err != nil {
		t.Fatalf("Failed to write pack: %v", err)
	}

	var buf bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &buf
	if err := cmd.Run(context.Background(), []string{"analyze", "--dir", dir}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "=== Analyzing tiny.json ===") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}

	if err := newCommand().Run(context.Background(), []string{"analyze", "--dir", t.TempDir()}); err == nil {
		t.Error("Expected error for a directory without packs")
	}
}
