// Command analyze prints quick, human-readable heuristics about level packs.
// For every level it summarizes dimensions, obstacle density and object
// count, highlights object cells cut off from the origin, and reports the
// shortest program length found by the solver.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/solver"
)

// LevelStats is the analysis of a single level
type LevelStats struct {
	Index     int
	Rows      int
	Cols      int
	Obstacles int
	Objects   int
	Density   float64
	// DeliveryDistance is the sum of start to end Manhattan distances
	DeliveryDistance int
	Unreachable      []engine.Cell

	Solved   bool
	Shortest int
	Explored int
	SolveErr error
}

// reachable flood fills free cells from the origin
func reachable(level engine.LevelRecord) map[engine.Cell]bool {
	size := engine.Size{Rows: level.Size[0], Cols: level.Size[1]}
	blocked := make(map[engine.Cell]bool, len(level.Obstacles))
	for _, o := range level.Obstacles {
		blocked[engine.Cell{Row: o[0], Col: o[1]}] = true
	}

	seen := map[engine.Cell]bool{engine.Origin: true}
	queue := []engine.Cell{engine.Origin}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			n := engine.Cell{Row: c.Row + d[0], Col: c.Col + d[1]}
			if !engine.InBounds(n, size) || blocked[n] || seen[n] {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
		}
	}
	return seen
}

func analyzeLevel(index int, level engine.LevelRecord, solve bool, maxStates int) LevelStats {
	stats := LevelStats{
		Index:     index,
		Rows:      level.Size[0],
		Cols:      level.Size[1],
		Obstacles: len(level.Obstacles),
		Objects:   len(level.Objects),
	}
	if cells := stats.Rows * stats.Cols; cells > 0 {
		stats.Density = float64(stats.Obstacles) / float64(cells)
	}

	open := reachable(level)
	for _, o := range level.Objects {
		start := engine.Cell{Row: o[0][0], Col: o[0][1]}
		end := engine.Cell{Row: o[1][0], Col: o[1][1]}
		stats.DeliveryDistance += engine.ManhattanDistance(start, end)
		for _, c := range []engine.Cell{start, end} {
			if !open[c] {
				stats.Unreachable = append(stats.Unreachable, c)
			}
		}
	}

	if !solve {
		return stats
	}
	res, err := solver.Solve(level, solver.Options{MaxStates: maxStates})
	if err != nil {
		stats.SolveErr = err
		return stats
	}
	stats.Solved = true
	stats.Shortest = len(res.Actions)
	stats.Explored = res.Explored
	return stats
}

func printStats(w io.Writer, s LevelStats) {
	fmt.Fprintf(w, "\n--- Level %d ---\n", s.Index)
	fmt.Fprintf(w, "Grid Size: %d x %d\n", s.Rows, s.Cols)
	fmt.Fprintf(w, "Obstacles: %d (%.0f%% of cells)\n", s.Obstacles, s.Density*100)
	fmt.Fprintf(w, "Objects: %d\n", s.Objects)
	fmt.Fprintf(w, "Delivery Distance: %d\n", s.DeliveryDistance)

	if len(s.Unreachable) > 0 {
		fmt.Fprintf(w, "⚠️  WARNING: %d object cells are cut off from the origin!\n", len(s.Unreachable))
		for i, c := range s.Unreachable {
			if i < 5 {
				fmt.Fprintf(w, "   Unreachable: (%d, %d)\n", c.Row, c.Col)
			}
		}
		if len(s.Unreachable) > 5 {
			fmt.Fprintf(w, "   ... and %d more\n", len(s.Unreachable)-5)
		}
	} else {
		fmt.Fprintf(w, "✅ All object cells are reachable from the origin\n")
	}

	switch {
	case s.Solved:
		fmt.Fprintf(w, "✅ Shortest program: %d commands (%d states explored)\n", s.Shortest, s.Explored)
	case errors.Is(s.SolveErr, solver.ErrSearchLimit):
		fmt.Fprintf(w, "⚠️  Search limit reached, no solution found yet\n")
	case s.SolveErr != nil:
		fmt.Fprintf(w, "⚠️  CRITICAL: %v\n", s.SolveErr)
	}
}

// analyzePack loads a pack file and writes the analysis of every level
func analyzePack(w io.Writer, path string, solve bool, maxStates int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	format := "json"
	if ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}
	pack, err := engine.DecodeLevelPack(strings.TrimSuffix(base, ext), data, format)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Name: %s\n", pack.Name)
	if pack.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", pack.Description)
	}
	fmt.Fprintf(w, "Levels: %d\n", len(pack.Levels))

	for i, level := range pack.Levels {
		if err := engine.ValidateLevel(level); err != nil {
			fmt.Fprintf(w, "\n--- Level %d ---\n❌ %v\n", i, err)
			continue
		}
		printStats(w, analyzeLevel(i, level, solve, maxStates))
	}
	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Print heuristics about level packs",
		ArgsUsage: "[pack files...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Value:   "levels",
				Usage:   "Directory scanned when no files are given",
				Sources: cli.EnvVars("LEVELS_DIR"),
			},
			&cli.BoolFlag{
				Name:  "solve",
				Value: true,
				Usage: "Run the solver on every level",
			},
			&cli.IntFlag{
				Name:  "max-states",
				Value: solver.DefaultMaxStates,
				Usage: "Search budget per level",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files := cmd.Args().Slice()
			if len(files) == 0 {
				for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
					matches, err := filepath.Glob(filepath.Join(cmd.String("dir"), pattern))
					if err != nil {
						return err
					}
					files = append(files, matches...)
				}
			}
			if len(files) == 0 {
				return fmt.Errorf("no level packs found in %s", cmd.String("dir"))
			}

			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			for _, file := range files {
				fmt.Fprintf(w, "\n=== Analyzing %s ===\n", filepath.Base(file))
				if err := analyzePack(w, file, cmd.Bool("solve"), int(cmd.Int("max-states"))); err != nil {
					fmt.Fprintf(w, "Error: %v\n", err)
				}
			}
			return nil
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
