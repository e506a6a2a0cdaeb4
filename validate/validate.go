// Command validate checks level pack files (.json, .yaml, .yml). It checks:
//   - JSON or YAML structure
//   - Grid size within bounds
//   - Obstacles, object starts and ends inside the grid
//   - No obstacle at the origin or under an object endpoint
//   - No two objects sharing a start cell
//   - Solvability: a shortest program exists for every level
//
// With no arguments every pack in the levels directory is checked.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/solver"
)

// ValidationResult captures the outcome of validating a single file.
// Errors make the file invalid; Info lines describe a valid file and may
// carry warnings.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
	Info   []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) info(format string, args ...interface{}) {
	r.Info = append(r.Info, fmt.Sprintf(format, args...))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// validatePack loads one level pack file and validates every level in it.
// A level that exhausts the search budget is reported as a warning only.
func validatePack(path string, maxStates int) ValidationResult {
	result := ValidationResult{
		File:  filepath.Base(path),
		Valid: true,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	name := strings.TrimSuffix(result.File, filepath.Ext(result.File))
	pack, err := engine.DecodeLevelPack(name, data, formatOf(path))
	if err != nil {
		result.fail("Invalid %s: %v", strings.ToUpper(formatOf(path)), err)
		return result
	}

	if len(pack.Levels) == 0 {
		result.fail("Pack has no levels")
		return result
	}

	result.info("✓ Name: %s", pack.Name)
	result.info("✓ Levels: %d", len(pack.Levels))

	for i, level := range pack.Levels {
		if err := engine.ValidateLevel(level); err != nil {
			result.fail("Level %d: %v", i, err)
			continue
		}

		res, err := solver.Solve(level, solver.Options{MaxStates: maxStates})
		switch {
		case errors.Is(err, solver.ErrSearchLimit):
			result.info("⚠ Level %d: %dx%d, solvability unknown (search limit %d reached)",
				i, level.Size[0], level.Size[1], maxStates)
		case err != nil:
			result.fail("Level %d: unsolvable: %v", i, err)
		default:
			result.info("✓ Level %d: %dx%d, %d obstacles, %d objects, shortest solution %d commands",
				i, level.Size[0], level.Size[1], len(level.Obstacles), len(level.Objects), len(res.Actions))
		}
	}

	return result
}

// findPacks lists level files in dir in name order
func findPacks(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// report prints one result and returns whether it was valid
func report(result ValidationResult) bool {
	fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

	if result.Valid {
		fmt.Println("✅ VALID")
		for _, line := range result.Info {
			fmt.Println("  " + line)
		}
		return true
	}

	fmt.Println("❌ INVALID")
	for _, err := range result.Errors {
		fmt.Println("  ❌ " + err)
	}
	return false
}

var errSomeInvalid = errors.New("❌ Some level packs have errors")

func run(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		found, err := findPacks(cmd.String("dir"))
		if err != nil {
			return fmt.Errorf("error finding level files: %w", err)
		}
		files = found
	}
	if len(files) == 0 {
		return fmt.Errorf("no level packs found in %s", cmd.String("dir"))
	}

	allValid := true
	for _, file := range files {
		if !report(validatePack(file, int(cmd.Int("max-states")))) {
			allValid = false
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if !allValid {
		return errSomeInvalid
	}
	fmt.Println("✅ All level packs are valid!")
	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate level pack files",
		ArgsUsage: "[pack files...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Value:   "levels",
				Usage:   "Directory scanned when no files are given",
				Sources: cli.EnvVars("LEVELS_DIR"),
			},
			&cli.IntFlag{
				Name:  "max-states",
				Value: solver.DefaultMaxStates,
				Usage: "Search budget per level for the solvability check",
			},
		},
		Action: run,
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
