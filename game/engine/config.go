package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LevelRecord is one level in the level descriptor format:
//
//	{"size":[r,c],"obstacles":[[r,c],...],"objects":[[[sr,sc],[er,ec]],...]}
type LevelRecord struct {
	Size      [2]int      `json:"size" yaml:"size"`
	Obstacles [][2]int    `json:"obstacles" yaml:"obstacles"`
	Objects   [][2][2]int `json:"objects" yaml:"objects"`
}

// LevelPack is a named set of levels; one is picked per attempt
type LevelPack struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Levels      []LevelRecord `json:"levels" yaml:"levels"`
}

// ValidateLevel checks a level record for structural correctness
func ValidateLevel(level LevelRecord) error {
	rows, cols := level.Size[0], level.Size[1]
	if rows < MinGridSize || rows > MaxGridSize || cols < MinGridSize || cols > MaxGridSize {
		return fmt.Errorf("%w: size must be between %d and %d, got %dx%d", ErrInvalidLevel, MinGridSize, MaxGridSize, rows, cols)
	}
	size := Size{Rows: rows, Cols: cols}

	blocked := make(map[Cell]bool, len(level.Obstacles))
	for i, o := range level.Obstacles {
		c := Cell{Row: o[0], Col: o[1]}
		if !InBounds(c, size) {
			return fmt.Errorf("%w: obstacle %d at (%d,%d) is out of bounds", ErrInvalidLevel, i, c.Row, c.Col)
		}
		blocked[c] = true
	}
	if blocked[Origin] {
		return fmt.Errorf("%w: origin (0,0) must not be an obstacle", ErrInvalidLevel)
	}

	starts := make(map[Cell]int, len(level.Objects))
	for i, o := range level.Objects {
		id := i + 1
		start := Cell{Row: o[0][0], Col: o[0][1]}
		end := Cell{Row: o[1][0], Col: o[1][1]}
		if !InBounds(start, size) || !InBounds(end, size) {
			return fmt.Errorf("%w: object %d has a cell out of bounds", ErrInvalidLevel, id)
		}
		if blocked[start] || blocked[end] {
			return fmt.Errorf("%w: object %d overlaps an obstacle", ErrInvalidLevel, id)
		}
		if other, dup := starts[start]; dup {
			return fmt.Errorf("%w: objects %d and %d share start (%d,%d)", ErrInvalidLevel, other, id, start.Row, start.Col)
		}
		starts[start] = id
	}
	return nil
}

// ValidateLevelPack validates every level in a pack
func ValidateLevelPack(pack *LevelPack) error {
	if pack == nil || len(pack.Levels) == 0 {
		return ErrEmptyPack
	}
	for i, level := range pack.Levels {
		if err := ValidateLevel(level); err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}
	}
	return nil
}

// ParseLevelPack decodes and validates level data. Format is "json" or "yaml".
// JSON input may be a bare array of levels or a pack object.
func ParseLevelPack(name string, data []byte, format string) (*LevelPack, error) {
	pack, err := DecodeLevelPack(name, data, format)
	if err != nil {
		return nil, err
	}
	if err := ValidateLevelPack(pack); err != nil {
		return nil, fmt.Errorf("invalid level pack '%s': %w", name, err)
	}
	return pack, nil
}

// DecodeLevelPack decodes level data without validating it
func DecodeLevelPack(name string, data []byte, format string) (*LevelPack, error) {
	var pack LevelPack
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var levels []LevelRecord
		if err := yaml.Unmarshal(data, &levels); err == nil {
			pack.Levels = levels
		} else if err := yaml.Unmarshal(data, &pack); err != nil {
			return nil, fmt.Errorf("failed to parse level pack '%s': %w", name, err)
		}
	case "json", "":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &pack.Levels); err != nil {
				return nil, fmt.Errorf("failed to parse level pack '%s': %w", name, err)
			}
		} else if err := json.Unmarshal(trimmed, &pack); err != nil {
			return nil, fmt.Errorf("failed to parse level pack '%s': %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported level format %q", format)
	}

	if pack.Name == "" {
		pack.Name = name
	}
	return &pack, nil
}

// DefaultLevelPack is used when no level pack can be loaded
func DefaultLevelPack() *LevelPack {
	return &LevelPack{
		Name:        "default",
		Description: "Built-in fallback levels",
		Levels: []LevelRecord{
			{
				Size:      [2]int{5, 5},
				Obstacles: [][2]int{{2, 2}, {1, 3}},
				Objects:   [][2][2]int{{{2, 0}, {4, 4}}},
			},
			{
				Size:      [2]int{6, 6},
				Obstacles: [][2]int{{0, 3}, {3, 3}, {4, 1}},
				Objects:   [][2][2]int{{{1, 0}, {5, 5}}, {{0, 1}, {2, 4}}},
			},
		},
	}
}

// Picker chooses which level of a pack to play next
type Picker interface {
	Pick(count int) int
}

// PickerFunc adapts a function to Picker
type PickerFunc func(count int) int

func (f PickerFunc) Pick(count int) int { return f(count) }

// RandomPicker picks uniformly at random
func RandomPicker() Picker {
	return PickerFunc(func(count int) int {
		if count <= 1 {
			return 0
		}
		return rand.IntN(count)
	})
}

// SequentialPicker cycles through levels in order starting at 0
func SequentialPicker() Picker {
	var mu sync.Mutex
	next := 0
	return PickerFunc(func(count int) int {
		mu.Lock()
		defer mu.Unlock()
		if count <= 0 {
			return 0
		}
		i := next % count
		next++
		return i
	})
}
