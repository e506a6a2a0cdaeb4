package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/deliverybot/game/engine"
)

func createValidPack(name string) *engine.LevelPack {
	return &engine.LevelPack{
		Name:        name,
		Description: "Test pack",
		Levels: []engine.LevelRecord{
			{
				Size:      [2]int{3, 3},
				Obstacles: [][2]int{{1, 1}},
				Objects:   [][2][2]int{{{1, 0}, {2, 0}}},
			},
		},
	}
}

func writePackFile(t *testing.T, dir, name string, pack *engine.LevelPack) {
	t.Helper()
	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal pack: %v", err)
	}

	filename := name
	if filepath.Ext(filename) == "" {
		filename = name + ".json"
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		t.Fatalf("Failed to write pack file: %v", err)
	}
}

func writeRaw(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", filename, err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("valid directory with default pack", func(t *testing.T) {
		dir := t.TempDir()
		writePackFile(t, dir, "default", createValidPack("Default"))

		manager, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if got := manager.GetDefault().Name; got != "Default" {
			t.Errorf("Expected default pack 'Default', got %q", got)
		}
	})

	t.Run("non-existent directory", func(t *testing.T) {
		if _, err := NewManager("/non/existent/path"); err == nil {
			t.Error("Expected error for non-existent directory")
		}
	})

	t.Run("empty directory falls back to built-in levels", func(t *testing.T) {
		manager, err := NewManager(t.TempDir())
		if err != nil {
			t.Fatalf("NewManager should succeed without pack files, got error: %v", err)
		}
		def := manager.GetDefault()
		if def == nil || def.Name != engine.DefaultLevelPack().Name {
			t.Errorf("Expected built-in default pack, got %+v", def)
		}
	})

	t.Run("first valid pack when no default file", func(t *testing.T) {
		dir := t.TempDir()
		writeRaw(t, dir, "aaa.json", `{"levels": []}`)
		writePackFile(t, dir, "bbb", createValidPack("B"))

		manager, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if got := manager.GetDefault().Name; got != "B" {
			t.Errorf("Expected pack B as default, got %q", got)
		}
	})
}

func TestManager_LoadPack(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "default", createValidPack("Default"))
	writePackFile(t, dir, "easy", createValidPack("Easy"))
	writeRaw(t, dir, "bare.json", `[{"size":[2,2],"obstacles":[],"objects":[[[0,1],[1,1]]]}]`)
	writeRaw(t, dir, "yamlpack.yaml", `name: From YAML
levels:
  - size: [2, 3]
    obstacles: [[1, 1]]
    objects:
      - [[0, 2], [1, 2]]
`)
	writeRaw(t, dir, "broken.json", `{"levels": [{"size": [0, 0]}]}`)

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	tests := []struct {
		name       string
		pack       string
		wantName   string
		wantLevels int
		wantErr    error
	}{
		{name: "json object", pack: "easy", wantName: "Easy", wantLevels: 1},
		{name: "with extension", pack: "easy.json", wantName: "Easy", wantLevels: 1},
		{name: "bare array takes file name", pack: "bare", wantName: "bare", wantLevels: 1},
		{name: "yaml", pack: "yamlpack", wantName: "From YAML", wantLevels: 1},
		{name: "missing", pack: "nope", wantErr: ErrPackNotFound},
		{name: "invalid level", pack: "broken", wantErr: ErrInvalidPack},
		{name: "path traversal", pack: "../etc/passwd", wantErr: ErrInvalidPackName},
		{name: "empty name", pack: "", wantErr: ErrInvalidPackName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pack, err := manager.LoadPack(tt.pack)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadPack(%q): %v", tt.pack, err)
			}
			if pack.Name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, pack.Name)
			}
			if len(pack.Levels) != tt.wantLevels {
				t.Errorf("Expected %d levels, got %d", tt.wantLevels, len(pack.Levels))
			}
		})
	}
}

func TestManager_ListPacks(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "default", createValidPack("Default"))
	writePackFile(t, dir, "easy", createValidPack("Easy"))
	writeRaw(t, dir, "hard.yml", "- size: [1, 1]\n  obstacles: []\n  objects: []\n")
	writeRaw(t, dir, "invalid.json", "not json")
	writeRaw(t, dir, "notes.txt", "ignored")

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	packs, err := manager.ListPacks()
	if err != nil {
		t.Fatalf("ListPacks: %v", err)
	}
	if len(packs) != 3 {
		t.Fatalf("Expected 3 valid packs, got %d", len(packs))
	}

	want := []struct{ file, id, format string }{
		{"default.json", "default", "json"},
		{"easy.json", "easy", "json"},
		{"hard.yml", "hard", "yaml"},
	}
	for i, w := range want {
		if packs[i].Filename != w.file || packs[i].PackID != w.id || packs[i].Format != w.format {
			t.Errorf("pack %d: got %+v, want %+v", i, packs[i], w)
		}
		if packs[i].LevelCount != 1 {
			t.Errorf("pack %d: expected 1 level, got %d", i, packs[i].LevelCount)
		}
	}
}

func TestManager_SameNameDifferentFormats(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "starter", createValidPack("Starter JSON"))
	writeRaw(t, dir, "starter.yaml", `name: Starter YAML
levels:
  - size: [2, 3]
    obstacles: []
    objects:
      - [[0, 2], [1, 2]]
  - size: [2, 2]
    obstacles: []
    objects: []
`)

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	packs, err := manager.ListPacks()
	if err != nil {
		t.Fatalf("ListPacks: %v", err)
	}
	if len(packs) != 2 {
		t.Fatalf("Expected 2 packs, got %d", len(packs))
	}
	if packs[0].Name != "Starter JSON" || packs[0].LevelCount != 1 {
		t.Errorf("starter.json: got %+v", packs[0])
	}
	if packs[1].Name != "Starter YAML" || packs[1].LevelCount != 2 {
		t.Errorf("starter.yaml: got %+v", packs[1])
	}

	tests := []struct{ name, want string }{
		{"starter.yaml", "Starter YAML"},
		{"starter.json", "Starter JSON"},
		{"starter", "Starter JSON"},
	}
	for _, tt := range tests {
		pack, err := manager.LoadPack(tt.name)
		if err != nil {
			t.Fatalf("LoadPack(%q): %v", tt.name, err)
		}
		if pack.Name != tt.want {
			t.Errorf("LoadPack(%q): expected %q, got %q", tt.name, tt.want, pack.Name)
		}
	}
}

func TestManager_SavePack(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	t.Run("json", func(t *testing.T) {
		if err := manager.SavePack("saved", createValidPack("Saved")); err != nil {
			t.Fatalf("SavePack: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "saved.json")); err != nil {
			t.Fatalf("Expected saved.json on disk: %v", err)
		}
		manager.RefreshCache()
		pack, err := manager.LoadPack("saved")
		if err != nil {
			t.Fatalf("LoadPack after save: %v", err)
		}
		if pack.Name != "Saved" {
			t.Errorf("Expected name Saved, got %q", pack.Name)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		if err := manager.SavePack("saved.yaml", createValidPack("Y")); err != nil {
			t.Fatalf("SavePack: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(dir, "saved.yaml"))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if _, err := engine.ParseLevelPack("saved", data, "yaml"); err != nil {
			t.Errorf("saved YAML does not parse: %v", err)
		}
	})

	t.Run("invalid pack", func(t *testing.T) {
		err := manager.SavePack("bad", &engine.LevelPack{Name: "bad"})
		if !errors.Is(err, ErrInvalidPack) {
			t.Errorf("Expected ErrInvalidPack, got %v", err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		err := manager.SavePack("../escape", createValidPack("X"))
		if !errors.Is(err, ErrInvalidPackName) {
			t.Errorf("Expected ErrInvalidPackName, got %v", err)
		}
	})
}

func TestManager_SetDefault(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "default", createValidPack("Default"))
	writePackFile(t, dir, "other", createValidPack("Other"))

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := manager.SetDefault("other"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if manager.GetDefault().Name != "Other" {
		t.Errorf("Expected Other as default, got %q", manager.GetDefault().Name)
	}
	if err := manager.SetDefault("missing"); !errors.Is(err, ErrPackNotFound) {
		t.Errorf("Expected ErrPackNotFound, got %v", err)
	}
}

func TestManager_Watch(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "live", createValidPack("Before"))

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := manager.LoadPack("live"); err != nil {
		t.Fatalf("LoadPack: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 4)
	if err := manager.Watch(ctx, func(id string) { changed <- id }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writePackFile(t, dir, "live", createValidPack("After"))

	select {
	case id := <-changed:
		if id != "live" {
			t.Errorf("Expected change for 'live', got %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	pack, err := manager.LoadPack("live")
	if err != nil {
		t.Fatalf("LoadPack after change: %v", err)
	}
	if pack.Name != "After" {
		t.Errorf("Expected reloaded pack 'After', got %q", pack.Name)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "default", createValidPack("Default"))
	for i := 1; i <= 5; i++ {
		writePackFile(t, dir, fmt.Sprintf("pack%d", i), createValidPack(fmt.Sprintf("Pack%d", i)))
	}

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := manager.LoadPack(fmt.Sprintf("pack%d", id%5+1)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected error during concurrent access: %v", err)
	}
	if manager.Count() != 6 {
		t.Errorf("Expected 6 packs in cache, got %d", manager.Count())
	}
}
