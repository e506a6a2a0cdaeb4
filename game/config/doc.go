// Package config provides level pack management for the delivery robot game.
//
// The config package handles:
//   - Loading level packs from JSON and YAML files
//   - Level validation through the engine
//   - Default pack selection with a built-in fallback
//   - Pack discovery, listing and saving
//   - Cache invalidation when files in the level directory change
//
// Level Format:
//
// A pack file is either a bare array of levels or an object with a name,
// a description and a levels array. Each level is
//
//	{"size": [rows, cols], "obstacles": [[r, c], ...], "objects": [[[sr, sc], [er, ec]], ...]}
//
// The YAML form uses the same keys.
//
// Usage:
//
//	manager, err := config.NewManager("levels")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	pack, err := manager.LoadPack("warehouse")
//	packs, err := manager.ListPacks()
//
//	// Pick up edits without a restart
//	err = manager.Watch(ctx, func(id string) { log.Printf("reloaded %s", id) })
package config
