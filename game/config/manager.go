package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
)

var (
	ErrPackNotFound    = errors.New("level pack not found")
	ErrInvalidPack     = errors.New("invalid level pack")
	ErrInvalidPackName = errors.New("invalid level pack name")
)

// DefaultPackName is loaded as the default pack when present
const DefaultPackName = "default"

// extensions are tried in order when a pack name has none
var extensions = []string{".json", ".yaml", ".yml"}

// reloadDelay debounces bursts of file events
const reloadDelay = 300 * time.Millisecond

// Manager handles level pack loading and caching
type Manager struct {
	levelDir    string
	defaultPack *engine.LevelPack
	packs       map[string]*engine.LevelPack
	logger      zerolog.Logger
	mu          sync.RWMutex
}

var _ service.LevelManager = (*Manager)(nil)

// NewManager creates a new level pack manager
func NewManager(levelDir string) (*Manager, error) {
	// Ensure level directory exists
	if _, err := os.Stat(levelDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("level directory does not exist: %s", levelDir)
	}

	m := &Manager{
		levelDir: levelDir,
		packs:    make(map[string]*engine.LevelPack),
		logger:   zerolog.Nop(),
	}
	m.loadDefaultPack()
	return m, nil
}

// WithLogger sets the manager logger
func (m *Manager) WithLogger(l zerolog.Logger) *Manager {
	m.logger = l
	return m
}

// LoadPack loads a level pack by name. The name may omit its extension, in
// which case .json, .yaml and .yml are tried in that order. Packs are cached
// by file name so starter.json and starter.yaml never share an entry.
func (m *Manager) LoadPack(name string) (*engine.LevelPack, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	filename, err := m.resolveFilename(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	// Check cache first
	if pack, exists := m.packs[filename]; exists {
		m.mu.RUnlock()
		return pack, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if pack, exists := m.packs[filename]; exists {
		return pack, nil
	}

	pack, err := m.readPack(filename)
	if err != nil {
		return nil, err
	}
	m.packs[filename] = pack
	return pack, nil
}

// readPack reads and validates a pack file without touching the cache
func (m *Manager) readPack(filename string) (*engine.LevelPack, error) {
	path := filepath.Join(m.levelDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read level pack file: %w", err)
	}

	pack, err := engine.ParseLevelPack(packID(filename), data, formatOf(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}
	return pack, nil
}

// resolveFilename maps a pack name to the file on disk
func (m *Manager) resolveFilename(name string) (string, error) {
	if ext := filepath.Ext(name); ext != "" {
		if _, err := os.Stat(filepath.Join(m.levelDir, name)); err != nil {
			if os.IsNotExist(err) {
				return "", ErrPackNotFound
			}
			return "", err
		}
		return name, nil
	}
	for _, ext := range extensions {
		if _, err := os.Stat(filepath.Join(m.levelDir, name+ext)); err == nil {
			return name + ext, nil
		}
	}
	return "", ErrPackNotFound
}

// ListPacks returns information about all valid level packs on disk
func (m *Manager) ListPacks() ([]*service.LevelPackInfo, error) {
	entries, err := os.ReadDir(m.levelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read level directory: %w", err)
	}

	var packs []*service.LevelPackInfo
	for _, entry := range entries {
		if entry.IsDir() || !isLevelFile(entry.Name()) {
			continue
		}

		pack, err := m.LoadPack(entry.Name())
		if err != nil {
			m.logger.Debug().Err(err).Str("file", entry.Name()).Msg("skipping invalid level pack")
			continue
		}

		packs = append(packs, &service.LevelPackInfo{
			Filename:    entry.Name(),
			PackID:      packID(entry.Name()),
			Name:        pack.Name,
			Description: pack.Description,
			LevelCount:  len(pack.Levels),
			Format:      formatOf(entry.Name()),
		})
	}

	sort.Slice(packs, func(i, j int) bool { return packs[i].Filename < packs[j].Filename })
	return packs, nil
}

// GetDefault returns the default level pack
func (m *Manager) GetDefault() *engine.LevelPack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultPack
}

// SetDefault sets the default level pack by name
func (m *Manager) SetDefault(name string) error {
	pack, err := m.LoadPack(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultPack = pack
	return nil
}

// RefreshCache drops all cached packs and reloads the default
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	m.packs = make(map[string]*engine.LevelPack)
	m.mu.Unlock()

	m.loadDefaultPack()
}

// loadDefaultPack prefers default.*, then the first valid pack on disk,
// then the built-in levels
func (m *Manager) loadDefaultPack() {
	pack, err := m.LoadPack(DefaultPackName)
	if err != nil {
		infos, listErr := m.ListPacks()
		if listErr == nil && len(infos) > 0 {
			pack, err = m.LoadPack(infos[0].Filename)
		}
	}
	if err != nil || pack == nil {
		pack = engine.DefaultLevelPack()
	}

	m.mu.Lock()
	m.defaultPack = pack
	m.mu.Unlock()
}

// SavePack writes a level pack to disk. A .yaml or .yml name is written as
// YAML, anything else as indented JSON.
func (m *Manager) SavePack(name string, pack *engine.LevelPack) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := engine.ValidateLevelPack(pack); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}

	filename := name
	if filepath.Ext(filename) == "" {
		filename = name + ".json"
	}

	var (
		data []byte
		err  error
	)
	if formatOf(filename) == "yaml" {
		data, err = yaml.Marshal(pack)
	} else {
		data, err = json.MarshalIndent(pack, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal level pack: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.levelDir, filename), data, 0644); err != nil {
		return fmt.Errorf("failed to write level pack file: %w", err)
	}

	m.mu.Lock()
	m.packs[filename] = pack
	m.mu.Unlock()
	return nil
}

// Watch invalidates cached packs when their files change. onChange, if set,
// is called with the pack ID once a burst of events settles.
func (m *Manager) Watch(ctx context.Context, onChange func(packID string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(m.levelDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch level directory: %w", err)
	}

	go m.processEvents(ctx, watcher, onChange)

	m.logger.Info().Str("dir", m.levelDir).Msg("watching level packs")
	return nil
}

func (m *Manager) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(string)) {
	defer watcher.Close()

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isLevelFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			filename := filepath.Base(event.Name)
			id := packID(filename)
			m.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("level pack changed")

			if t, exists := timers[filename]; exists {
				t.Stop()
			}
			timers[filename] = time.AfterFunc(reloadDelay, func() {
				m.invalidate(filename)
				if onChange != nil {
					onChange(id)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("level watcher error")
		}
	}
}

// invalidate drops a pack file from the cache. The default pack is reloaded when it was the one changed.
func (m *Manager) invalidate(filename string) {
	id := packID(filename)
	m.mu.Lock()
	delete(m.packs, filename)
	isDefault := m.defaultPack != nil && (m.defaultPack.Name == id || id == DefaultPackName)
	m.mu.Unlock()

	if isDefault {
		m.loadDefaultPack()
	}
	m.logger.Info().Str("pack", id).Msg("level pack cache invalidated")
}

// Count returns the number of cached packs
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.packs)
}

// checkName rejects names that would escape the level directory
func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidPackName
	}
	return nil
}

func packID(filename string) string {
	for _, ext := range extensions {
		if strings.HasSuffix(filename, ext) {
			return strings.TrimSuffix(filename, ext)
		}
	}
	return filename
}

func isLevelFile(name string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func formatOf(filename string) string {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
