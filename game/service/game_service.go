package service

import (
	"context"
	"time"

	"github.com/wricardo/deliverybot/game/engine"
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, packName string, mode engine.Mode) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Game Operations
	Submit(ctx context.Context, sessionID, command string, wait bool) (*CommandResult, error)
	SubmitBatch(ctx context.Context, sessionID string, commands []string, wait bool) (*BatchResult, error)
	SetMode(ctx context.Context, sessionID string, mode engine.Mode) (*engine.GameState, error)
	Reset(ctx context.Context, sessionID string) (*engine.GameState, error)
	NextLevel(ctx context.Context, sessionID string) (*engine.GameState, error)

	// Game State
	GetGameState(ctx context.Context, sessionID string) (*engine.GameState, error)
	GetHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error)
	Hint(ctx context.Context, sessionID string) (*HintResult, error)

	// Level packs
	ListLevelPacks(ctx context.Context) ([]*LevelPackInfo, error)
	LoadLevelPack(ctx context.Context, name string) (*engine.LevelPack, error)
	SaveLevelPack(ctx context.Context, name string, pack *engine.LevelPack) error
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id string, pack *engine.LevelPack, opts ...engine.Option) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
}

// LevelManager handles level pack loading
type LevelManager interface {
	LoadPack(name string) (*engine.LevelPack, error)
	ListPacks() ([]*LevelPackInfo, error)
	GetDefault() *engine.LevelPack
	SavePack(name string, pack *engine.LevelPack) error
}

// EventPublisher forwards engine events to connected clients
type EventPublisher interface {
	PublishEvent(sessionID string, ev engine.Event)
}

// Session represents an active game session
type Session struct {
	ID             string
	Engine         *engine.GameEngine
	Pack           *engine.LevelPack
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
