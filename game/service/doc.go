// Package service provides the business logic layer for the delivery robot game.
//
// The service package implements:
//   - Multi-session game management
//   - Command parsing, batching and program replay scheduling
//   - Paged move history and solver hints
//   - Level pack listing and saving
//
// Core Interfaces:
//
// GameService is the main service interface providing high-level game operations.
// SessionManager handles session creation, retrieval, and lifecycle.
// LevelManager loads and stores level packs.
// EventPublisher receives every engine event, tagged with its session.
//
// Architecture:
//
// The service layer sits between the transport layer (HTTP/WebSocket/MCP) and
// the game engine. Each session owns its own engine; the service never holds
// a lock of its own across engine calls, so a replay running in one session
// does not stall requests for another.
//
// Usage:
//
//	sessionMgr := session.NewManager()
//	levelMgr, _ := config.NewManager("levels")
//	gameService := service.NewGameService(sessionMgr, levelMgr,
//		service.WithPublisher(hub),
//		service.WithLogger(logger),
//	)
//
//	info, err := gameService.CreateSession(ctx, "", engine.ModeProgram)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = gameService.SubmitBatch(ctx, info.ID, []string{"forward", "function", "finish"}, false)
package service
