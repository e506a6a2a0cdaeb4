// Package api provides HTTP REST API handlers for the delivery robot game.
//
// The api package implements:
//   - Session management endpoints
//   - Command submission, single and batched
//   - Mode switching, reset and level progression
//   - Level pack listing, retrieval and upload
//   - WebSocket upgrade handling
//
// Endpoints:
//
// Sessions:
//   - POST /api/sessions - Create a session {"pack": "easy", "mode": "program"}
//   - GET /api/sessions - List sessions (?sort=created|accessed&order=asc|desc&limit=N)
//   - GET /api/sessions/{id} - Get a session
//   - DELETE /api/sessions/{id} - Delete a session
//
// Game Operations:
//   - GET /api/sessions/{id}/state - Current game state with an ASCII grid
//   - POST /api/sessions/{id}/command - {"command": "forward", "wait": false}
//   - POST /api/sessions/{id}/commands - {"commands": ["forward", "function"]}
//   - POST /api/sessions/{id}/mode - {"mode": "immediate|program"}
//   - POST /api/sessions/{id}/reset - Restart the current level
//   - POST /api/sessions/{id}/next-level - Draw the next level
//   - GET /api/sessions/{id}/history - Paged history (?page=1&limit=20&order=desc)
//   - GET /api/sessions/{id}/hint - Shortest program that clears the level
//
// Level Packs:
//   - GET /api/levels - List packs in the level directory
//   - GET /api/levels/{name} - Get one pack
//   - POST /api/levels - Validate and save a pack
//
// Command words are forward, left, right, function, delete and finish.
// Unknown words are reported as ignored, not as errors. A rule violation is
// a normal 200 response whose error field names the rule.
//
// In program mode a finish starts the replay. Without wait the replay runs
// in the background and its steps are delivered over /ws; with wait the
// request returns once the replay ends.
//
// Error Handling:
//
// Errors are returned as JSON with appropriate HTTP status codes:
//
//	{
//	  "error": "error message",
//	  "code": 400
//	}
//
// A request made while a replay runs returns 409. An unsolvable hint
// returns 422.
package api
