// Package websocket provides WebSocket transport for the delivery robot game.
//
// The websocket package implements:
//   - Session-aware WebSocket connections
//   - Ordered forwarding of engine events to every client of a session
//   - Keyboard and command input from clients
//   - Connection lifecycle management
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub manages all
// WebSocket connections. Each client connection is handled by a read and a
// write goroutine. Engines publish events while holding their own lock, so
// the Hub queues them without blocking and drops messages when the queue is
// full.
//
// Message Protocol:
//
// Messages are JSON-encoded, one per frame:
//   - Incoming: {"command": "forward"} or {"key": "ArrowUp"}
//   - Outgoing: {"session_id": "ab12", "type": "event", "event": {...}}
//
// Key bindings follow the browser client: ArrowUp moves forward, ArrowLeft
// and ArrowRight rotate, Space grabs or releases, Backspace deletes the last
// step and Enter finishes.
//
// Usage:
//
//	hub := websocket.NewHub(websocket.WithCommandHandler(handle))
//	go hub.Run(ctx)
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("session"))
//	})
package websocket
