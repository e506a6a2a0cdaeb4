// Package mcp exposes the delivery robot game to AI agents over the Model
// Context Protocol.
//
// The Client registers one tool per REST operation and proxies every call to
// a running API server, formatting replies as plain text with the ASCII grid.
//
// MCP Tools:
//   - create_session, list_sessions, get_session, delete_session
//   - game_state: Current state with grid visualization
//   - command: One command word
//   - bulk_command: Several commands in order
//   - set_mode, reset_game, next_level
//   - command_history: Accepted moves or the recorded program
//   - hint: Shortest solution from the current state
//   - list_levels, game_instructions, describe_cell
//
// Command tools always wait for program replays to finish, since an agent
// has no way to watch the WebSocket stream.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
