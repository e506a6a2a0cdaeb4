package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API.
// Commands submitted with wait can block for a whole replay, hence the
// generous timeout.
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Delivery Robot Game",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Delivery Robot Game - MCP Interface

This is a thin client that proxies all requests to the REST API server.

GAME OBJECTIVE:
Drive the robot to pick up every object at its start cell, drop it at its
end cell, then return to (0,0) and finish.

AVAILABLE TOOLS:
- create_session: Create a new session (pack, mode)
- list_sessions / get_session / delete_session
- game_state: Current state with an ASCII grid
- command: One command word - requires intent explanation
- bulk_command: Several commands in order - requires intent explanation
- set_mode: Switch between immediate and program mode
- reset_game / next_level
- command_history: Past moves, or the recorded program
- hint: Shortest command sequence that clears the level
- list_levels: Available level packs
- game_instructions: Full rules
- describe_cell: Everything about one grid cell

NOTE: The 'intent' parameter on command tools serves as rubber duck debugging - explain your reasoning!`),
	)

	c.registerTools()
}

func sessionProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new game session with an optional level pack and mode",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pack": map[string]interface{}{
					"type":        "string",
					"description": "Level pack to play (optional, see list_levels)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"immediate", "program"},
					"description": "immediate runs each command now; program records commands and replays them on finish",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active game sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_session",
		Description: "Delete a session and cancel any running replay",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleDeleteSession)

	// Game operations
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_state",
		Description: "Get the current game state with an ASCII grid",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleGameState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "command",
		Description: "Submit one command word to the robot",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
				"command": map[string]interface{}{
					"type":        "string",
					"enum":        engine.Commands,
					"description": "forward, left, right, function (grab/release), delete (drop last recorded step), finish",
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Brief explanation of the intent behind this command (serves as a rubber duck to help explain your reasoning)",
				},
			},
			Required: []string{"session_id", "command"},
		},
	}, c.handleCommand)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "bulk_command",
		Description: "Submit several commands in order. Stops at the first rejected command.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
				"commands": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
						"enum": engine.Commands,
					},
					"description": fmt.Sprintf("Commands to run, at most %d", service.MaxBatchCommands),
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Brief explanation of the intent behind this sequence (serves as a rubber duck to help explain your reasoning)",
				},
			},
			Required: []string{"session_id", "commands"},
		},
	}, c.handleBulkCommand)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_mode",
		Description: "Switch between immediate and program mode. The level restarts.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
				"mode": map[string]interface{}{
					"type": "string",
					"enum": []string{"immediate", "program"},
				},
			},
			Required: []string{"session_id", "mode"},
		},
	}, c.handleSetMode)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reset_game",
		Description: "Restart the current level",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleReset)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "next_level",
		Description: "Move on to the next level of the pack",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleNextLevel)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "command_history",
		Description: "Get accepted moves, or the recorded program in program mode",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
				"page": map[string]interface{}{
					"type":        "integer",
					"description": "Page number",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Items per page",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleCommandHistory)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "hint",
		Description: "Find a shortest command sequence that clears the level",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProperty()},
			Required:   []string{"session_id"},
		},
	}, c.handleHint)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_levels",
		Description: "List available level packs",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListLevels)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get comprehensive game instructions and rules",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "describe_cell",
		Description: "Describe one grid cell: obstacle, object starts and ends, and whether the robot is there",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
				"row": map[string]interface{}{
					"type":        "integer",
					"description": "Row of the cell (0-based, grows with heading 0)",
				},
				"col": map[string]interface{}{
					"type":        "integer",
					"description": "Column of the cell (0-based, grows with heading 90)",
				},
			},
			Required: []string{"session_id", "row", "col"},
		},
	}, c.handleDescribeCell)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	pack, _ := args["pack"].(string)
	mode, _ := args["mode"].(string)

	body := map[string]string{}
	if pack != "" {
		body["pack"] = pack
	}
	if mode != "" {
		body["mode"] = mode
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nPack: %s\n", session.ID, session.PackName)
	if session.GameState != nil {
		result += "\n" + formatGameState(session.GameState)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		mode := ""
		if s.GameState != nil {
			mode = string(s.GameState.Mode)
		}
		fmt.Fprintf(&b, "- %s (Pack: %s, Mode: %s, Created: %s)\n",
			s.ID, s.PackName, mode, s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, ""), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleDeleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	if err := c.apiCall(ctx, "DELETE", sessionPath(sessionID, ""), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s deleted", sessionID)), nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var state engine.GameState
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, "/state"), nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatGameState(&state)), nil
}

func (c *Client) handleCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	command, _ := args["command"].(string)

	// Agents cannot watch the socket, so replays are awaited
	body := map[string]interface{}{
		"command": command,
		"wait":    true,
	}

	var result service.CommandResult
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/command"), body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatCommandResult(&result)), nil
}

func (c *Client) handleBulkCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	commandsRaw, _ := args["commands"].([]interface{})

	commands := make([]string, 0, len(commandsRaw))
	for _, raw := range commandsRaw {
		if command, ok := raw.(string); ok {
			commands = append(commands, command)
		}
	}

	body := map[string]interface{}{
		"commands": commands,
		"wait":     true,
	}

	var result service.BatchResult
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/commands"), body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatBatchResult(sessionID, &result)), nil
}

// stateResponse is the body of mode, reset and next-level calls
type stateResponse struct {
	Message string            `json:"message"`
	State   *engine.GameState `json:"state"`
}

func (c *Client) handleSetMode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	mode, _ := args["mode"].(string)

	var response stateResponse
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/mode"), map[string]string{"mode": mode}, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n%s", response.Message, formatGameState(response.State))), nil
}

func (c *Client) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var response stateResponse
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/reset"), nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n%s", response.Message, formatGameState(response.State))), nil
}

func (c *Client) handleNextLevel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var response stateResponse
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/next-level"), nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n%s", response.Message, formatGameState(response.State))), nil
}

func (c *Client) handleCommandHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)

	params := url.Values{}
	if page, ok := args["page"].(float64); ok {
		params.Set("page", fmt.Sprintf("%d", int(page)))
	}
	if limit, ok := args["limit"].(float64); ok {
		params.Set("limit", fmt.Sprintf("%d", int(limit)))
	}
	path := sessionPath(sessionID, "/history")
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var history service.HistoryResponse
	if err := c.apiCall(ctx, "GET", path, nil, &history); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatHistory(&history)), nil
}

func (c *Client) handleHint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var hint service.HintResult
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, "/hint"), nil, &hint); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	origin := "from the robot's current position"
	if hint.From == "start" {
		origin = "from the start of the level (program mode replays from the origin)"
	}
	result := fmt.Sprintf("Shortest solution, %d commands %s:\n%s\n\nStates explored: %d",
		hint.Length, origin, strings.Join(hint.Commands, ", "), hint.Explored)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListLevels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var packs []service.LevelPackInfo
	if err := c.apiCall(ctx, "GET", "/api/levels", nil, &packs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Available Level Packs:\n\n")
	for _, p := range packs {
		fmt.Fprintf(&b, "• %s (%s, %d levels)\n", p.PackID, p.Name, p.LevelCount)
		if p.Description != "" {
			fmt.Fprintf(&b, "  %s\n", p.Description)
		}
	}
	if len(packs) == 0 {
		b.WriteString("(none on disk, the built-in pack is used)\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Delivery Robot Game - Complete Instructions

GAME OBJECTIVE:
Carry every object from its start cell to its end cell, then drive back to
the origin (0,0) and issue finish.

COORDINATES AND HEADING:
• Cells are (row, col), both 0-based, origin at the top left of the grid
• Heading 0 moves to row+1 (down the grid), 90 to col+1, 180 to row-1, 270 to col-1
• left adds 90 degrees, right subtracts 90 degrees
• The robot starts at (0,0) facing heading 0

GRID LEGEND:
• . - Free cell
• # - Obstacle (impassable)
• R B G - Start of a red, blue or green object (uppercase)
• r b g - End cell of a red, blue or green object (lowercase)
• * - Delivered object
• v > ^ < - The robot, pointing toward heading 0, 90, 180, 270

COMMANDS:
• forward - Move one cell along the heading
• left / right - Rotate in place
• function - Grab the object under the robot, or release the carried object
• delete - Remove the last recorded step (program mode)
• finish - Finish the level (immediate) or run the recorded program (program)

RULES (checked in this order for forward):
1. out_of_bounds - The next cell is off the map
2. obstructed - The next cell is an obstacle
3. carry_conflict - Carrying, and the next cell holds another waiting object
4. pickup_required - Not carrying, and the current cell holds a waiting object
Rotations are refused with pickup_required too. You must grab an object
before leaving or turning on its start cell.
function fails with nothing_to_grab or wrong_drop_location.
finish fails with not_at_origin or incomplete_objects.

MODES:
• immediate - Each command runs at once. A rejected command changes nothing.
• program - Commands are recorded without checks. finish replays the program
  from the origin. The first rejected step aborts the replay and restarts the
  level. A successful replay clears the level.

STRATEGY:
1. Call game_state and read the grid row by row
2. Use describe_cell to confirm object colors and endpoints
3. Plan the route to each start, then to its end, one object at a time
4. Use hint when stuck; it returns a shortest solution
5. In program mode submit the whole plan with bulk_command, ending with finish

Good luck, and deliver everything!`

	return mcp.NewToolResultText(instructions), nil
}

func (c *Client) handleDescribeCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	rowF, rowOK := args["row"].(float64)
	colF, colOK := args["col"].(float64)
	if !rowOK || !colOK {
		return mcp.NewToolResultError("row and col are required integers"), nil
	}

	var state engine.GameState
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, "/state"), nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cell := engine.Cell{Row: int(rowF), Col: int(colF)}
	size := state.Map.Size
	if !engine.InBounds(cell, size) {
		return mcp.NewToolResultError(fmt.Sprintf("Cell (%d,%d) is out of bounds. Grid is %dx%d (rows 0-%d, cols 0-%d)",
			cell.Row, cell.Col, size.Rows, size.Cols, size.Rows-1, size.Cols-1)), nil
	}

	return mcp.NewToolResultText(describeCell(&state, cell)), nil
}

// Formatting helpers

func describeCell(state *engine.GameState, cell engine.Cell) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cell (%d,%d)\n", cell.Row, cell.Col)

	glyph := "."
	if cell.Row < len(state.Grid) && cell.Col < len(state.Grid[cell.Row]) {
		glyph = string(state.Grid[cell.Row][cell.Col])
	}
	fmt.Fprintf(&b, "Glyph: %s\n", glyph)

	obstacle := false
	for _, o := range state.Map.Obstacles {
		if o == cell {
			obstacle = true
			break
		}
	}
	if obstacle {
		b.WriteString("Obstacle: yes (impassable)\n")
	} else {
		b.WriteString("Obstacle: no\n")
	}

	for _, obj := range state.Map.Objects {
		if obj.Start == cell {
			fmt.Fprintf(&b, "Start of object %d (%s): %s\n", obj.ID, obj.Color, objectStatus(obj))
		}
		if obj.End == cell {
			fmt.Fprintf(&b, "End of object %d (%s): %s\n", obj.ID, obj.Color, objectStatus(obj))
		}
	}

	if state.Vehicle.Position == cell {
		fmt.Fprintf(&b, "Robot: here, heading %d\n", state.Vehicle.Heading)
	}
	if cell == engine.Origin {
		b.WriteString("Origin: finish must be issued here\n")
	}
	return b.String()
}

func objectStatus(obj engine.GameObject) string {
	switch {
	case obj.Completed:
		return "delivered"
	case obj.Carried:
		return "being carried"
	default:
		return "waiting"
	}
}

func formatSessionInfo(session *service.SessionInfo) string {
	result := fmt.Sprintf("Session: %s\nPack: %s\nCreated: %s\nLast accessed: %s\n",
		session.ID, session.PackName,
		session.CreatedAt.Format(time.RFC3339), session.LastAccessedAt.Format(time.RFC3339))
	if session.GameState != nil {
		result += "\n" + formatGameState(session.GameState)
	}
	return result
}

func formatGameState(state *engine.GameState) string {
	if state == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s (%s)\n", state.Mode, state.Phase)
	fmt.Fprintf(&b, "Level: %d/%d of %s, cleared %d\n", state.LevelIndex+1, state.LevelCount, state.PackName, state.Completions)

	v := state.Vehicle
	fmt.Fprintf(&b, "Robot: (%d,%d) heading %d\n", v.Position.Row, v.Position.Col, v.Heading)
	if v.Carrying {
		fmt.Fprintf(&b, "Carrying: object %d (%s)\n", v.CarriedID, v.CarriedColor)
	} else {
		b.WriteString("Carrying: nothing\n")
	}
	fmt.Fprintf(&b, "Objects remaining: %d\n", state.Remaining)
	if state.NextTarget != nil {
		fmt.Fprintf(&b, "Next target: (%d,%d)\n", state.NextTarget.Row, state.NextTarget.Col)
	}

	if len(state.Grid) > 0 {
		b.WriteString("\nGrid (row by row, col 0 first):\n")
		for i, row := range state.Grid {
			fmt.Fprintf(&b, "%2d %s\n", i, row)
		}
	}

	if state.Mode == engine.ModeProgram {
		fmt.Fprintf(&b, "\nProgram (%d): %s\n", len(state.Program), strings.Join(engine.ActionWords(state.Program), ", "))
	}
	if state.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", state.Message)
	}
	return b.String()
}

func formatCommandResult(result *service.CommandResult) string {
	var b strings.Builder
	switch {
	case result.Ignored:
		fmt.Fprintf(&b, "? Ignored unknown command %q\n", result.Command)
	case result.Error != nil:
		fmt.Fprintf(&b, "✗ %s rejected (%s): %s\n", result.Command, result.Error.Kind, result.Error.Message)
	case result.LevelComplete:
		fmt.Fprintf(&b, "🎉 %s\n", engine.ClearMessage)
	default:
		fmt.Fprintf(&b, "✓ %s accepted\n", result.Command)
	}

	if result.Step != nil {
		s := result.Step
		fmt.Fprintf(&b, "Step: (%d,%d) -> (%d,%d) heading %d\n", s.From.Row, s.From.Col, s.To.Row, s.To.Col, s.Heading)
	}
	if result.Replay != nil {
		b.WriteString(formatReplay(result.Replay))
	}
	if result.Replaying {
		b.WriteString("Replay running in the background\n")
	}

	b.WriteString("\n")
	b.WriteString(formatGameState(result.GameState))
	return b.String()
}

func formatReplay(r *engine.ReplayReport) string {
	switch {
	case r.Cancelled:
		return fmt.Sprintf("Replay cancelled after %d of %d steps\n", r.Executed, r.Steps)
	case r.Failure != nil:
		return fmt.Sprintf("Replay aborted at step %d of %d (%s): %s. The level was restarted.\n",
			r.FailedStep, r.Steps, r.Failure.Kind, r.Failure.Message)
	default:
		return fmt.Sprintf("Replay ran %d of %d steps\n", r.Executed, r.Steps)
	}
}

func formatBatchResult(sessionID string, result *service.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: executed %d of %d commands", sessionID, result.Executed, result.RequestedCommands)
	if result.Ignored > 0 {
		fmt.Fprintf(&b, ", %d ignored", result.Ignored)
	}
	b.WriteString("\n")

	if result.Truncated {
		fmt.Fprintf(&b, "Only the first %d commands were run\n", result.Limit)
	}
	if result.StoppedOnCommand > 0 {
		fmt.Fprintf(&b, "Stopped on command %d [%s]: %s\n", result.StoppedOnCommand, result.StopReasonCode, result.StoppedReason)
	}
	if result.LevelComplete {
		fmt.Fprintf(&b, "🎉 %s\n", engine.ClearMessage)
	}
	if result.Replay != nil {
		b.WriteString(formatReplay(result.Replay))
	}

	if len(result.Steps) > 0 {
		b.WriteString("\nSteps:\n")
		for _, s := range result.Steps {
			mark := "✓"
			if !s.Accepted {
				mark = "✗"
			}
			fmt.Fprintf(&b, "%s %d %s (%d,%d) -> (%d,%d) heading %d\n",
				mark, s.Idx, s.Command, s.From.Row, s.From.Col, s.To.Row, s.To.Col, s.Heading)
		}
	}

	b.WriteString("\n")
	b.WriteString(formatGameState(result.GameState))
	return b.String()
}

func formatHistory(history *service.HistoryResponse) string {
	var b strings.Builder
	if history.Mode == engine.ModeProgram {
		fmt.Fprintf(&b, "Recorded program (%d steps): %s\n", len(history.Program), strings.Join(engine.ActionWords(history.Program), ", "))
	}

	fmt.Fprintf(&b, "Move History (Page %d/%d, Total: %d)\n\n", history.Page, history.TotalPages, history.TotalMoves)
	for _, m := range history.Moves {
		fmt.Fprintf(&b, "%d. %s (%d,%d) -> (%d,%d) heading %d\n",
			m.MoveNumber, m.Action, m.From.Row, m.From.Col, m.To.Row, m.To.Col, m.Heading)
	}
	if history.HasNext {
		b.WriteString("\nMore moves on the next page\n")
	}
	return b.String()
}
