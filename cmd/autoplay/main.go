// Command autoplay drives a running game server through its REST API. It
// creates a session, asks the server for a hint on every level and submits
// the hinted program, resetting and retrying when a level is not cleared.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
	"github.com/wricardo/deliverybot/telemetry"
)

// Client talks to one session on a game server
type Client struct {
	baseURL   string
	sessionID string
	client    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s failed: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s failed: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// CreateSession starts a session and remembers its ID
func (c *Client) CreateSession(ctx context.Context, pack, mode string) (*service.SessionInfo, error) {
	var info service.SessionInfo
	req := map[string]string{"pack": pack, "mode": mode}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &info); err != nil {
		return nil, err
	}
	c.sessionID = info.ID
	return &info, nil
}

func (c *Client) Hint(ctx context.Context) (*service.HintResult, error) {
	var hint service.HintResult
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+c.sessionID+"/hint", nil, &hint); err != nil {
		return nil, err
	}
	return &hint, nil
}

// Submit sends commands as a batch. With wait set a program replay
// finishes before the server answers.
func (c *Client) Submit(ctx context.Context, commands []string, wait bool) (*service.BatchResult, error) {
	var result service.BatchResult
	req := map[string]interface{}{"commands": commands, "wait": wait}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+c.sessionID+"/commands", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Reset(ctx context.Context) (*engine.GameState, error) {
	var resp struct {
		State *engine.GameState `json:"state"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+c.sessionID+"/reset", nil, &resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

// playLevel submits the hinted program in batches the server accepts.
// It reports whether the level was cleared.
func playLevel(ctx context.Context, c *Client, logger zerolog.Logger) (bool, error) {
	hint, err := c.Hint(ctx)
	if err != nil {
		return false, err
	}
	logger.Debug().Int("length", hint.Length).Int("explored", hint.Explored).Str("from", hint.From).Msg("hint")

	commands := hint.Commands
	for len(commands) > 0 {
		n := min(len(commands), service.MaxBatchCommands)
		chunk, last := commands[:n], n == len(commands)
		commands = commands[n:]

		result, err := c.Submit(ctx, chunk, last)
		if err != nil {
			return false, err
		}
		if result.LevelComplete {
			return true, nil
		}
		if !result.Success {
			logger.Warn().
				Int("command", result.StoppedOnCommand).
				Str("reason", result.StoppedReason).
				Msg("batch stopped")
			return false, nil
		}
	}
	return false, nil
}

var errNotCleared = errors.New("not every level was cleared")

func run(ctx context.Context, cmd *cli.Command) error {
	logger := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cmd.String("log-level"),
		Format: "console",
		Output: cmd.Root().ErrWriter,
	})

	client := NewClient(cmd.String("url"), cmd.Duration("timeout"))
	info, err := client.CreateSession(ctx, cmd.String("pack"), cmd.String("mode"))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info().Str("session", info.ID).Str("pack", info.PackName).Msg("✨ Session created")

	levels := int(cmd.Int("levels"))
	attempts := int(cmd.Int("max-attempts"))
	cleared := 0
	for level := 1; level <= levels; level++ {
		for attempt := 1; attempt <= attempts; attempt++ {
			ok, err := playLevel(ctx, client, logger)
			if err != nil {
				return err
			}
			if ok {
				cleared++
				logger.Info().Int("level", level).Int("attempt", attempt).Msg("🎉 CLEAR!")
				break
			}
			if _, err := client.Reset(ctx); err != nil {
				return err
			}
		}
	}

	logger.Info().Int("cleared", cleared).Int("levels", levels).Str("session", info.ID).Msg("done")
	if cleared < levels {
		return errNotCleared
	}
	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "autoplay",
		Usage: "Clear levels on a running game server using its hints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://localhost:8080",
				Usage:   "Game server URL",
				Sources: cli.EnvVars("API_URL"),
			},
			&cli.StringFlag{
				Name:  "pack",
				Usage: "Level pack to play",
			},
			&cli.StringFlag{
				Name:  "mode",
				Value: string(engine.ModeProgram),
				Usage: "immediate or program",
			},
			&cli.IntFlag{
				Name:  "levels",
				Value: 3,
				Usage: "Number of levels to clear",
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Value: 3,
				Usage: "Attempts per level before moving on",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: time.Minute,
				Usage: "HTTP timeout, long enough for a replay to finish",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Action: run,
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
