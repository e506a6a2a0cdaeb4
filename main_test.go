package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "Delivery Robot Game Server" {
		t.Errorf("Unexpected app name %s", AppName)
	}
}

func testOptions(dir string) options {
	return options{
		Host:         "127.0.0.1",
		Port:         0,
		LevelsDir:    dir,
		StepInterval: time.Millisecond,
		LogLevel:     "disabled",
	}
}

func TestFlagDefaults(t *testing.T) {
	var got options
	cmd := newRootCommand()
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		got = optionsFrom(c)
		return nil
	}

	if err := cmd.Run(context.Background(), []string{"deliverybot"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", got.Port)
	}
	if got.Host == "" || got.LevelsDir == "" {
		t.Errorf("Host and levels dir should have defaults, got %+v", got)
	}
	if got.StepInterval <= 0 {
		t.Errorf("Expected a positive step interval, got %v", got.StepInterval)
	}
}

func TestFlagsFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("LEVELS_DIR", "/tmp/levels")
	t.Setenv("STEP_INTERVAL", "50ms")
	t.Setenv("NGROK_AUTH_TOKEN", "tok")

	var got options
	cmd := newRootCommand()
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		got = optionsFrom(c)
		return nil
	}
	if err := cmd.Run(context.Background(), []string{"deliverybot", "--host", "0.0.0.0"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.Port != 9191 || got.LevelsDir != "/tmp/levels" || got.StepInterval != 50*time.Millisecond {
		t.Errorf("Environment not applied: %+v", got)
	}
	if got.Host != "0.0.0.0" {
		t.Errorf("Expected host flag to apply, got %s", got.Host)
	}
	if got.NgrokAuth != "tok" {
		t.Errorf("Expected ngrok token from NGROK_AUTH_TOKEN, got %q", got.NgrokAuth)
	}
}

func TestInitializeServices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := initializeServices(ctx, testOptions(t.TempDir()), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if svc.game == nil || svc.hub == nil || svc.metrics == nil {
		t.Fatalf("Expected wired services, got %+v", svc)
	}

	// An empty level directory falls back to the built-in pack
	info, err := svc.game.CreateSession(ctx, "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if info.GameState == nil || info.GameState.LevelCount == 0 {
		t.Errorf("Expected a playable session, got %+v", info)
	}
}

func TestInitializeServices_InvalidLevelsDir(t *testing.T) {
	_, err := initializeServices(context.Background(), testOptions("/non/existent/path"), zerolog.Nop())
	if err == nil {
		t.Error("Expected error for non-existent levels directory")
	}
}

func TestRouterServesAPIAndMCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := initializeServices(ctx, testOptions(t.TempDir()), zerolog.Nop())
	if err != nil {
		t.Fatalf("initializeServices: %v", err)
	}

	// The /mcp proxy needs the REST API reachable at its base URL
	ts := httptest.NewUnstartedServer(nil)
	ts.Config.Handler = newRouter(testOptions(""), svc, zerolog.Nop(), "http://"+ts.Listener.Addr().String())
	ts.Start()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy server, got %d", resp.StatusCode)
	}

	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_session","arguments":{"mode":"program"}}}`)
	resp, err = http.Post(ts.URL+"/mcp", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("mcp: %v", err)
	}
	defer resp.Body.Close()

	var rpc struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpc.Result.IsError || len(rpc.Result.Content) == 0 {
		t.Fatalf("Expected tool result, got %+v", rpc)
	}
	if svc.sessions.Count() != 1 {
		t.Errorf("Expected the MCP call to create a session, got %d", svc.sessions.Count())
	}

	if resp, err := http.Get(ts.URL + "/mcp"); err == nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405 for GET /mcp, got %d", resp.StatusCode)
		}
	}
}
