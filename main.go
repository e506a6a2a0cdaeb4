// Command deliverybot starts the delivery robot game server.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Flags control host/port, level directory, logging, replay pacing and
// optional ngrok tunneling for easy external access during development.
// Every flag can also be set from the environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/deliverybot/api"
	"github.com/wricardo/deliverybot/game/config"
	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
	"github.com/wricardo/deliverybot/game/session"
	"github.com/wricardo/deliverybot/telemetry"
	"github.com/wricardo/deliverybot/transport/mcp"
	"github.com/wricardo/deliverybot/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Delivery Robot Game Server"
)

const (
	sessionMaxAge          = 24 * time.Hour
	sessionCleanupInterval = time.Hour
)

// options is the resolved command line configuration
type options struct {
	Host         string
	Port         int
	LevelsDir    string
	StaticDir    string
	StepInterval time.Duration
	RandomLevels bool
	LogLevel     string
	LogFormat    string
	NgrokEnabled bool
	NgrokAuth    string
	NgrokDomain  string
}

func (o options) addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// services holds the wired game components
type services struct {
	game     service.GameService
	levels   *config.Manager
	sessions *session.Manager
	hub      *websocket.Hub
	metrics  *telemetry.Metrics
}

func main() {
	// Load .env file if it exists (ignore error if not found)
	envErr := godotenv.Load()

	cmd := newRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", envErr)
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "deliverybot",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   "localhost",
				Usage:   "HTTP server host",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.StringFlag{
				Name:    "levels-dir",
				Value:   "levels",
				Usage:   "Directory containing level packs (.json, .yaml)",
				Sources: cli.EnvVars("LEVELS_DIR"),
			},
			&cli.StringFlag{
				Name:    "static-dir",
				Usage:   "Serve a browser client from this directory at /",
				Sources: cli.EnvVars("STATIC_DIR"),
			},
			&cli.DurationFlag{
				Name:    "step-interval",
				Value:   engine.DefaultStepInterval,
				Usage:   "Pause between replayed program steps",
				Sources: cli.EnvVars("STEP_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "random-levels",
				Value:   true,
				Usage:   "Draw levels at random instead of in pack order",
				Sources: cli.EnvVars("RANDOM_LEVELS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "trace, debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "console",
				Usage:   "console or json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "Enable ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "Ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "Custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run HTTP server with API, WebSocket, and MCP endpoint",
				Action:  serveAction,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action:  mcpAction,
			},
		},
		Action: serveAction,
	}
}

func optionsFrom(cmd *cli.Command) options {
	return options{
		Host:         cmd.String("host"),
		Port:         int(cmd.Int("port")),
		LevelsDir:    cmd.String("levels-dir"),
		StaticDir:    cmd.String("static-dir"),
		StepInterval: cmd.Duration("step-interval"),
		RandomLevels: cmd.Bool("random-levels"),
		LogLevel:     cmd.String("log-level"),
		LogFormat:    cmd.String("log-format"),
		NgrokEnabled: cmd.Bool("ngrok"),
		NgrokAuth:    cmd.String("ngrok-auth"),
		NgrokDomain:  cmd.String("ngrok-domain"),
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	opts := optionsFrom(cmd)
	logger := telemetry.NewLogger(telemetry.LoggingConfig{Level: opts.LogLevel, Format: opts.LogFormat})
	logger.Info().Str("version", Version).Str("mode", "serve").Msgf("Starting %s", AppName)

	svc, err := initializeServices(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return runHTTPServer(ctx, opts, svc, logger)
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	opts := optionsFrom(cmd)
	// stdout carries the protocol, so logs go to stderr as JSON
	logger := telemetry.NewLogger(telemetry.LoggingConfig{Level: opts.LogLevel, Format: "json"})
	logger.Info().Str("version", Version).Str("mode", "mcp").Msgf("Starting %s", AppName)

	return runStdioMCPWithInternalServer(ctx, opts, logger)
}

// initializeServices wires the level and session managers, the WebSocket hub
// and the game service. It also starts the background routines that prune
// stale sessions and reload edited level packs; both stop with ctx.
func initializeServices(ctx context.Context, opts options, logger zerolog.Logger) (*services, error) {
	metrics := telemetry.NewMetrics()

	levels, err := config.NewManager(opts.LevelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create level manager: %w", err)
	}
	levels.WithLogger(telemetry.Component(logger, "levels"))

	sessions := session.NewManager().WithLogger(telemetry.Component(logger, "sessions"))

	hub := websocket.NewHub(
		websocket.WithLogger(telemetry.Component(logger, "websocket")),
		websocket.WithMetrics(metrics),
	)

	picker := engine.SequentialPicker()
	if opts.RandomLevels {
		picker = engine.RandomPicker()
	}

	gameService := service.NewGameService(sessions, levels,
		service.WithPublisher(hub),
		service.WithLogger(telemetry.Component(logger, "service")),
		service.WithMetrics(metrics),
		service.WithStepInterval(opts.StepInterval),
		service.WithPicker(picker),
	)

	// Socket commands never wait: a replay reports its steps as events
	hub.SetCommandHandler(func(ctx context.Context, sessionID, command string) (interface{}, error) {
		return gameService.Submit(ctx, sessionID, command, false)
	})

	go hub.Run(ctx)
	go sessions.RunJanitor(ctx, sessionCleanupInterval, sessionMaxAge)

	if err := levels.Watch(ctx, func(packID string) {
		logger.Info().Str("pack", packID).Msg("level pack changed on disk")
	}); err != nil {
		logger.Warn().Err(err).Msg("level hot reload disabled")
	}

	return &services{
		game:     gameService,
		levels:   levels,
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
	}, nil
}

// newRouter mounts the API server and the /mcp endpoint
func newRouter(opts options, svc *services, logger zerolog.Logger, baseURL string) http.Handler {
	apiServer := api.NewServer(svc.game, svc.hub,
		api.WithLogger(telemetry.Component(logger, "api")),
		api.WithMetrics(svc.metrics),
		api.WithStaticDir(opts.StaticDir),
	)

	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// runHTTPServer serves REST, WebSocket and /mcp until ctx is cancelled.
// If ngrok is enabled it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, opts options, svc *services, logger zerolog.Logger) error {
	addr := opts.addr()
	handler := newRouter(opts, svc, logger, "http://"+addr)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Long enough for a waited program replay
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info().
			Str("addr", addr).
			Str("api", fmt.Sprintf("http://%s/api", addr)).
			Str("websocket", fmt.Sprintf("ws://%s/ws?session=<session_id>", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	if opts.NgrokEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, opts, handler, logger)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case err = <-serveErr:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("HTTP server shutdown error")
	}

	wg.Wait()
	logger.Info().Msg("Server stopped")
	return err
}

func runNgrok(ctx context.Context, opts options, handler http.Handler, logger zerolog.Logger) {
	if opts.NgrokAuth == "" {
		logger.Warn().Msg("Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	logger.Info().Msg("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if opts.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(opts.NgrokDomain))
		logger.Info().Str("domain", opts.NgrokDomain).Msg("Using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(opts.NgrokAuth))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close ngrok tunnel")
		}
	}()

	ngrokURL := tun.URL()
	logger.Info().
		Str("url", ngrokURL).
		Str("api", ngrokURL+"/api").
		Str("websocket", ngrokURL+"/ws?session=<session_id>").
		Str("mcp", ngrokURL+"/mcp").
		Msg("Ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("Ngrok server error")
	}
	logger.Info().Msg("Ngrok tunnel closed")
}

// externalAPIAvailable reports whether an API server already answers at baseURL
func externalAPIAvailable(baseURL string) bool {
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It reuses an API server already running at the configured address; if none
// answers, it starts an internal HTTP API on a random loopback port.
func runStdioMCPWithInternalServer(ctx context.Context, opts options, logger zerolog.Logger) error {
	externalURL := "http://" + opts.addr()
	baseURL := externalURL

	logger.Info().Str("url", externalURL).Msg("Checking for external API server")

	if externalAPIAvailable(externalURL) {
		logger.Info().Str("url", externalURL).Msg("External API server found, using it for MCP")
	} else {
		logger.Info().Msg("No external API server found, starting internal HTTP server")

		svc, err := initializeServices(ctx, opts, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		internalAddr := listener.Addr().String()
		baseURL = "http://" + internalAddr

		httpServer := &http.Server{Handler: newRouter(opts, svc, logger, baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Internal HTTP server error")
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()

		logger.Info().Str("addr", internalAddr).Msg("Internal HTTP server started for MCP stdio")
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info().Str("api", baseURL).Msg("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
