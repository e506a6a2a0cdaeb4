package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/solver"
	"github.com/wricardo/deliverybot/telemetry"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions  SessionManager
	levels    LevelManager
	publisher EventPublisher
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	stepInterval time.Duration
	picker       engine.Picker
	hintLimit    int
}

// Option configures the game service
type Option func(*gameServiceImpl)

// WithPublisher forwards every engine event of every session to p
func WithPublisher(p EventPublisher) Option {
	return func(s *gameServiceImpl) { s.publisher = p }
}

// WithLogger sets the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *gameServiceImpl) { s.logger = l }
}

// WithMetrics sets where action and replay counters are recorded
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *gameServiceImpl) { s.metrics = m }
}

// WithStepInterval sets the replay pause for new sessions
func WithStepInterval(d time.Duration) Option {
	return func(s *gameServiceImpl) { s.stepInterval = d }
}

// WithPicker sets how new sessions choose levels
func WithPicker(p engine.Picker) Option {
	return func(s *gameServiceImpl) { s.picker = p }
}

// WithHintLimit bounds the number of states a hint search may visit
func WithHintLimit(n int) Option {
	return func(s *gameServiceImpl) { s.hintLimit = n }
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, levels LevelManager, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions:     sessions,
		levels:       levels,
		logger:       zerolog.Nop(),
		stepInterval: engine.DefaultStepInterval,
		hintLimit:    solver.DefaultMaxStates,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a new game session
func (s *gameServiceImpl) CreateSession(ctx context.Context, packName string, mode engine.Mode) (*SessionInfo, error) {
	pack, err := s.resolvePack(packName)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = engine.ModeImmediate
	}

	opts := []engine.Option{engine.WithMode(mode), engine.WithStepInterval(s.stepInterval)}
	if s.picker != nil {
		opts = append(opts, engine.WithPicker(s.picker))
	}

	// Let session manager generate a proper 4-character ID
	sess, err := s.sessions.Create("", pack, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if s.publisher != nil {
		id := sess.ID
		sess.Engine.SetEventSink(engine.SinkFunc(func(ev engine.Event) {
			s.publisher.PublishEvent(id, ev)
		}))
	}

	s.metrics.SetActiveSessions(len(s.sessions.List()))
	s.logger.Info().Str("session", sess.ID).Str("pack", pack.Name).Str("mode", string(mode)).Msg("session created")
	return s.sessionInfo(sess), nil
}

func (s *gameServiceImpl) resolvePack(packName string) (*engine.LevelPack, error) {
	if packName == "" {
		return s.levels.GetDefault(), nil
	}
	pack, err := s.levels.LoadPack(packName)
	if err == nil {
		return pack, nil
	}
	// Provide helpful error message with available options
	if infos, listErr := s.levels.ListPacks(); listErr == nil && len(infos) > 0 {
		ids := make([]string, 0, len(infos))
		for _, info := range infos {
			ids = append(ids, info.PackID)
		}
		return nil, fmt.Errorf("failed to load level pack '%s' (available: %v): %w", packName, ids, err)
	}
	return nil, fmt.Errorf("failed to load level pack '%s': %w", packName, err)
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionInfo(sess), nil
}

// ListSessions returns all active sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.sessionInfo(sess))
	}
	return result, nil
}

// DeleteSession removes a session. A running replay is cancelled first.
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if sess.Engine.IsReplaying() {
		sess.Engine.Reset()
	}
	if err := s.sessions.Delete(sessionID); err != nil {
		return err
	}
	s.metrics.SetActiveSessions(len(s.sessions.List()))
	s.logger.Info().Str("session", sessionID).Msg("session deleted")
	return nil
}

// unknownCommand labels unparsed words in metrics; client text never becomes a label
const unknownCommand = "unknown"

// Submit executes one command word. In program mode a finish starts the
// replay; with wait unset it runs in the background and Replaying is reported.
func (s *gameServiceImpl) Submit(ctx context.Context, sessionID, command string, wait bool) (*CommandResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	action, ok := engine.ParseCommand(command)
	if !ok {
		s.metrics.RecordAction(string(sess.Engine.GetMode()), unknownCommand, "ignored")
		return &CommandResult{
			Command:   command,
			Ignored:   true,
			GameState: s.enrich(sess.Engine.GetState()),
		}, nil
	}

	if action == engine.Finish && sess.Engine.GetMode() == engine.ModeProgram && !wait {
		if err := s.startReplay(ctx, sess); err != nil {
			return nil, err
		}
		return &CommandResult{
			Command:   action.String(),
			Accepted:  true,
			Replaying: true,
			GameState: s.enrich(sess.Engine.GetState()),
		}, nil
	}

	before := sess.Engine.GetState().Vehicle
	out, err := s.submit(ctx, sess, action)
	if err != nil {
		return nil, err
	}

	result := &CommandResult{
		Command:       action.String(),
		Accepted:      out.Accepted,
		Error:         out.Failure,
		LevelComplete: out.LevelComplete,
		Replay:        out.Replay,
		Message:       out.Message,
		GameState:     s.enrich(sess.Engine.GetState()),
	}
	if out.Mode == engine.ModeImmediate && action.Recordable() {
		step := stepInfo(1, action, before, out)
		result.Step = &step
	}
	return result, nil
}

// SubmitBatch executes commands in order and stops on the first rejection
func (s *gameServiceImpl) SubmitBatch(ctx context.Context, sessionID string, commands []string, wait bool) (*BatchResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		RequestedCommands: len(commands),
		Success:           true,
	}

	// Limit commands to prevent abuse
	if len(commands) > MaxBatchCommands {
		result.Truncated = true
		result.Limit = MaxBatchCommands
		commands = commands[:MaxBatchCommands]
	}

	for i, word := range commands {
		action, ok := engine.ParseCommand(word)
		if !ok {
			result.Ignored++
			s.metrics.RecordAction(string(sess.Engine.GetMode()), unknownCommand, "ignored")
			continue
		}

		if action == engine.Finish && sess.Engine.GetMode() == engine.ModeProgram && !wait {
			if err := s.startReplay(ctx, sess); err != nil {
				if errors.Is(err, engine.ErrReplayInProgress) {
					s.stopBatch(result, i, "replay_in_progress", err.Error())
					break
				}
				return nil, err
			}
			result.Executed++
			result.Replaying = true
			if i < len(commands)-1 {
				s.stopBatch(result, i+1, "replay_in_progress", "commands after finish are not accepted while the program runs")
			}
			break
		}

		before := sess.Engine.GetState().Vehicle
		out, err := s.submit(ctx, sess, action)
		if errors.Is(err, engine.ErrReplayInProgress) {
			s.stopBatch(result, i, "replay_in_progress", err.Error())
			break
		}
		if err != nil {
			return nil, err
		}

		if out.Mode == engine.ModeImmediate && action.Recordable() {
			result.Steps = append(result.Steps, stepInfo(i+1, action, before, out))
		}
		if out.Failure != nil {
			s.stopBatch(result, i, string(out.Failure.Kind), fmt.Sprintf("command %d (%s) rejected: %s", i+1, action, out.Failure.Message))
			result.Replay = out.Replay
			break
		}
		result.Executed++

		if out.LevelComplete {
			result.LevelComplete = true
			result.Replay = out.Replay
			if i < len(commands)-1 {
				s.stopBatch(result, i+1, "level_complete", "level complete; remaining commands were not run")
				result.Success = true
			}
			break
		}
	}

	result.GameState = s.enrich(sess.Engine.GetState())
	return result, nil
}

func (s *gameServiceImpl) stopBatch(result *BatchResult, idx int, code, reason string) {
	result.Success = false
	result.StoppedOnCommand = idx + 1
	result.StopReasonCode = code
	result.StoppedReason = reason
}

// submit runs one action through the engine and records its metrics
func (s *gameServiceImpl) submit(ctx context.Context, sess *Session, action engine.Action) (*engine.Outcome, error) {
	mode := string(sess.Engine.GetMode())
	start := time.Now()

	out, err := sess.Engine.Submit(ctx, action)
	if errors.Is(err, engine.ErrReplayInProgress) {
		return nil, err
	}
	if out != nil && out.Replay != nil {
		s.observeReplay(sess.ID, out, err, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}

	switch {
	case out.Failure != nil:
		s.metrics.RecordAction(mode, action.String(), "rejected")
		s.metrics.RecordRejection(string(out.Failure.Kind))
		s.logger.Debug().Str("session", sess.ID).Str("action", action.String()).Str("kind", string(out.Failure.Kind)).Msg("action rejected")
	case out.Accepted:
		s.metrics.RecordAction(mode, action.String(), "accepted")
	default:
		s.metrics.RecordAction(mode, action.String(), "ignored")
	}
	if out.LevelComplete {
		s.metrics.RecordLevelComplete(mode)
		s.logger.Info().Str("session", sess.ID).Int("completions", sess.Engine.Completions()).Msg("level complete")
	}
	return out, nil
}

// startReplay launches the program in the background. The replay outlives
// the request that started it, so only the context's values are kept.
func (s *gameServiceImpl) startReplay(ctx context.Context, sess *Session) error {
	start := time.Now()
	done, err := sess.Engine.StartReplay(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	s.metrics.RecordAction(string(engine.ModeProgram), engine.Finish.String(), "accepted")
	s.logger.Info().Str("session", sess.ID).Int("steps", len(sess.Engine.GetProgram())).Msg("replay started")

	go func() {
		res := <-done
		if res.Outcome == nil {
			s.logger.Error().Err(res.Err).Str("session", sess.ID).Msg("replay ended without outcome")
			return
		}
		s.observeReplay(sess.ID, res.Outcome, res.Err, time.Since(start))
		if res.Outcome.LevelComplete {
			s.metrics.RecordLevelComplete(string(engine.ModeProgram))
		}
	}()
	return nil
}

func (s *gameServiceImpl) observeReplay(sessionID string, out *engine.Outcome, err error, d time.Duration) {
	report := out.Replay
	log := s.logger.With().Str("session", sessionID).Str("replay", report.ID).Int("steps", report.Steps).Int("executed", report.Executed).Logger()

	switch {
	case report.Cancelled || err != nil:
		s.metrics.RecordReplay("cancelled", d)
		log.Info().Err(err).Msg("replay cancelled")
	case report.Failure != nil:
		s.metrics.RecordReplay("aborted", d)
		s.metrics.RecordRejection(string(report.Failure.Kind))
		log.Info().Int("failed_step", report.FailedStep).Str("kind", string(report.Failure.Kind)).Msg("replay aborted")
	default:
		s.metrics.RecordReplay("completed", d)
		log.Info().Dur("duration", d).Msg("replay completed")
	}
}

// SetMode switches a session between immediate and program mode
func (s *gameServiceImpl) SetMode(ctx context.Context, sessionID string, mode engine.Mode) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.SetMode(mode); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session", sessionID).Str("mode", string(mode)).Msg("mode changed")
	return s.enrich(sess.Engine.GetState()), nil
}

// Reset resets a game session to the start of its level
func (s *gameServiceImpl) Reset(ctx context.Context, sessionID string) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.enrich(sess.Engine.Reset()), nil
}

// NextLevel abandons the current level and starts another from the pack
func (s *gameServiceImpl) NextLevel(ctx context.Context, sessionID string) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.enrich(sess.Engine.NextLevel()), nil
}

// GetGameState retrieves the current game state
func (s *gameServiceImpl) GetGameState(ctx context.Context, sessionID string) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.enrich(sess.Engine.GetState()), nil
}

// GetHistory returns paginated move history
func (s *gameServiceImpl) GetHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	history := sess.Engine.GetHistory()
	total := len(history)

	// Apply defaults
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	// Calculate pagination
	totalPages := (total + opts.Limit - 1) / opts.Limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (opts.Page - 1) * opts.Limit
	end := start + opts.Limit
	if end > total {
		end = total
	}

	moves := []engine.HistoryEntry{}
	if opts.Order == "desc" {
		// Most recent first
		for i := total - 1 - start; i >= 0 && i >= total-end; i-- {
			moves = append(moves, history[i])
		}
	} else if start < total {
		moves = history[start:end]
	}

	mode := sess.Engine.GetMode()
	resp := &HistoryResponse{
		Mode:        mode,
		Moves:       moves,
		TotalMoves:  total,
		Page:        opts.Page,
		PageSize:    opts.Limit,
		TotalPages:  totalPages,
		HasNext:     opts.Page < totalPages,
		HasPrevious: opts.Page > 1,
	}
	if mode == engine.ModeProgram {
		resp.Program = sess.Engine.GetProgram()
	}
	return resp, nil
}

// Hint searches for a shortest command sequence that clears the level.
// In program mode the search starts at the origin, as a replay would.
func (s *gameServiceImpl) Hint(ctx context.Context, sessionID string) (*HintResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Engine.IsReplaying() {
		return nil, engine.ErrReplayInProgress
	}

	from := "current"
	if sess.Engine.GetMode() == engine.ModeProgram {
		from = "start"
	}
	v, m := sess.Engine.Fork()
	res, err := solver.SolveFrom(v, m, solver.Options{MaxStates: s.hintLimit})
	if err != nil {
		return nil, fmt.Errorf("no hint available: %w", err)
	}
	words := res.Words()
	return &HintResult{
		Commands: words,
		Length:   len(words),
		Explored: res.Explored,
		From:     from,
	}, nil
}

// ListLevelPacks returns available level packs
func (s *gameServiceImpl) ListLevelPacks(ctx context.Context) ([]*LevelPackInfo, error) {
	return s.levels.ListPacks()
}

// LoadLevelPack loads a specific level pack
func (s *gameServiceImpl) LoadLevelPack(ctx context.Context, name string) (*engine.LevelPack, error) {
	return s.levels.LoadPack(name)
}

// SaveLevelPack validates and saves a level pack to disk
func (s *gameServiceImpl) SaveLevelPack(ctx context.Context, name string, pack *engine.LevelPack) error {
	if err := engine.ValidateLevelPack(pack); err != nil {
		return err
	}
	return s.levels.SavePack(name, pack)
}

func (s *gameServiceImpl) session(id string) (*Session, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	s.sessions.UpdateLastAccessed(id)
	return sess, nil
}

func (s *gameServiceImpl) sessionInfo(sess *Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		PackName:       sess.Pack.Name,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		GameState:      s.enrich(sess.Engine.GetState()),
	}
}

func (s *gameServiceImpl) enrich(state *engine.GameState) *engine.GameState {
	if state != nil {
		state.Grid = RenderGrid(state)
	}
	return state
}

func stepInfo(idx int, a engine.Action, before engine.VehicleSnapshot, out *engine.Outcome) StepInfo {
	return StepInfo{
		Idx:      idx,
		Command:  a.String(),
		From:     before.Position,
		To:       out.Vehicle.Position,
		Heading:  out.Vehicle.Heading,
		Carrying: out.Vehicle.Carrying,
		Accepted: out.Accepted,
	}
}

// Grid glyphs
const (
	glyphFree      = '.'
	glyphObstacle  = '#'
	glyphDelivered = '*'
)

// VehicleGlyph returns the arrow for a heading. Rows grow downward.
func VehicleGlyph(heading int) rune {
	switch engine.NormalizeHeading(heading) {
	case 0:
		return 'v'
	case 90:
		return '>'
	case 180:
		return '^'
	case 270:
		return '<'
	default:
		return '@'
	}
}

// objectGlyph uses the color initial: upper case at a pickup, lower case at a drop-off
func objectGlyph(c engine.Color, start bool) rune {
	if c == "" {
		return '?'
	}
	r := rune(strings.ToUpper(string(c))[0])
	if !start {
		r = rune(strings.ToLower(string(c))[0])
	}
	return r
}

// RenderGrid draws the map one string per row
func RenderGrid(state *engine.GameState) []string {
	size := state.Map.Size
	if size.Rows <= 0 || size.Cols <= 0 {
		return nil
	}
	cells := make([][]rune, size.Rows)
	for r := range cells {
		cells[r] = []rune(strings.Repeat(string(glyphFree), size.Cols))
	}
	set := func(c engine.Cell, g rune) {
		if engine.InBounds(c, size) {
			cells[c.Row][c.Col] = g
		}
	}

	for _, o := range state.Map.Obstacles {
		set(o, glyphObstacle)
	}
	for _, obj := range state.Map.Objects {
		if obj.Completed {
			set(obj.End, glyphDelivered)
			continue
		}
		set(obj.End, objectGlyph(obj.Color, false))
		if !obj.Carried {
			set(obj.Start, objectGlyph(obj.Color, true))
		}
	}
	set(state.Vehicle.Position, VehicleGlyph(state.Vehicle.Heading))

	lines := make([]string, size.Rows)
	for r, row := range cells {
		lines[r] = string(row)
	}
	return lines
}
