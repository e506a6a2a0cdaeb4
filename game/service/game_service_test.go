package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
	"github.com/wricardo/deliverybot/telemetry"
)

// MockSessionManager implements service.SessionManager for testing
type MockSessionManager struct {
	mu       sync.Mutex
	sessions map[string]*service.Session
}

func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{
		sessions: make(map[string]*service.Session),
	}
}

func (m *MockSessionManager) Create(id string, pack *engine.LevelPack, opts ...engine.Option) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Generate ID if empty (mimics real session manager behavior)
	if id == "" {
		id = fmt.Sprintf("test_%d", len(m.sessions)+1)
	}
	if _, exists := m.sessions[id]; exists {
		return nil, errors.New("session already exists")
	}

	eng, err := engine.NewEngine(pack, opts...)
	if err != nil {
		return nil, err
	}

	session := &service.Session{
		ID:             id,
		Engine:         eng,
		Pack:           pack,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
	}
	m.sessions[id] = session
	return session, nil
}

func (m *MockSessionManager) Get(id string) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.sessions[id]
	if !exists {
		return nil, errors.New("session not found")
	}
	return session, nil
}

func (m *MockSessionManager) List() []*service.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*service.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

func (m *MockSessionManager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MockSessionManager) UpdateLastAccessed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, exists := m.sessions[id]; exists {
		session.LastAccessedAt = time.Now()
		return nil
	}
	return errors.New("session not found")
}

// MockLevelManager implements service.LevelManager for testing
type MockLevelManager struct {
	packs map[string]*engine.LevelPack
}

// tinyPack has one 3x3 level with an object right below the origin
func tinyPack() *engine.LevelPack {
	return &engine.LevelPack{
		Name: "tiny",
		Levels: []engine.LevelRecord{{
			Size:      [2]int{3, 3},
			Obstacles: [][2]int{{1, 1}},
			Objects:   [][2][2]int{{{1, 0}, {2, 0}}},
		}},
	}
}

func NewMockLevelManager() *MockLevelManager {
	return &MockLevelManager{
		packs: map[string]*engine.LevelPack{"tiny": tinyPack()},
	}
}

func (m *MockLevelManager) LoadPack(name string) (*engine.LevelPack, error) {
	if pack, ok := m.packs[name]; ok {
		return pack, nil
	}
	return nil, errors.New("level pack not found")
}

func (m *MockLevelManager) ListPacks() ([]*service.LevelPackInfo, error) {
	var infos []*service.LevelPackInfo
	for id, pack := range m.packs {
		infos = append(infos, &service.LevelPackInfo{
			Filename:   id + ".json",
			PackID:     id,
			Name:       pack.Name,
			LevelCount: len(pack.Levels),
			Format:     "json",
		})
	}
	return infos, nil
}

func (m *MockLevelManager) GetDefault() *engine.LevelPack {
	return m.packs["tiny"]
}

func (m *MockLevelManager) SavePack(name string, pack *engine.LevelPack) error {
	m.packs[name] = pack
	return nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []engine.Event
}

func (p *recordingPublisher) PublishEvent(sessionID string, ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []engine.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []engine.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var solution = []string{"forward", "function", "forward", "function", "right", "right", "forward", "forward", "finish"}

func newTestService(opts ...service.Option) (service.GameService, *MockLevelManager) {
	levels := NewMockLevelManager()
	opts = append([]service.Option{service.WithStepInterval(time.Millisecond)}, opts...)
	return service.NewGameService(NewMockSessionManager(), levels, opts...), levels
}

func createSession(t *testing.T, svc service.GameService, mode engine.Mode) string {
	t.Helper()
	info, err := svc.CreateSession(context.Background(), "", mode)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return info.ID
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	info, err := svc.CreateSession(ctx, "", "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if info.PackName != "tiny" {
		t.Errorf("Expected default pack tiny, got %s", info.PackName)
	}
	if info.GameState.Mode != engine.ModeImmediate {
		t.Errorf("Expected immediate mode by default, got %s", info.GameState.Mode)
	}
	if len(info.GameState.Grid) != 3 || info.GameState.Grid[0] != "v.." {
		t.Errorf("Unexpected grid %q", info.GameState.Grid)
	}

	_, err = svc.CreateSession(ctx, "missing", "")
	if err == nil || !strings.Contains(err.Error(), "available: [tiny]") {
		t.Errorf("Expected error listing available packs, got %v", err)
	}

	sessions, _ := svc.ListSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}
}

func TestDeleteSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeImmediate)

	if err := svc.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := svc.GetSession(ctx, id); err == nil {
		t.Error("Expected deleted session to be gone")
	}
	if err := svc.DeleteSession(ctx, id); err == nil {
		t.Error("Expected error deleting a missing session")
	}
}

func TestSubmitImmediate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeImmediate)

	tests := []struct {
		command      string
		wantIgnored  bool
		wantAccepted bool
		wantKind     engine.ErrorKind
	}{
		{command: "jump", wantIgnored: true},
		{command: "forward", wantAccepted: true},
		{command: "left", wantKind: engine.KindPickupRequired},
		{command: "function", wantAccepted: true},
		{command: "FINISH", wantKind: engine.KindNotAtOrigin},
	}

	for _, tt := range tests {
		res, err := svc.Submit(ctx, id, tt.command, false)
		if err != nil {
			t.Fatalf("%s: %v", tt.command, err)
		}
		if res.Ignored != tt.wantIgnored || res.Accepted != tt.wantAccepted {
			t.Errorf("%s: expected ignored=%v accepted=%v, got %+v", tt.command, tt.wantIgnored, tt.wantAccepted, res)
		}
		if tt.wantKind != "" && (res.Error == nil || res.Error.Kind != tt.wantKind) {
			t.Errorf("%s: expected %s, got %+v", tt.command, tt.wantKind, res.Error)
		}
	}

	res, _ := svc.Submit(ctx, id, "forward", false)
	if res.Step == nil || res.Step.From != (engine.Cell{Row: 1, Col: 0}) || res.Step.To != (engine.Cell{Row: 2, Col: 0}) {
		t.Errorf("Unexpected step %+v", res.Step)
	}
	if !res.Step.Carrying {
		t.Error("Expected the vehicle to be carrying")
	}
}

func actionSeries(t *testing.T, m *telemetry.Metrics) int {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "deliverybot_actions_total" {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestIgnoredCommandsShareOneSeries(t *testing.T) {
	metrics := telemetry.NewMetrics()
	svc, _ := newTestService(service.WithMetrics(metrics))
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeImmediate)

	for i := 0; i < 50; i++ {
		if _, err := svc.Submit(ctx, id, fmt.Sprintf("junk-%d", i), false); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	words := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		words = append(words, fmt.Sprintf("batch-junk-%d", i))
	}
	if _, err := svc.SubmitBatch(ctx, id, words, false); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	if n := actionSeries(t, metrics); n != 1 {
		t.Errorf("Expected a single ignored series, got %d", n)
	}
}

func TestSubmitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("stops on rejection", func(t *testing.T) {
		svc, _ := newTestService()
		id := createSession(t, svc, engine.ModeImmediate)

		res, err := svc.SubmitBatch(ctx, id, []string{"forward", "bogus", "left", "forward"}, false)
		if err != nil {
			t.Fatalf("SubmitBatch: %v", err)
		}
		if res.Success || res.StoppedOnCommand != 3 || res.StopReasonCode != string(engine.KindPickupRequired) {
			t.Errorf("Expected stop at command 3, got %+v", res)
		}
		if res.Executed != 1 || res.Ignored != 1 {
			t.Errorf("Expected 1 executed and 1 ignored, got %d/%d", res.Executed, res.Ignored)
		}
		if len(res.Steps) != 2 || res.Steps[1].Accepted {
			t.Errorf("Expected the rejected step to be listed, got %+v", res.Steps)
		}
	})

	t.Run("stops at level complete", func(t *testing.T) {
		svc, _ := newTestService()
		id := createSession(t, svc, engine.ModeImmediate)

		res, err := svc.SubmitBatch(ctx, id, append(append([]string{}, solution...), "forward"), false)
		if err != nil {
			t.Fatalf("SubmitBatch: %v", err)
		}
		if !res.LevelComplete || !res.Success || res.StopReasonCode != "level_complete" {
			t.Errorf("Expected a successful level complete, got %+v", res)
		}
		if res.GameState.Completions != 1 || res.GameState.Message != engine.ClearMessage {
			t.Errorf("Unexpected state after completion: %+v", res.GameState)
		}
	})

	t.Run("truncates long batches", func(t *testing.T) {
		svc, _ := newTestService()
		id := createSession(t, svc, engine.ModeImmediate)

		commands := make([]string, service.MaxBatchCommands+5)
		for i := range commands {
			commands[i] = "left"
		}
		res, err := svc.SubmitBatch(ctx, id, commands, false)
		if err != nil {
			t.Fatalf("SubmitBatch: %v", err)
		}
		if !res.Truncated || res.Limit != service.MaxBatchCommands || res.Executed != service.MaxBatchCommands {
			t.Errorf("Expected truncation to %d, got %+v", service.MaxBatchCommands, res)
		}
	})
}

func TestProgramModeWaitsForReplay(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeProgram)

	// A bad program is recorded without complaint and fails on replay
	res, err := svc.SubmitBatch(ctx, id, []string{"left", "forward", "finish"}, true)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if res.Success || res.Replay == nil || res.Replay.Failure == nil {
		t.Fatalf("Expected an aborted replay, got %+v", res)
	}
	if res.Replay.Failure.Kind != engine.KindOutOfBounds || res.Replay.FailedStep != 2 {
		t.Errorf("Expected out_of_bounds at step 2, got %+v", res.Replay)
	}
	if len(res.GameState.Program) != 0 {
		t.Errorf("Expected the program to be cleared, got %v", res.GameState.Program)
	}

	res, err = svc.SubmitBatch(ctx, id, solution, true)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if !res.LevelComplete || res.Replay == nil || res.Replay.Executed != res.Replay.Steps {
		t.Errorf("Expected a completed replay, got %+v", res)
	}
}

func TestProgramModeBackgroundReplay(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(service.WithPublisher(pub))
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeProgram)

	res, err := svc.SubmitBatch(ctx, id, append(append([]string{}, solution...), "left"), false)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if !res.Replaying || res.StopReasonCode != "replay_in_progress" || res.StoppedOnCommand != len(solution)+1 {
		t.Errorf("Expected a background replay and a stop after finish, got %+v", res)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, err := svc.GetGameState(ctx, id)
		if err != nil {
			t.Fatalf("GetGameState: %v", err)
		}
		if state.Completions == 1 && state.Phase != engine.PhaseReplaying {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Replay did not finish, state %+v", state)
		}
		time.Sleep(5 * time.Millisecond)
	}

	types := pub.types()
	for _, want := range []engine.EventType{engine.EventReplayStarted, engine.EventLevelComplete} {
		found := false
		for _, got := range types {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s among published events %v", want, types)
		}
	}
}

func TestHint(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id := createSession(t, svc, engine.ModeImmediate)
	hint, err := svc.Hint(ctx, id)
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if hint.From != "current" || hint.Length != len(solution) || hint.Commands[hint.Length-1] != "finish" {
		t.Errorf("Unexpected hint %+v", hint)
	}

	// After moving the hint continues from where the vehicle stands
	svc.SubmitBatch(ctx, id, []string{"forward", "function"}, false)
	hint, err = svc.Hint(ctx, id)
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if hint.Length != len(solution)-2 {
		t.Errorf("Expected a shorter hint, got %v", hint.Commands)
	}

	prog := createSession(t, svc, engine.ModeProgram)
	hint, err = svc.Hint(ctx, prog)
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if hint.From != "start" {
		t.Errorf("Expected program hints from the start, got %s", hint.From)
	}
}

func TestGetHistory(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeImmediate)

	svc.SubmitBatch(ctx, id, []string{"forward", "function", "forward"}, false)

	tests := []struct {
		name      string
		opts      service.HistoryOptions
		wantMoves int
		wantFirst engine.Action
		wantNext  bool
	}{
		{name: "defaults", opts: service.HistoryOptions{}, wantMoves: 3, wantFirst: engine.Forward},
		{name: "desc page 1", opts: service.HistoryOptions{Page: 1, Limit: 2, Order: "desc"}, wantMoves: 2, wantFirst: engine.Forward, wantNext: true},
		{name: "asc page 2", opts: service.HistoryOptions{Page: 2, Limit: 2, Order: "asc"}, wantMoves: 1, wantFirst: engine.Forward},
		{name: "asc page 1", opts: service.HistoryOptions{Page: 1, Limit: 2, Order: "asc"}, wantMoves: 2, wantFirst: engine.Forward, wantNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.GetHistory(ctx, id, tt.opts)
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(resp.Moves) != tt.wantMoves || resp.TotalMoves != 3 {
				t.Fatalf("Expected %d of 3 moves, got %d of %d", tt.wantMoves, len(resp.Moves), resp.TotalMoves)
			}
			if resp.Moves[0].Action != tt.wantFirst {
				t.Errorf("Expected first move %s, got %s", tt.wantFirst, resp.Moves[0].Action)
			}
			if resp.HasNext != tt.wantNext {
				t.Errorf("Expected HasNext=%v", tt.wantNext)
			}
		})
	}
}

func TestProgramHistory(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeProgram)

	svc.SubmitBatch(ctx, id, []string{"forward", "left", "delete"}, false)

	resp, err := svc.GetHistory(ctx, id, service.HistoryOptions{})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if resp.Mode != engine.ModeProgram || len(resp.Program) != 1 || resp.Program[0] != engine.Forward {
		t.Errorf("Expected program [forward], got %+v", resp)
	}
}

func TestModeResetAndNextLevel(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	id := createSession(t, svc, engine.ModeImmediate)

	svc.Submit(ctx, id, "forward", false)

	state, err := svc.SetMode(ctx, id, engine.ModeProgram)
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if state.Mode != engine.ModeProgram || state.Vehicle.Position != engine.Origin {
		t.Errorf("Expected program mode at the origin, got %+v", state)
	}
	if _, err := svc.SetMode(ctx, id, "turbo"); !errors.Is(err, engine.ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}

	svc.Submit(ctx, id, "left", false)
	state, err = svc.Reset(ctx, id)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(state.Program) != 0 {
		t.Errorf("Expected reset to clear the program, got %v", state.Program)
	}

	state, err = svc.NextLevel(ctx, id)
	if err != nil {
		t.Fatalf("NextLevel: %v", err)
	}
	if state.LevelCount != 1 || state.Mode != engine.ModeProgram {
		t.Errorf("Unexpected state after next level: %+v", state)
	}
}

func TestLevelPacks(t *testing.T) {
	svc, levels := newTestService()
	ctx := context.Background()

	if err := svc.SaveLevelPack(ctx, "empty", &engine.LevelPack{Name: "empty"}); !errors.Is(err, engine.ErrEmptyPack) {
		t.Errorf("Expected ErrEmptyPack, got %v", err)
	}

	pack := tinyPack()
	pack.Name = "copy"
	if err := svc.SaveLevelPack(ctx, "copy", pack); err != nil {
		t.Fatalf("SaveLevelPack: %v", err)
	}
	if _, ok := levels.packs["copy"]; !ok {
		t.Error("Expected the pack to be saved")
	}

	loaded, err := svc.LoadLevelPack(ctx, "copy")
	if err != nil || loaded.Name != "copy" {
		t.Errorf("LoadLevelPack: %v %+v", err, loaded)
	}
	infos, _ := svc.ListLevelPacks(ctx)
	if len(infos) != 2 {
		t.Errorf("Expected 2 packs, got %d", len(infos))
	}
}

func TestUnknownSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "nope", "forward", false); err == nil {
		t.Error("Expected error for unknown session")
	}
	if _, err := svc.GetGameState(ctx, "nope"); err == nil {
		t.Error("Expected error for unknown session")
	}
	if _, err := svc.Hint(ctx, "nope"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestRenderGrid(t *testing.T) {
	eng, err := engine.NewEngine(tinyPack())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	grid := service.RenderGrid(eng.GetState())
	if len(grid) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(grid))
	}
	if grid[0] != "v.." || grid[1][1] != '#' {
		t.Errorf("Unexpected grid %q", grid)
	}
	if grid[1][0] == '.' || grid[2][0] == '.' {
		t.Errorf("Expected object glyphs at its start and end, got %q", grid)
	}

	for heading, want := range map[int]rune{0: 'v', 90: '>', 180: '^', 270: '<', -90: '<'} {
		if got := service.VehicleGlyph(heading); got != want {
			t.Errorf("VehicleGlyph(%d) = %c, want %c", heading, got, want)
		}
	}
}
