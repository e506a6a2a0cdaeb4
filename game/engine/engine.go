package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine provides the main interface for game operations
type Engine interface {
	// Input
	Submit(ctx context.Context, a Action) (*Outcome, error)
	StartReplay(ctx context.Context) (<-chan ReplayResult, error)

	// Level and mode management
	SetMode(mode Mode) error
	Reset() *GameState
	NextLevel() *GameState
	LoadPack(pack *LevelPack) error

	// Read side
	GetState() *GameState
	GetHistory() []HistoryEntry
	GetProgram() []Action
	GetMode() Mode
	GetPhase() Phase
	IsReplaying() bool
	Completions() int
	Fork() (*Vehicle, *Map)

	SetEventSink(sink EventSink)
}

// Outcome is the result of one submitted action
type Outcome struct {
	Action        Action          `json:"action"`
	Accepted      bool            `json:"accepted"`
	Failure       *MoveError      `json:"failure,omitempty"`
	LevelComplete bool            `json:"level_complete"`
	Message       string          `json:"message,omitempty"`
	Mode          Mode            `json:"mode"`
	Phase         Phase           `json:"phase"`
	Vehicle       VehicleSnapshot `json:"vehicle"`
	Map           MapSnapshot     `json:"map"`
	HistoryLength int             `json:"history_length"`
	ProgramLength int             `json:"program_length"`
	Replay        *ReplayReport   `json:"replay,omitempty"`
}

// ReplayReport summarizes one program replay
type ReplayReport struct {
	ID         string     `json:"id"`
	Steps      int        `json:"steps"`
	Executed   int        `json:"executed"`
	FailedStep int        `json:"failed_step,omitempty"` // 1-based
	Failure    *MoveError `json:"failure,omitempty"`
	Cancelled  bool       `json:"cancelled,omitempty"`
}

// Option configures a GameEngine
type Option func(*GameEngine)

// WithEventSink sets where events are published
func WithEventSink(sink EventSink) Option {
	return func(e *GameEngine) { e.sink = sink }
}

// WithStepInterval sets the pause between replayed steps
func WithStepInterval(d time.Duration) Option {
	return func(e *GameEngine) { e.stepInterval = d }
}

// WithPicker sets how levels are chosen from the pack
func WithPicker(p Picker) Option {
	return func(e *GameEngine) { e.picker = p }
}

// WithMode sets the initial mode
func WithMode(m Mode) Option {
	return func(e *GameEngine) { e.mode = m }
}

var _ Engine = (*GameEngine)(nil)

// GameEngine implements the Engine interface
type GameEngine struct {
	mu sync.Mutex

	pack         *LevelPack
	levelIndex   int
	picker       Picker
	sink         EventSink
	stepInterval time.Duration

	mode        Mode
	phase       Phase
	vehicle     *Vehicle
	world       *Map
	history     []HistoryEntry
	program     []Action
	message     string
	completions int

	// generation changes on every full reset; a replay that sees a different
	// value than it started with has been interrupted.
	generation   uint64
	cancelReplay context.CancelFunc
}

// NewEngine creates an engine playing a level chosen from pack
func NewEngine(pack *LevelPack, opts ...Option) (*GameEngine, error) {
	if err := ValidateLevelPack(pack); err != nil {
		return nil, err
	}

	e := &GameEngine{
		pack:         pack,
		picker:       RandomPicker(),
		stepInterval: DefaultStepInterval,
		mode:         ModeImmediate,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mode != ModeImmediate && e.mode != ModeProgram {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, e.mode)
	}

	e.levelIndex = e.pickLevel()
	e.resetLevelLocked()
	return e, nil
}

// NewEngineWithDefaults creates an engine on the built-in level pack
func NewEngineWithDefaults(opts ...Option) *GameEngine {
	e, err := NewEngine(DefaultLevelPack(), opts...)
	if err != nil {
		panic(fmt.Sprintf("default level pack is invalid: %v", err))
	}
	return e
}

// Submit handles one action according to the current mode.
// Rule violations are reported in Outcome.Failure; the error return is
// reserved for ErrReplayInProgress, ErrReplayCancelled and context errors.
//
// In program mode Finish waits for the replay. If ctx ends first Submit
// returns ctx.Err() and the replay keeps running; only a reset stops it.
func (e *GameEngine) Submit(ctx context.Context, a Action) (*Outcome, error) {
	e.mu.Lock()
	if e.phase == PhaseReplaying {
		e.mu.Unlock()
		return nil, ErrReplayInProgress
	}
	if e.mode == ModeProgram && a == Finish {
		done := e.beginReplayLocked(ctx).start()
		select {
		case res := <-done:
			return res.Outcome, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer e.mu.Unlock()

	if e.mode == ModeProgram {
		return e.record(a), nil
	}
	return e.execute(a), nil
}

func (e *GameEngine) execute(a Action) *Outcome {
	switch {
	case a == DeleteLast:
		// Only the record is dropped; the world is not rewound.
		if n := len(e.history); n > 0 {
			e.history = e.history[:n-1]
		}
		e.emitLocked(Event{Type: EventHistoryChanged, Action: a.String()})
		return e.outcomeLocked(a, true, nil)

	case a == Finish:
		if err := ValidateFinish(e.vehicle.Snapshot(), e.world); err != nil {
			return e.rejectLocked(a, err)
		}
		return e.completeLevelLocked(a, nil)

	case a.Recordable():
		from := e.vehicle.Position()
		if err := Apply(e.vehicle, e.world, a); err != nil {
			return e.rejectLocked(a, err)
		}
		e.history = append(e.history, HistoryEntry{
			MoveNumber: len(e.history) + 1,
			Action:     a,
			From:       from,
			To:         e.vehicle.Position(),
			Heading:    e.vehicle.Heading(),
			Carrying:   e.vehicle.Carrying(),
			Timestamp:  time.Now().Unix(),
		})
		e.message = ""
		e.emitLocked(Event{Type: EventActionApplied, Action: a.String()})
		return e.outcomeLocked(a, true, nil)
	}

	return e.outcomeLocked(a, false, nil)
}

func (e *GameEngine) record(a Action) *Outcome {
	switch {
	case a.Recordable():
		e.program = append(e.program, a)
	case a == DeleteLast:
		if n := len(e.program); n > 0 {
			e.program = e.program[:n-1]
		}
	default:
		return e.outcomeLocked(a, false, nil)
	}
	e.emitLocked(Event{Type: EventProgramChanged, Action: a.String()})
	return e.outcomeLocked(a, true, nil)
}

// ReplayResult is delivered when an asynchronous replay ends
type ReplayResult struct {
	Outcome *Outcome
	Err     error
}

// StartReplay begins replaying the recorded program and returns at once.
// The engine is in PhaseReplaying when StartReplay returns without error.
func (e *GameEngine) StartReplay(ctx context.Context) (<-chan ReplayResult, error) {
	e.mu.Lock()
	if e.phase == PhaseReplaying {
		e.mu.Unlock()
		return nil, ErrReplayInProgress
	}
	if e.mode != ModeProgram {
		e.mu.Unlock()
		return nil, ErrNotProgramMode
	}
	return e.beginReplayLocked(ctx).start(), nil
}

type replayRun struct {
	e       *GameEngine
	program []Action
	report  *ReplayReport
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
}

// beginReplayLocked switches to PhaseReplaying. It is entered with e.mu held
// and returns with it released. The run keeps ctx's values but not its
// cancellation: resetLevelLocked is the only way to stop it.
func (e *GameEngine) beginReplayLocked(ctx context.Context) *replayRun {
	run := &replayRun{
		e:       e,
		program: append([]Action(nil), e.program...),
		gen:     e.generation,
	}
	run.report = &ReplayReport{ID: newEventID(), Steps: len(run.program)}
	run.ctx, run.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.cancelReplay = run.cancel

	// Only the vehicle restarts; the map keeps its state.
	e.phase = PhaseReplaying
	e.vehicle = NewVehicle()
	e.message = ""
	e.emitLocked(Event{Type: EventReplayStarted, ReplayID: run.report.ID})
	e.mu.Unlock()
	return run
}

func (r *replayRun) start() <-chan ReplayResult {
	done := make(chan ReplayResult, 1)
	go func() {
		out, err := r.execute()
		done <- ReplayResult{Outcome: out, Err: err}
	}()
	return done
}

// execute runs the program step by step, releasing the lock between steps
func (r *replayRun) execute() (*Outcome, error) {
	defer r.cancel()
	e := r.e

	for i, a := range r.program {
		e.mu.Lock()
		if e.generation != r.gen {
			out := r.cancelledLocked()
			e.mu.Unlock()
			return out, ErrReplayCancelled
		}
		if err := Apply(e.vehicle, e.world, a); err != nil {
			r.report.FailedStep = i + 1
			r.report.Failure = err
			out := e.abortReplayLocked(r.report, err)
			e.mu.Unlock()
			return out, nil
		}
		r.report.Executed = i + 1
		e.emitLocked(Event{Type: EventReplayStep, Action: a.String(), Step: i + 1, ReplayID: r.report.ID})
		e.mu.Unlock()

		if err := sleepContext(r.ctx, e.stepInterval); err != nil {
			// run.cancel is only reachable through resetLevelLocked
			e.mu.Lock()
			out := r.cancelledLocked()
			e.mu.Unlock()
			return out, ErrReplayCancelled
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != r.gen {
		return r.cancelledLocked(), ErrReplayCancelled
	}
	e.cancelReplay = nil

	if err := ValidateFinish(e.vehicle.Snapshot(), e.world); err != nil {
		r.report.Failure = err
		return e.abortReplayLocked(r.report, err), nil
	}
	return e.completeLevelLocked(Finish, r.report), nil
}

// cancelledLocked reports a replay whose level was already reset by someone else
func (r *replayRun) cancelledLocked() *Outcome {
	r.report.Cancelled = true
	out := r.e.outcomeLocked(Finish, false, nil)
	out.Replay = r.report
	return out
}

func (e *GameEngine) abortReplayLocked(report *ReplayReport, err *MoveError) *Outcome {
	e.emitLocked(Event{Type: EventReplayAborted, Step: report.FailedStep, ReplayID: report.ID, Failure: err, Message: err.Message})
	e.resetLevelLocked()
	e.message = err.Message
	e.emitLocked(Event{Type: EventLevelReset, Message: err.Message})

	out := e.outcomeLocked(Finish, false, err)
	out.Replay = report
	return out
}

func (e *GameEngine) completeLevelLocked(a Action, report *ReplayReport) *Outcome {
	e.completions++
	e.message = ClearMessage
	e.emitLocked(Event{Type: EventLevelComplete, Action: a.String(), Message: ClearMessage})

	e.levelIndex = e.pickLevel()
	e.resetLevelLocked()
	e.message = ClearMessage
	e.emitLocked(Event{Type: EventLevelReset})

	out := e.outcomeLocked(a, true, nil)
	out.LevelComplete = true
	out.Replay = report
	return out
}

func (e *GameEngine) rejectLocked(a Action, err *MoveError) *Outcome {
	e.message = err.Message
	e.emitLocked(Event{Type: EventActionRejected, Action: a.String(), Failure: err, Message: err.Message})
	return e.outcomeLocked(a, false, err)
}

// SetMode switches mode. Switching always starts the current level over.
func (e *GameEngine) SetMode(mode Mode) error {
	if mode != ModeImmediate && mode != ModeProgram {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.interruptLocked()
	e.mode = mode
	e.resetLevelLocked()
	e.message = ""
	e.emitLocked(Event{Type: EventModeChanged})
	return nil
}

// Reset restarts the current level from its initial state
func (e *GameEngine) Reset() *GameState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.interruptLocked()
	e.resetLevelLocked()
	e.message = ""
	e.emitLocked(Event{Type: EventLevelReset})
	return e.stateLocked()
}

// NextLevel picks a fresh level from the pack and starts it
func (e *GameEngine) NextLevel() *GameState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.interruptLocked()
	e.levelIndex = e.pickLevel()
	e.resetLevelLocked()
	e.message = ""
	e.emitLocked(Event{Type: EventLevelReset})
	return e.stateLocked()
}

// LoadPack replaces the level pack and starts a level from it
func (e *GameEngine) LoadPack(pack *LevelPack) error {
	if err := ValidateLevelPack(pack); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.interruptLocked()
	e.pack = pack
	e.levelIndex = e.pickLevel()
	e.resetLevelLocked()
	e.message = ""
	e.emitLocked(Event{Type: EventLevelReset})
	return nil
}

// SetEventSink replaces the event sink
func (e *GameEngine) SetEventSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// GetState returns a copy of the current state
func (e *GameEngine) GetState() *GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// GetHistory returns a copy of the Immediate-mode history
func (e *GameEngine) GetHistory() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}

// GetProgram returns a copy of the recorded program
func (e *GameEngine) GetProgram() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Action(nil), e.program...)
}

// GetMode returns the current mode
func (e *GameEngine) GetMode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// GetPhase returns the current phase
func (e *GameEngine) GetPhase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// IsReplaying reports whether a program is being replayed
func (e *GameEngine) IsReplaying() bool {
	return e.GetPhase() == PhaseReplaying
}

// Completions returns how many levels were cleared on this engine
func (e *GameEngine) Completions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completions
}

// CurrentLevel returns the level record being played
func (e *GameEngine) CurrentLevel() LevelRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pack.Levels[e.levelIndex]
}

// interruptLocked announces a replay that is about to be cut off by a reset
func (e *GameEngine) interruptLocked() {
	if e.phase == PhaseReplaying {
		e.emitLocked(Event{Type: EventReplayCancelled, Message: ErrReplayCancelled.Error()})
	}
}

func (e *GameEngine) resetLevelLocked() {
	if e.cancelReplay != nil {
		e.cancelReplay()
		e.cancelReplay = nil
	}
	e.generation++

	e.vehicle = NewVehicle()
	e.world = NewMap(e.pack.Levels[e.levelIndex])
	e.history = nil
	e.program = nil
	if e.mode == ModeProgram {
		e.phase = PhaseRecording
	} else {
		e.phase = PhaseIdle
	}
}

func (e *GameEngine) pickLevel() int {
	n := len(e.pack.Levels)
	i := e.picker.Pick(n)
	if i < 0 || i >= n {
		return 0
	}
	return i
}

func (e *GameEngine) emitLocked(ev Event) {
	if e.sink == nil {
		return
	}
	ev.ID = newEventID()
	ev.Mode = e.mode
	ev.Phase = e.phase
	ev.Vehicle = e.vehicle.Snapshot()
	ev.Map = e.world.Snapshot()
	ev.HistoryLength = len(e.history)
	ev.ProgramLength = len(e.program)
	ev.Timestamp = time.Now()
	e.sink.Publish(ev)
}

func (e *GameEngine) outcomeLocked(a Action, accepted bool, failure *MoveError) *Outcome {
	return &Outcome{
		Action:        a,
		Accepted:      accepted,
		Failure:       failure,
		Message:       e.message,
		Mode:          e.mode,
		Phase:         e.phase,
		Vehicle:       e.vehicle.Snapshot(),
		Map:           e.world.Snapshot(),
		HistoryLength: len(e.history),
		ProgramLength: len(e.program),
	}
}

func (e *GameEngine) stateLocked() *GameState {
	vehicle := e.vehicle.Snapshot()
	world := e.world.Snapshot()
	state := &GameState{
		Mode:        e.mode,
		Phase:       e.phase,
		Vehicle:     vehicle,
		Map:         world,
		History:     append([]HistoryEntry{}, e.history...),
		Program:     append([]Action{}, e.program...),
		PackName:    e.pack.Name,
		LevelIndex:  e.levelIndex,
		LevelCount:  len(e.pack.Levels),
		Completions: e.completions,
		Message:     e.message,
		Remaining:   e.world.Remaining(),
	}
	if target, ok := NextTarget(vehicle, world); ok {
		state.NextTarget = &target
	}
	return state
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fork returns independent copies of the vehicle and map for planning.
// In program mode the vehicle copy starts where a replay would: at the origin.
func (e *GameEngine) Fork() (*Vehicle, *Map) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeProgram {
		return NewVehicle(), e.world.Clone()
	}
	return e.vehicle.Clone(), e.world.Clone()
}
