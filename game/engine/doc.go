// Package engine provides the core simulation for the delivery robot puzzle.
//
// A single vehicle drives on a bounded grid. It picks up colored objects at
// their start cells, delivers them to their end cells and must return to the
// origin (0,0) once every object is delivered. A delivered object's end cell
// becomes a permanent obstacle.
//
// Core Types:
//
// Map and Vehicle hold the mutable level state. The validator functions
// (ValidateForward, ValidateRotate, ResolveInteract, ValidateFinish) read
// both and decide whether an action is legal; Apply validates and mutates in
// one step. GameEngine owns one Map and one Vehicle and runs actions in one
// of two modes.
//
// Modes:
//
// In ModeImmediate every action is validated and applied at once. Accepted
// actions are appended to the history; rejected ones change nothing.
//
// In ModeProgram actions are recorded without validation. Finish replays the
// program from a fresh vehicle, pausing between steps. The first failing step
// aborts the replay and restarts the level.
//
// Usage:
//
//	eng, err := engine.NewEngine(pack, engine.WithEventSink(sink))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	out, err := eng.Submit(ctx, engine.Forward)
//	if out.Failure != nil {
//		fmt.Println(out.Failure.Message)
//	}
//
// Events:
//
// Every state change is published to the EventSink with full vehicle and map
// snapshots, so renderers never read engine state directly.
package engine
