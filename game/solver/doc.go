// Package solver searches for the shortest program that clears a level.
//
// The search is breadth-first over (position, heading, carried object,
// delivered set). Candidate steps are checked with the same validators
// engine.Apply runs, so the solver can never produce a program the engine
// would reject. Maps are shared between every state with the same carried
// object and delivered set.
package solver
