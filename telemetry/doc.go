// Package telemetry builds the zerolog logger and Prometheus metrics shared by
// the game service, transports and CLI.
package telemetry
