// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. Telemetry code in this module never fails loudly; every
// swallowed error terminates in one of these log calls, so wiring a real
// logger is the main observability knob during development.
package logging
