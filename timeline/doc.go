// Package timeline turns agent activity into persisted timeline events. The
// Emitter owns a dedicated background task queue: publishing is fire-and-
// forget, persistence happens off the caller's path, and every persisted
// event fans out to ancestor agents through a cycle-safe walk of the parent
// graph. The Correlator sits on the producing side: it tracks one operation's
// tool calls, hands out event updaters for their settle transitions, and
// mirrors the lifecycle onto OpenTelemetry spans when a tracer is configured.
package timeline
