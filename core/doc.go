// Package core contains the shared value types and collaborator contracts of
// the agenttrace framework: timeline events, durable history entries, the
// per-invocation OperationContext, and the interfaces through which the
// timeline emitter reaches the agent registry and history stores.
//
// Packages in this module declare their cross-cutting contracts here and keep
// concrete implementations in sibling packages (history, registry, timeline),
// mirroring the accept-interfaces / return-structs convention.
package core
