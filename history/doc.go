// Package history persists the durable operation records of agents: one
// HistoryEntry per operation, each carrying the ordered timeline of events
// recorded while it ran. A Manager scopes a shared Store to a single agent
// and implements the core.HistoryAccess boundary the timeline emitter and
// correlator write through.
package history
