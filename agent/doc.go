// Package agent implements the model-backed agent that produces execution
// traces: each Run opens an operation with its history entry and root span,
// loops the model against the agent's tools, records every transition through
// the timeline correlator, and can delegate work to registered sub-agents,
// mirroring their lifecycle into the parent's timeline.
package agent
