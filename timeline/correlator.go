package timeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// Metadata keys attached to tool timeline events.
const (
	metadataToolName   = "tool_name"
	metadataToolCallID = "tool_call_id"
)

// CorrelatorOptions configures a Correlator.
type CorrelatorOptions struct {
	// Tracer mirrors the operation onto OpenTelemetry spans. Optional; all
	// span work is skipped when nil.
	Tracer trace.Tracer

	Logger logging.Logger
}

// Correlator drives one agent's operation lifecycle: it opens history entries
// and root spans, records tracked tool events with their updaters and child
// spans keyed by tool-call id, settles them, and closes everything exactly
// once at the terminal transition. Telemetry failures are logged, never
// surfaced: an agent invocation must not fail because its trace did.
type Correlator struct {
	agentID string
	history core.HistoryAccess
	emitter *Emitter
	tracer  trace.Tracer
	logger  logging.Logger
}

// NewCorrelator constructs a Correlator for one agent.
func NewCorrelator(agentID string, history core.HistoryAccess, emitter *Emitter, optFns ...func(o *CorrelatorOptions)) *Correlator {
	opts := CorrelatorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Correlator{
		agentID: agentID,
		history: history,
		emitter: emitter,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
	}
}

// StartOperation opens a new operation: it persists a history entry, creates
// the operation context, starts the root span when a tracer is configured,
// and announces the new entry to subscribers. The returned context carries
// the root span for downstream instrumentation.
func (c *Correlator) StartOperation(ctx context.Context, input any, optFns ...func(o *core.OperationContextOptions)) (context.Context, *core.OperationContext) {
	opts := core.OperationContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	entry := c.history.AddEntry(&core.HistoryEntry{
		Input:                input,
		ParentAgentID:        opts.ParentAgentID,
		ParentHistoryEntryID: opts.ParentHistoryEntryID,
	})
	if entry == nil {
		// The operation proceeds without durable history rather than failing.
		c.logger.Warn("correlator: could not create history entry for agent %s", c.agentID)
		entry = &core.HistoryEntry{ID: core.NewID(), AgentID: c.agentID, Status: core.StatusWorking}
	}

	oc := core.NewOperationContext(entry.ID, optFns...)

	if c.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("agent.id", c.agentID),
			attribute.String("operation.id", oc.OperationID),
			attribute.String("history.entry_id", entry.ID),
		}
		if opts.ParentAgentID != "" {
			attrs = append(attrs, attribute.String("agent.parent_id", opts.ParentAgentID))
		}
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "agent "+c.agentID,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attrs...),
		)
		oc.RootSpan = span
	}

	if c.emitter != nil {
		c.emitter.NotifyHistoryCreated(c.agentID, entry)
	}
	return ctx, oc
}

// ToolStart records a tool invocation: it persists a tool_working event on
// the operation's history entry, registers the matching event updater under
// the tool-call id, opens a child span, and fans the event out to ancestor
// timelines. A no-op on an already finished operation.
func (c *Correlator) ToolStart(oc *core.OperationContext, toolCallID, toolName string, input any) {
	if oc == nil || !oc.IsActive() {
		c.logger.Warn("correlator: ignoring tool start %s on finished operation", toolCallID)
		return
	}

	ev := core.NewTimelineEvent(core.EventToolWorking, core.EventTypeTool, c.traceID(oc))
	ev.Input = input
	ev.Metadata[metadataToolName] = toolName
	ev.Metadata[metadataToolCallID] = toolCallID

	entry := c.history.PersistTimelineEvent(oc.HistoryEntryID, ev)
	if entry == nil {
		c.logger.Warn("correlator: history entry %s gone, dropping tool start %s", oc.HistoryEntryID, toolCallID)
		return
	}

	oc.PutUpdater(toolCallID, &core.EventUpdater{
		AgentID:   c.agentID,
		HistoryID: oc.HistoryEntryID,
		EventName: ev.Name,
		EventID:   ev.ID,
		History:   c.history,
	})

	if c.tracer != nil {
		parent := context.Background()
		if oc.RootSpan != nil {
			parent = trace.ContextWithSpan(parent, oc.RootSpan)
		}
		_, span := c.tracer.Start(parent, "tool "+toolName,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("tool.name", toolName),
				attribute.String("tool.call_id", toolCallID),
			),
		)
		oc.PutToolSpan(toolCallID, span)
	}

	if c.emitter != nil {
		c.emitter.NotifyHistoryUpdated(c.agentID, entry)
		c.emitter.PropagateEvent(c.agentID, ev)
	}
}

// ToolEnd settles a tool invocation: the tracked event gets its terminal
// status and payload, the child span is ended with error annotations when
// applicable. A settle with no matching updater or span (late arrival,
// duplicate, or start never recorded) is logged and ignored.
func (c *Correlator) ToolEnd(oc *core.OperationContext, toolCallID string, output any, toolErr error) {
	if oc == nil || !oc.IsActive() {
		c.logger.Warn("correlator: ignoring tool settle %s on finished operation", toolCallID)
		return
	}

	if updater, ok := oc.TakeUpdater(toolCallID); ok {
		payload := core.UpdatePayload{Status: core.StatusCompleted, Output: output}
		if toolErr != nil {
			payload.Status = core.StatusError
			payload.Error = toolErr.Error()
		}
		if entry, ok := updater.Update(payload); ok {
			if c.emitter != nil {
				c.emitter.NotifyHistoryUpdated(c.agentID, entry)
			}
		} else {
			c.logger.Warn("correlator: history entry %s gone, tool settle %s lost", oc.HistoryEntryID, toolCallID)
		}
	} else {
		c.logger.Warn("correlator: no tracked event for tool settle %s on agent %s", toolCallID, c.agentID)
	}

	if span, ok := oc.TakeToolSpan(toolCallID); ok {
		if toolErr != nil {
			span.RecordError(toolErr)
			span.SetStatus(codes.Error, toolErr.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	} else if c.tracer != nil {
		c.logger.Warn("correlator: no open span for tool settle %s on agent %s", toolCallID, c.agentID)
	}
}

// FinishOperation closes the operation exactly once: remaining updaters are
// cleared, still-open tool spans are ended, the history entry receives its
// final status/output/usage, the root span is annotated and ended, and the
// context is deactivated so late callbacks cannot mutate the entry anymore.
// Returns the refreshed entry, or nil when the operation was already
// finished or the entry is gone.
func (c *Correlator) FinishOperation(oc *core.OperationContext, status string, output any, usage *core.TokenUsage, opErr error) *core.HistoryEntry {
	if oc == nil {
		return nil
	}
	if !oc.Deactivate() {
		c.logger.Warn("correlator: operation %s already finished", oc.OperationID)
		return nil
	}

	if stale := oc.ClearUpdaters(); stale > 0 {
		c.logger.Warn("correlator: %d tool events never settled on operation %s", stale, oc.OperationID)
	}
	for _, span := range oc.PendingToolSpans() {
		span.End()
	}

	entry := c.history.UpdateEntry(oc.HistoryEntryID, core.EntryUpdate{
		Status:  status,
		Output:  output,
		Usage:   usage,
		EndTime: time.Now().UTC(),
	})
	if entry != nil && c.emitter != nil {
		c.emitter.NotifyHistoryUpdated(c.agentID, entry)
	}

	if oc.RootSpan != nil {
		oc.RootSpan.SetAttributes(attribute.String("operation.status", status))
		if opErr != nil {
			oc.RootSpan.RecordError(opErr)
			oc.RootSpan.SetStatus(codes.Error, opErr.Error())
		} else {
			oc.RootSpan.SetStatus(codes.Ok, "")
		}
		oc.RootSpan.End()
	}
	return entry
}

func (c *Correlator) traceID(oc *core.OperationContext) string {
	if oc.RootSpan == nil {
		return ""
	}
	sc := oc.RootSpan.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
