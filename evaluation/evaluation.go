// Package evaluation scores finished operations asynchronously. Scoring is
// strictly fire-and-forget: it runs off the caller's path and its failures
// are logged, never surfaced, so an agent invocation can never be slowed down
// or failed by its own evaluation.
package evaluation

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// Sample is one finished operation handed to a scorer.
type Sample struct {
	AgentID        string `json:"agent_id"`
	OperationID    string `json:"operation_id"`
	HistoryEntryID string `json:"history_entry_id"`
	Input          any    `json:"input"`
	Output         any    `json:"output"`
}

// Score is a scorer's judgement of a sample.
type Score struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// Scorer judges samples. Implementations may call out to models or services;
// the context bounds that work.
type Scorer interface {
	Name() string
	Evaluate(ctx context.Context, sample Sample) (Score, error)
}

// ScoreSink receives finished scores, e.g. a metrics pipeline or a store.
type ScoreSink func(sample Sample, score Score)

// Dispatcher fans samples out to scorers on background goroutines.
type Dispatcher struct {
	scorers []Scorer
	sink    ScoreSink
	logger  logging.Logger
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Sink receives every successful score. Optional.
	Sink ScoreSink

	Logger logging.Logger
}

// NewDispatcher constructs a Dispatcher over a set of scorers.
func NewDispatcher(scorers []Scorer, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{scorers: scorers, sink: opts.Sink, logger: opts.Logger}
}

// Dispatch schedules every scorer for the sample and returns immediately.
// Scorer errors and panics are logged and isolated from each other.
func (d *Dispatcher) Dispatch(ctx context.Context, sample Sample) {
	for _, scorer := range d.scorers {
		core.Go(d.logger, fmt.Sprintf("evaluation scorer %s", scorer.Name()), func() {
			score, err := scorer.Evaluate(ctx, sample)
			if err != nil {
				d.logger.Warn("evaluation: scorer %s failed for operation %s: %v",
					scorer.Name(), sample.OperationID, err)
				return
			}
			if d.sink != nil {
				d.sink(sample, score)
			}
		})
	}
}
