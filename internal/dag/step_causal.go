package dag

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/observability"
	"github.com/oriys/squall/internal/resolver"
	"github.com/oriys/squall/internal/runtimemetrics"
	"github.com/oriys/squall/internal/serializer"
)

// StepCausal advances a single causal-mode schedule by one hop.
// Unlike StepNormal, causal steps are never batched: each carries
// its own tightening [t_low, t_high] snapshot interval, and merging two
// requests' intervals would not be sound. A trigger with THigh ==
// domain.UnboundedTHigh marks the first step of the invocation; this step
// pins the interval to the point the resolver's reads settle at, and every
// downstream hop propagates that pinned interval unchanged.
func (e *Engine) StepCausal(ctx context.Context, input StepInput) (StepOutcome, error) {
	sched := input.Schedule

	tLow, tHigh, firstStep := startingInterval(input.Triggers)

	args := buildRequestArgs(sched, input.Triggers)
	refs := extractReferences(args)

	values, newTLow, newTHigh, err := e.Resolver.ResolveCausal(ctx, refs, tLow, tHigh, domain.Multi, sched.ClientID)
	if err != nil {
		if err == resolver.ErrSnapshotCollapse {
			return e.dispatchCausalError(ctx, sched, domain.ExecutionError, err)
		}
		return StepOutcome{}, fmt.Errorf("dag: causal resolve for %q: %w", sched.ID, err)
	}

	pinnedTLow, pinnedTHigh := newTLow, newTHigh
	if firstStep {
		// Pin the snapshot to the point the resolver's reads settled at:
		// every later hop of this invocation observes exactly this instant.
		pinnedTLow, pinnedTHigh = newTHigh, newTHigh
	}

	substituted := substituteReferences(args, values)

	fn, err := e.Functions.Lookup(ctx, sched.TargetFunction)
	if err != nil {
		return e.dispatchCausalError(ctx, sched, domain.FuncNotFound, err)
	}

	node, _ := sched.Dag.Node(sched.TargetFunction)
	lib := NewUserLibrary(e.Resolver.KVS, sched.ClientID, domain.Multi)
	callArgs := append([]any{lib}, substituted...)

	spanCtx, span := observability.StartSpan(ctx, "dag.step_causal",
		observability.AttrScheduleID.String(sched.ID),
		observability.AttrFunctionName.String(node.Name),
		observability.AttrConsistency.String(string(domain.Multi)),
		observability.AttrTLow.Int64(int64(pinnedTLow)),
		observability.AttrTHigh.Int64(int64(pinnedTHigh)),
	)
	start := time.Now()
	result, err := invokeUserFunction(spanCtx, fn, callArgs)
	elapsedMs := time.Since(start).Milliseconds()
	runtimemetrics.Global().RecordStep(node.Name, elapsedMs, err == nil)
	span.SetAttributes(observability.AttrDurationMs.Int64(elapsedMs))
	if err != nil {
		observability.SetSpanError(span, err)
		span.End()
		return e.dispatchCausalError(ctx, sched, domain.ExecutionError, err)
	}
	observability.SetSpanOK(span)
	span.End()

	return e.routeCausalResult(ctx, node, sched, result, pinnedTLow, pinnedTHigh)
}

// startingInterval derives the incoming snapshot interval from the
// triggers feeding this step: a fresh invocation (no triggers, or a
// trigger still carrying the unbounded sentinel) starts unpinned from
// t_low=0; everything else inherits the tightest interval its
// predecessors already agreed on.
func startingInterval(triggers []domain.DagTrigger) (tLow, tHigh uint64, firstStep bool) {
	if len(triggers) == 0 {
		return 0, domain.UnboundedTHigh, true
	}
	tLow = triggers[0].TLow
	tHigh = triggers[0].THigh
	for _, t := range triggers[1:] {
		if t.TLow > tLow {
			tLow = t.TLow
		}
		if t.THigh < tHigh {
			tHigh = t.THigh
		}
	}
	return tLow, tHigh, tHigh == domain.UnboundedTHigh
}

// routeCausalResult applies the same MULTIEXEC and sink/fanout routing as
// the normal path, but dispatches through sink.Dispatcher.DispatchCausal
// and threads the (possibly newly pinned) snapshot interval onto every
// outgoing trigger instead of batching a shared KVS put.
func (e *Engine) routeCausalResult(ctx context.Context, node domain.FunctionNode, sched domain.Schedule, result any, tLow, tHigh uint64) (StepOutcome, error) {
	outcome, sinkResult, err := e.routeResultCausal(ctx, node, sched, result, tLow, tHigh)
	if err != nil {
		return outcome, err
	}
	if sinkResult != nil {
		if err := e.Sink.DispatchCausal(ctx, sched, sinkResult.value); err != nil {
			return StepOutcome{ScheduleID: sched.ID, Success: false, Err: err}, fmt.Errorf("dag: causal sink dispatch for %q: %w", sched.ID, err)
		}
	}
	return outcome, nil
}

type causalSinkValue struct{ value any }

func (e *Engine) routeResultCausal(ctx context.Context, node domain.FunctionNode, sched domain.Schedule, result any, tLow, tHigh uint64) (StepOutcome, *causalSinkValue, error) {
	if node.Type == domain.NodeMultiExec {
		serialized, serr := serializer.Serialize(result)
		if serr == nil && node.IsInvalidResult(serialized) {
			runtimemetrics.Global().RecordMultiExecAbort(node.Name)
			return StepOutcome{ScheduleID: sched.ID, Success: false}, nil, nil
		}
	}

	conns := sched.Dag.OutgoingConnections(node.Name)
	if len(conns) == 0 {
		return StepOutcome{ScheduleID: sched.ID, Success: true, IsSink: true}, &causalSinkValue{value: result}, nil
	}

	flattened := flattenTupleArg(result)
	tc := observability.ExtractTraceContext(ctx)
	for _, conn := range conns {
		trig := domain.DagTrigger{
			ID:             sched.ID,
			Source:         node.Name,
			TargetFunction: conn.Sink,
			Arguments:      flattened,
			TLow:           tLow,
			THigh:          tHigh,
			TraceParent:    tc.TraceParent,
			TraceState:     tc.TraceState,
		}
		e.Pusher.Push(ctx, sched.Locations[conn.Sink], trig)
	}
	return StepOutcome{ScheduleID: sched.ID, Success: true, IsSink: false}, nil, nil
}

// dispatchCausalError routes a terminal causal-mode failure through the
// same causal_put path a successful result takes.
func (e *Engine) dispatchCausalError(ctx context.Context, sched domain.Schedule, code domain.ErrorCode, cause error) (StepOutcome, error) {
	be := domain.NewBoundaryError(code, cause)
	if err := e.Sink.DispatchCausal(ctx, sched, be); err != nil {
		return StepOutcome{ScheduleID: sched.ID, Success: false, Err: cause}, fmt.Errorf("dag: causal error dispatch for %q: %w", sched.ID, err)
	}
	return StepOutcome{ScheduleID: sched.ID, Success: false, Err: cause}, nil
}
